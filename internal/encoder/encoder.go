// Package encoder writes rendered frames to disk. Codec work is out of
// scope for the core: the raw-video encoder stores frames exactly as the
// device produced them, in a single container file written atomically.
package encoder

import (
	"errors"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/render"
)

// ErrEncoderFailure wraps container-level write failures.
var ErrEncoderFailure = errors.New("encoder failure")

// FrameEncoder receives frames in presentation order. Implementations are
// not safe for concurrent use; a render worker appends frames sequentially.
type FrameEncoder interface {
	// AppendFrame writes one frame with its presentation timestamp. Frames
	// must match the dimensions and format the encoder was opened with.
	AppendFrame(tex *gpu.Texture, pts render.Rational) error

	// Finalize flushes, fsyncs, and atomically publishes the output file.
	// No partial file is ever visible at the output path.
	Finalize() error

	// Abort discards everything written so far, removing any temporary
	// file. Safe to call after Finalize, where it is a no-op.
	Abort() error
}
