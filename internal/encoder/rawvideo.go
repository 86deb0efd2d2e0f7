package encoder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/render"
)

// rawMagic identifies the raw-video container format.
var rawMagic = [8]byte{'M', 'V', 'R', 'A', 'W', '0', '0', '1'}

// RawVideoEncoder writes frames into a single raw container file. The file
// is produced atomically: all bytes go to <path>.tmp, which is fsync'd and
// renamed onto the target path on Finalize. No other files are created.
type RawVideoEncoder struct {
	path      string
	tmpPath   string
	file      *os.File
	buf       *bufio.Writer
	width     uint32
	height    uint32
	format    gpu.PixelFormat
	frames    uint64
	finalized bool
	aborted   bool
}

// NewRawVideo opens an encoder for the target path.
func NewRawVideo(path string, width, height uint32, format gpu.PixelFormat, fps uint32) (*RawVideoEncoder, error) {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrEncoderFailure, tmpPath, err)
	}
	e := &RawVideoEncoder{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		buf:     bufio.NewWriterSize(file, 1<<20),
		width:   width,
		height:  height,
		format:  format,
	}
	if err := e.writeHeader(fps); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}
	return e, nil
}

func (e *RawVideoEncoder) writeHeader(fps uint32) error {
	if _, err := e.buf.Write(rawMagic[:]); err != nil {
		return fmt.Errorf("%w: write header: %v", ErrEncoderFailure, err)
	}
	var formatName [16]byte
	copy(formatName[:], e.format)
	fields := []interface{}{e.width, e.height, fps, formatName}
	for _, f := range fields {
		if err := binary.Write(e.buf, binary.BigEndian, f); err != nil {
			return fmt.Errorf("%w: write header: %v", ErrEncoderFailure, err)
		}
	}
	return nil
}

// AppendFrame implements FrameEncoder.
func (e *RawVideoEncoder) AppendFrame(tex *gpu.Texture, pts render.Rational) error {
	if e.finalized || e.aborted {
		return fmt.Errorf("%w: append after close", ErrEncoderFailure)
	}
	if tex.Width() != e.width || tex.Height() != e.height || tex.Format() != e.format {
		return fmt.Errorf("%w: frame %dx%d %s does not match stream %dx%d %s",
			ErrEncoderFailure, tex.Width(), tex.Height(), tex.Format(), e.width, e.height, e.format)
	}
	if err := binary.Write(e.buf, binary.BigEndian, pts.Num); err != nil {
		return fmt.Errorf("%w: write pts: %v", ErrEncoderFailure, err)
	}
	if err := binary.Write(e.buf, binary.BigEndian, pts.Den); err != nil {
		return fmt.Errorf("%w: write pts: %v", ErrEncoderFailure, err)
	}
	if _, err := e.buf.Write(tex.Bytes()); err != nil {
		return fmt.Errorf("%w: write frame: %v", ErrEncoderFailure, err)
	}
	e.frames++
	return nil
}

// Frames returns how many frames have been appended.
func (e *RawVideoEncoder) Frames() uint64 { return e.frames }

// Finalize implements FrameEncoder: flush, fsync, rename.
func (e *RawVideoEncoder) Finalize() error {
	if e.finalized || e.aborted {
		return nil
	}
	e.finalized = true
	if err := e.buf.Flush(); err != nil {
		_ = e.file.Close()
		_ = os.Remove(e.tmpPath)
		return fmt.Errorf("%w: flush: %v", ErrEncoderFailure, err)
	}
	if err := e.file.Sync(); err != nil {
		_ = e.file.Close()
		_ = os.Remove(e.tmpPath)
		return fmt.Errorf("%w: fsync: %v", ErrEncoderFailure, err)
	}
	if err := e.file.Close(); err != nil {
		_ = os.Remove(e.tmpPath)
		return fmt.Errorf("%w: close: %v", ErrEncoderFailure, err)
	}
	if err := os.Rename(e.tmpPath, e.path); err != nil {
		_ = os.Remove(e.tmpPath)
		return fmt.Errorf("%w: rename: %v", ErrEncoderFailure, err)
	}
	return nil
}

// Abort implements FrameEncoder: drop the temporary file.
func (e *RawVideoEncoder) Abort() error {
	if e.finalized || e.aborted {
		return nil
	}
	e.aborted = true
	_ = e.file.Close()
	if err := os.Remove(e.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", ErrEncoderFailure, e.tmpPath, err)
	}
	return nil
}
