package worker

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/kaw393939/metavis/internal/timeline"
)

// PayloadVersion is the current envelope version. Decoders accept only
// versions they know; the version is checked before the body is touched.
const PayloadVersion = 1

// Envelope is the versioned, self-describing wrapper around every job
// payload. The queue never looks inside; workers decode their own bodies.
type Envelope struct {
	Version int             `cbor:"v"`
	Kind    string          `cbor:"kind"`
	Body    cbor.RawMessage `cbor:"body"`
}

// EncodePayload wraps a payload body in a versioned envelope.
func EncodePayload(kind string, body any) ([]byte, error) {
	raw, err := cbor.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload body: %w", kind, err)
	}
	data, err := cbor.Marshal(Envelope{Version: PayloadVersion, Kind: kind, Body: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s payload envelope: %w", kind, err)
	}
	return data, nil
}

// DecodePayload unwraps an envelope into out, verifying the version and the
// expected kind.
func DecodePayload(data []byte, wantKind string, out any) error {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode payload envelope: %w", err)
	}
	if env.Version != PayloadVersion {
		return fmt.Errorf("unsupported payload version %d", env.Version)
	}
	if env.Kind != wantKind {
		return fmt.Errorf("payload kind %q, expected %q", env.Kind, wantKind)
	}
	if err := cbor.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("decode %s payload body: %w", env.Kind, err)
	}
	return nil
}

// EncodeResult serializes a worker result blob.
func EncodeResult(result any) ([]byte, error) {
	data, err := cbor.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

// DecodeResult deserializes a worker result blob.
func DecodeResult(data []byte, out any) error {
	if err := cbor.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// RenderPayload drives a render worker: a timeline fragment, the delivery
// path, and the frame geometry.
type RenderPayload struct {
	Segment    timeline.SegmentDescriptor `cbor:"segment"`
	OutputPath string                     `cbor:"output_path"`
	FrameCount int                        `cbor:"frame_count"`
	FPS        int                        `cbor:"fps"`
	Width      uint32                     `cbor:"width"`
	Height     uint32                     `cbor:"height"`
	Quality    string                     `cbor:"quality,omitempty"`
	EdgePolicy string                     `cbor:"edge_policy,omitempty"`
}

// RenderResult is the render worker's result blob.
type RenderResult struct {
	FramesWritten int    `cbor:"frames_written"`
	OutputPath    string `cbor:"output_path"`
	SHA256        string `cbor:"sha256"`
	Warnings      int    `cbor:"warnings"`
}

// IngestPayload names the asset to probe.
type IngestPayload struct {
	AssetID string `cbor:"asset_id"`
}

// IngestResult reports what ingest learned about the asset.
type IngestResult struct {
	AssetID string `cbor:"asset_id"`
	Width   uint32 `cbor:"width"`
	Height  uint32 `cbor:"height"`
	Bytes   int64  `cbor:"bytes"`
	SHA256  string `cbor:"sha256"`
}

// AnalysisPayload drives per-frame statistics over a segment.
type AnalysisPayload struct {
	Segment    timeline.SegmentDescriptor `cbor:"segment"`
	FrameCount int                        `cbor:"frame_count"`
	FPS        int                        `cbor:"fps"`
	Width      uint32                     `cbor:"width"`
	Height     uint32                     `cbor:"height"`
}

// FrameStats is one frame's luma statistics.
type FrameStats struct {
	Index    int     `cbor:"index"`
	MeanLuma float64 `cbor:"mean_luma"`
	MinLuma  float64 `cbor:"min_luma"`
	MaxLuma  float64 `cbor:"max_luma"`
}

// AnalysisResult is the analysis worker's result blob.
type AnalysisResult struct {
	Frames []FrameStats `cbor:"frames"`
}

// GeneratePayload renders one preview frame of a segment.
type GeneratePayload struct {
	Segment timeline.SegmentDescriptor `cbor:"segment"`
	Frame   int                        `cbor:"frame"`
	FPS     int                        `cbor:"fps"`
	Width   uint32                     `cbor:"width"`
	Height  uint32                     `cbor:"height"`
}

// GenerateResult carries the preview frame inline.
type GenerateResult struct {
	Width  uint32 `cbor:"width"`
	Height uint32 `cbor:"height"`
	Format string `cbor:"format"`
	Frame  []byte `cbor:"frame"`
}

// ExportPayload finalizes a rendered intermediate into its delivery path.
type ExportPayload struct {
	SourcePath   string `cbor:"source_path"`
	DeliveryPath string `cbor:"delivery_path"`
	SHA256       string `cbor:"sha256,omitempty"`
}

// ExportResult reports the published delivery file.
type ExportResult struct {
	DeliveryPath string `cbor:"delivery_path"`
	Bytes        int64  `cbor:"bytes"`
	SHA256       string `cbor:"sha256"`
}
