// Package timeline compiles timeline segment descriptors into render
// graphs. The executor consumes graphs only; everything domain-semantic
// (effect ordering, asset wiring, mask routing) happens here.
package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/kaw393939/metavis/internal/render"
)

// EffectSpec is one effect in a segment's chain. Kind names a registered
// kernel; Params are passed through to the kernel verbatim.
type EffectSpec struct {
	Kind   string         `json:"kind" yaml:"kind"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// SegmentDescriptor is the compilable content of one timeline segment: a
// source, an ordered effects chain, and the time range the segment covers.
type SegmentDescriptor struct {
	ID      string           `json:"id" yaml:"id"`
	AssetID string           `json:"asset_id,omitempty" yaml:"asset_id,omitempty"`
	Color   []float64        `json:"color,omitempty" yaml:"color,omitempty"`
	Effects []EffectSpec     `json:"effects,omitempty" yaml:"effects,omitempty"`
	Timing  render.TimeRange `json:"timing" yaml:"timing"`
}

// Signature returns a stable hash of the segment's compilable content.
// Two segments with equal signatures compile to identical graphs, so the
// signature keys the compiled-graph cache.
func (s *SegmentDescriptor) Signature() string {
	h := sha256.New()
	fmt.Fprintf(h, "id=%s;asset=%s;color=%v;", s.ID, s.AssetID, s.Color)
	fmt.Fprintf(h, "timing=%s..%s;", s.Timing.Start, s.Timing.End)
	for i, effect := range s.Effects {
		fmt.Fprintf(h, "effect[%d]=%s{", i, effect.Kind)
		keys := make([]string, 0, len(effect.Params))
		for k := range effect.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%v,", k, effect.Params[k])
		}
		fmt.Fprint(h, "};")
	}
	return hex.EncodeToString(h.Sum(nil))
}
