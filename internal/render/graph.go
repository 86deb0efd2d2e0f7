// Package render holds the render graph data model and the graph executor:
// a DAG of compute passes executed in a deterministic topological order, with
// texture lifetimes managed through the texture pool and size/format
// mismatches reconciled by adapter kernels under a request-level edge policy.
package render

import (
	"fmt"

	"github.com/kaw393939/metavis/internal/gpu"
)

// NodeID identifies a node within one graph.
type NodeID string

// KernelName names a registered compute kernel.
type KernelName string

// Resolution is the tier a node's output size derives from.
type Resolution string

const (
	ResolutionFull    Resolution = "full"
	ResolutionHalf    Resolution = "half"
	ResolutionQuarter Resolution = "quarter"
	ResolutionFixed   Resolution = "fixed"
)

// EdgePolicy governs how mismatched input/output sizes are reconciled.
type EdgePolicy string

const (
	// RequireExplicitAdapters never resizes; mismatches are reported and the
	// downstream kernel is responsible.
	RequireExplicitAdapters EdgePolicy = "require_explicit_adapters"
	// AutoResizeBilinear inserts a bilinear resize adapter on mismatched edges.
	AutoResizeBilinear EdgePolicy = "auto_resize_bilinear"
	// AutoResizeBicubic inserts a bicubic (B-spline) resize adapter.
	AutoResizeBicubic EdgePolicy = "auto_resize_bicubic"
)

// Quality selects the asset tier a render samples from.
type Quality string

const (
	QualityFull  Quality = "full"
	QualityProxy Quality = "proxy"
)

// maskPorts are input ports sampled in normalized coordinates by downstream
// kernels. Resizing them would alter alignment and energy, so adapters are
// never inserted on these edges.
var maskPorts = map[string]bool{
	"mask":      true,
	"face_mask": true,
}

// IsMaskPort reports whether the port name is exempt from adaptation.
func IsMaskPort(port string) bool { return maskPorts[port] }

// OutputSpec declares a node's output contract: the resolution tier and the
// pixel format it wants its output allocated with.
type OutputSpec struct {
	Resolution  Resolution      `json:"resolution" yaml:"resolution"`
	PixelFormat gpu.PixelFormat `json:"pixel_format" yaml:"pixel_format"`
	FixedWidth  uint32          `json:"fixed_width,omitempty" yaml:"fixed_width,omitempty"`
	FixedHeight uint32          `json:"fixed_height,omitempty" yaml:"fixed_height,omitempty"`
}

// TimeRange bounds a node's activity on the timeline.
type TimeRange struct {
	Start Rational `json:"start" yaml:"start"`
	End   Rational `json:"end" yaml:"end"`
}

// Contains reports whether t falls within the range [Start, End).
func (r TimeRange) Contains(t Rational) bool {
	return !t.Less(r.Start) && t.Less(r.End)
}

// Node is one compute pass in a render graph. Inputs maps the kernel's port
// names to upstream node ids. Parameters are serialized with the graph and
// handed to the kernel verbatim.
type Node struct {
	ID         NodeID            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Shader     KernelName        `json:"shader" yaml:"shader"`
	Inputs     map[string]NodeID `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Parameters map[string]any    `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Output     *OutputSpec       `json:"output,omitempty" yaml:"output,omitempty"`
	Timing     *TimeRange        `json:"timing,omitempty" yaml:"timing,omitempty"`
}

// Graph is an immutable DAG of render nodes. The root's output is the frame
// returned to the caller. Graphs are built per frame or per cached segment
// and are never mutated by the executor.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Root  NodeID `json:"root" yaml:"root"`
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id NodeID) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Validate checks structural invariants: the root exists, every input
// references an existing node, and the graph is acyclic.
func (g *Graph) Validate() error {
	if g.NodeByID(g.Root) == nil {
		return fmt.Errorf("%w: root node %q not found", ErrInvalidGraph, g.Root)
	}
	seen := make(map[NodeID]bool, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, n.ID)
		}
		seen[n.ID] = true
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		for port, upstream := range n.Inputs {
			if !seen[upstream] {
				return fmt.Errorf("%w: node %q port %q references unknown node %q",
					ErrInvalidGraph, n.ID, port, upstream)
			}
		}
	}
	if _, err := TopoSort(g); err != nil {
		return err
	}
	return nil
}

// Request describes one frame execution: the graph, the evaluation time, the
// base output size every resolution tier derives from, and the policies the
// executor applies to edges and the terminal format.
type Request struct {
	Graph                 *Graph
	Time                  Rational
	BaseWidth             uint32
	BaseHeight            uint32
	Quality               Quality
	EdgePolicy            EdgePolicy
	AllowNonFloatTerminal bool
}

// ResolveOutputSize computes the node's output dimensions from the request's
// base size. Never returns a zero dimension.
func ResolveOutputSize(node *Node, baseW, baseH uint32) (uint32, uint32) {
	res := ResolutionFull
	if node.Output != nil {
		res = node.Output.Resolution
	}
	switch res {
	case ResolutionHalf:
		return max1(baseW / 2), max1(baseH / 2)
	case ResolutionQuarter:
		return max1(baseW / 4), max1(baseH / 4)
	case ResolutionFixed:
		w, h := baseW, baseH
		if node.Output.FixedWidth != 0 {
			w = node.Output.FixedWidth
		}
		if node.Output.FixedHeight != 0 {
			h = node.Output.FixedHeight
		}
		return max1(w), max1(h)
	default:
		return max1(baseW), max1(baseH)
	}
}

// ResolveOutputPixelFormat returns the format the node requested, defaulting
// to RGBA16F when no output spec is present.
func ResolveOutputPixelFormat(node *Node) gpu.PixelFormat {
	if node.Output == nil || node.Output.PixelFormat == "" {
		return gpu.PixelFormatRGBA16F
	}
	return node.Output.PixelFormat
}

func max1(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	return v
}
