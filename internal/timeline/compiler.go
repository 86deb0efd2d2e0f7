package timeline

import (
	"fmt"
	"sync"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/render"
)

// Compiler turns a segment descriptor into a render graph. Implementations
// must be deterministic: equal segments produce structurally equal graphs.
type Compiler interface {
	Compile(seg *SegmentDescriptor) (*render.Graph, error)
}

// BasicCompiler compiles a segment into a linear chain: one source node
// feeding the effects in order. The terminal node carries the delivery
// format so renders can request a non-float terminal. Mask effects get a
// dedicated quarter-resolution mask source wired to their mask port.
type BasicCompiler struct {
	// TerminalFormat is the pixel format the root node requests.
	// Defaults to BGRA8, the delivery order encoders expect.
	TerminalFormat gpu.PixelFormat
}

// NewBasicCompiler returns a compiler producing BGRA8 terminals.
func NewBasicCompiler() *BasicCompiler {
	return &BasicCompiler{TerminalFormat: gpu.PixelFormatBGRA8}
}

// Compile implements Compiler.
func (c *BasicCompiler) Compile(seg *SegmentDescriptor) (*render.Graph, error) {
	if seg.ID == "" {
		return nil, fmt.Errorf("segment id is required")
	}

	graph := &render.Graph{}
	sourceParams := map[string]any{}
	if seg.AssetID != "" {
		sourceParams["asset_id"] = seg.AssetID
	} else if len(seg.Color) > 0 {
		sourceParams["color"] = seg.Color
	}

	timing := seg.Timing
	prev := render.NodeID("n000_source")
	graph.Nodes = append(graph.Nodes, render.Node{
		ID:         prev,
		Name:       "source",
		Shader:     "source",
		Parameters: sourceParams,
		Timing:     &timing,
	})

	for i, effect := range seg.Effects {
		id := render.NodeID(fmt.Sprintf("n%03d_%s", i+1, effect.Kind))
		node := render.Node{
			ID:         id,
			Name:       effect.Kind,
			Shader:     render.KernelName(effect.Kind),
			Inputs:     map[string]render.NodeID{"src": prev},
			Parameters: effect.Params,
			Timing:     &timing,
		}
		if effect.Kind == "blend" {
			node.Inputs = map[string]render.NodeID{"base": prev}
			overlayID, overlay, err := c.overlayNode(i, effect)
			if err != nil {
				return nil, err
			}
			graph.Nodes = append(graph.Nodes, overlay)
			node.Inputs["overlay"] = overlayID
		}
		if effect.Kind == "mask_apply" {
			maskID, mask, err := c.maskNode(i, effect)
			if err != nil {
				return nil, err
			}
			graph.Nodes = append(graph.Nodes, mask)
			node.Inputs["mask"] = maskID
		}
		graph.Nodes = append(graph.Nodes, node)
		prev = id
	}

	// The root node owns the delivery contract.
	root := graph.NodeByID(prev)
	root.Output = &render.OutputSpec{
		Resolution:  render.ResolutionFull,
		PixelFormat: c.TerminalFormat,
	}
	graph.Root = prev

	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("compiled segment %q: %w", seg.ID, err)
	}
	return graph, nil
}

// overlayNode builds the source node a blend effect composites on top of
// the chain. The overlay is referenced by overlay_asset_id or overlay_color.
func (c *BasicCompiler) overlayNode(index int, effect EffectSpec) (render.NodeID, render.Node, error) {
	id := render.NodeID(fmt.Sprintf("n%03d_overlay", index+1))
	params := map[string]any{}
	if assetID, ok := effect.Params["overlay_asset_id"].(string); ok && assetID != "" {
		params["asset_id"] = assetID
	} else if color, ok := effect.Params["overlay_color"]; ok {
		params["color"] = color
	} else {
		return "", render.Node{}, fmt.Errorf("blend effect needs overlay_asset_id or overlay_color")
	}
	return id, render.Node{
		ID:         id,
		Name:       "overlay_source",
		Shader:     "source",
		Parameters: params,
	}, nil
}

// maskNode builds the quarter-resolution source feeding a mask port. Mask
// edges are sampled in normalized coordinates downstream, so the reduced
// resolution is free: the executor never inserts an adapter on mask ports.
func (c *BasicCompiler) maskNode(index int, effect EffectSpec) (render.NodeID, render.Node, error) {
	assetID, ok := effect.Params["mask_asset_id"].(string)
	if !ok || assetID == "" {
		return "", render.Node{}, fmt.Errorf("mask_apply effect needs mask_asset_id")
	}
	id := render.NodeID(fmt.Sprintf("n%03d_mask", index+1))
	return id, render.Node{
		ID:         id,
		Name:       "mask_source",
		Shader:     "source",
		Parameters: map[string]any{"asset_id": assetID},
		Output: &render.OutputSpec{
			Resolution:  render.ResolutionQuarter,
			PixelFormat: gpu.PixelFormatRGBA16F,
		},
	}, nil
}

// GraphCache memoizes compiled graphs per segment id, invalidated when the
// segment's signature changes. Safe for concurrent use.
type GraphCache struct {
	compiler Compiler

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	signature string
	graph     *render.Graph
}

// NewGraphCache wraps a compiler with signature-keyed memoization.
func NewGraphCache(compiler Compiler) *GraphCache {
	return &GraphCache{compiler: compiler, entries: make(map[string]cacheEntry)}
}

// Get returns the compiled graph for the segment, recompiling only when the
// segment's signature has changed since the last call.
func (c *GraphCache) Get(seg *SegmentDescriptor) (*render.Graph, error) {
	sig := seg.Signature()

	c.mu.Lock()
	if entry, ok := c.entries[seg.ID]; ok && entry.signature == sig {
		graph := entry.graph
		c.mu.Unlock()
		return graph, nil
	}
	c.mu.Unlock()

	graph, err := c.compiler.Compile(seg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[seg.ID] = cacheEntry{signature: sig, graph: graph}
	c.mu.Unlock()
	return graph, nil
}
