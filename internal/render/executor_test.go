package render

import (
	"context"
	"testing"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/gpu/pool"
	"github.com/kaw393939/metavis/internal/render/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fill writes a deterministic gradient so tests can compare frame contents.
func fill(d *kernels.Dispatch) error {
	out := d.Output
	w, h := int(out.Width()), int(out.Height())
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, [4]float32{
				float32(x%16) / 16,
				float32(y%16) / 16,
				float32(kernels.ParamFloat(d.Params, "tint", 0)),
				1,
			})
		}
	}
	return nil
}

func newTestExecutor(t *testing.T, budget uint64) (*Executor, *pool.Pool, *kernels.Registry) {
	t.Helper()
	device := gpu.NewSoftwareDevice()
	texPool := pool.New(device, budget)
	registry := kernels.NewBuiltinRegistry()
	registry.Register("fill", fill)
	return NewExecutor(texPool, registry, nil), texPool, registry
}

func warningsOfKind(warnings []Warning, kind WarningKind) []Warning {
	var out []Warning
	for _, w := range warnings {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}

func TestExecuteHalfResolutionBranchAutoResize(t *testing.T) {
	// A(Full) and B(Half) both feed C(Full). Only the B edge mismatches, so
	// exactly one bilinear resize runs and one auto_resize warning is
	// emitted.
	exec, texPool, registry := newTestExecutor(t, 1<<30)

	resizes := 0
	registry.Register(kernels.AdapterResizeBilinear, func(d *kernels.Dispatch) error {
		resizes++
		return kernels.ResizeBilinearRGBA16F(d)
	})

	// B is itself a downscale pass (an adapter kernel), so its full-size
	// input binds directly; only B's half-size output into C is adapted.
	g := &Graph{
		Nodes: []Node{
			{ID: "a", Shader: "fill", Output: &OutputSpec{Resolution: ResolutionFull, PixelFormat: gpu.PixelFormatRGBA16F}},
			{ID: "b", Shader: kernels.AdapterResizeBicubic, Inputs: map[string]NodeID{"src": "a"}, Output: &OutputSpec{Resolution: ResolutionHalf, PixelFormat: gpu.PixelFormatRGBA16F}},
			{ID: "c", Shader: "fill", Inputs: map[string]NodeID{"base": "a", "detail": "b"}, Output: &OutputSpec{Resolution: ResolutionFull, PixelFormat: gpu.PixelFormatRGBA16F}},
		},
		Root: "c",
	}
	root, warnings, err := exec.Execute(context.Background(), &Request{
		Graph:      g,
		BaseWidth:  1920,
		BaseHeight: 1080,
		EdgePolicy: AutoResizeBilinear,
	})
	require.NoError(t, err)
	defer root.Release()

	assert.Equal(t, uint32(1920), root.Texture().Width())
	assert.Equal(t, uint32(1080), root.Texture().Height())
	assert.Equal(t, 1, resizes, "only the half-resolution edge is adapted")

	autoResizes := warningsOfKind(warnings, WarnAutoResize)
	require.Len(t, autoResizes, 1)
	assert.Equal(t, NodeID("c"), autoResizes[0].Node)
	assert.Equal(t, "detail", autoResizes[0].Port)
	assert.Equal(t, uint32(960), autoResizes[0].InWidth)
	assert.Equal(t, uint32(540), autoResizes[0].InHeight)
	assert.Equal(t, uint32(1920), autoResizes[0].NodeWidth)

	assert.Empty(t, warningsOfKind(warnings, WarnSizeMismatch))

	// Everything but the root went back to the pool.
	assert.Greater(t, texPool.Stats().PooledCount, 0)
}

func TestExecuteMaskEdgeNotResized(t *testing.T) {
	exec, _, registry := newTestExecutor(t, 1<<30)

	resizes := 0
	registry.Register(kernels.AdapterResizeBilinear, func(d *kernels.Dispatch) error {
		resizes++
		return kernels.ResizeBilinearRGBA16F(d)
	})

	g := &Graph{
		Nodes: []Node{
			{ID: "a", Shader: "fill", Output: &OutputSpec{Resolution: ResolutionFull, PixelFormat: gpu.PixelFormatRGBA16F}},
			{ID: "m", Shader: "fill", Output: &OutputSpec{Resolution: ResolutionQuarter, PixelFormat: gpu.PixelFormatRGBA16F}},
			{ID: "b", Shader: "mask_apply", Inputs: map[string]NodeID{"src": "a", "mask": "m"}, Output: &OutputSpec{Resolution: ResolutionFull, PixelFormat: gpu.PixelFormatRGBA16F}},
		},
		Root: "b",
	}
	root, warnings, err := exec.Execute(context.Background(), &Request{
		Graph:      g,
		BaseWidth:  640,
		BaseHeight: 360,
		EdgePolicy: AutoResizeBilinear,
	})
	require.NoError(t, err)
	defer root.Release()

	assert.Zero(t, resizes, "mask edges are never adapted")
	assert.Empty(t, warningsOfKind(warnings, WarnAutoResize))
	assert.Empty(t, warningsOfKind(warnings, WarnSizeMismatch))
}

func TestExecuteNonFloatIntermediateOverridden(t *testing.T) {
	exec, _, _ := newTestExecutor(t, 1<<30)

	g := &Graph{
		Nodes: []Node{
			{ID: "a", Shader: "fill", Output: &OutputSpec{Resolution: ResolutionFull, PixelFormat: gpu.PixelFormatBGRA8}},
			{ID: "b", Shader: "fill", Inputs: map[string]NodeID{"src": "a"}, Output: &OutputSpec{Resolution: ResolutionFull, PixelFormat: gpu.PixelFormatRGBA16F}},
		},
		Root: "b",
	}
	root, warnings, err := exec.Execute(context.Background(), &Request{
		Graph:      g,
		BaseWidth:  320,
		BaseHeight: 180,
		EdgePolicy: AutoResizeBilinear,
	})
	require.NoError(t, err)
	defer root.Release()

	overrides := warningsOfKind(warnings, WarnOutputFormatOverride)
	require.Len(t, overrides, 1)
	assert.Equal(t, NodeID("a"), overrides[0].Node)
	assert.Equal(t, string(gpu.PixelFormatBGRA8), overrides[0].Requested)
	assert.Equal(t, string(gpu.PixelFormatRGBA16F), overrides[0].Using)
}

func TestExecuteNonFloatTerminal(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			{ID: "a", Shader: "fill", Output: &OutputSpec{Resolution: ResolutionFull, PixelFormat: gpu.PixelFormatBGRA8}},
		},
		Root: "a",
	}

	t.Run("allowed", func(t *testing.T) {
		exec, _, _ := newTestExecutor(t, 1<<30)
		root, warnings, err := exec.Execute(context.Background(), &Request{
			Graph:                 g,
			BaseWidth:             320,
			BaseHeight:            180,
			EdgePolicy:            AutoResizeBilinear,
			AllowNonFloatTerminal: true,
		})
		require.NoError(t, err)
		defer root.Release()
		assert.Equal(t, gpu.PixelFormatBGRA8, root.Texture().Format())
		assert.Empty(t, warningsOfKind(warnings, WarnOutputFormatOverride))
	})

	t.Run("disallowed widens to float", func(t *testing.T) {
		exec, _, _ := newTestExecutor(t, 1<<30)
		root, warnings, err := exec.Execute(context.Background(), &Request{
			Graph:      g,
			BaseWidth:  320,
			BaseHeight: 180,
			EdgePolicy: AutoResizeBilinear,
		})
		require.NoError(t, err)
		defer root.Release()
		assert.Equal(t, gpu.PixelFormatRGBA16F, root.Texture().Format())
		assert.Len(t, warningsOfKind(warnings, WarnOutputFormatOverride), 1)
	})
}

func TestExecuteRequireExplicitAdapters(t *testing.T) {
	exec, _, registry := newTestExecutor(t, 1<<30)

	resizes := 0
	registry.Register(kernels.AdapterResizeBilinear, func(d *kernels.Dispatch) error {
		resizes++
		return kernels.ResizeBilinearRGBA16F(d)
	})

	g := &Graph{
		Nodes: []Node{
			{ID: "a", Shader: "fill", Output: &OutputSpec{Resolution: ResolutionHalf, PixelFormat: gpu.PixelFormatRGBA16F}},
			{ID: "b", Shader: "fill", Inputs: map[string]NodeID{"src": "a"}, Output: &OutputSpec{Resolution: ResolutionFull, PixelFormat: gpu.PixelFormatRGBA16F}},
		},
		Root: "b",
	}
	root, warnings, err := exec.Execute(context.Background(), &Request{
		Graph:      g,
		BaseWidth:  640,
		BaseHeight: 360,
		EdgePolicy: RequireExplicitAdapters,
	})
	require.NoError(t, err)
	defer root.Release()

	assert.Zero(t, resizes, "explicit-adapters policy never dispatches an adapter")
	mismatches := warningsOfKind(warnings, WarnSizeMismatch)
	require.Len(t, mismatches, 1)
	assert.Equal(t, NodeID("b"), mismatches[0].Node)
	assert.Equal(t, "src", mismatches[0].Port)
}

func TestExecuteSameSizeEdgeNoAdapter(t *testing.T) {
	exec, _, registry := newTestExecutor(t, 1<<30)
	dispatched := 0
	registry.Register(kernels.AdapterResizeBilinear, func(d *kernels.Dispatch) error {
		dispatched++
		return kernels.ResizeBilinearRGBA16F(d)
	})

	g := &Graph{
		Nodes: []Node{
			{ID: "a", Shader: "fill"},
			{ID: "b", Shader: "fill", Inputs: map[string]NodeID{"src": "a"}},
		},
		Root: "b",
	}
	_, warnings, err := exec.Execute(context.Background(), &Request{
		Graph:      g,
		BaseWidth:  64,
		BaseHeight: 64,
		EdgePolicy: AutoResizeBilinear,
	})
	require.NoError(t, err)
	assert.Zero(t, dispatched)
	assert.Empty(t, warnings)
}

func TestExecuteMissingKernel(t *testing.T) {
	exec, texPool, _ := newTestExecutor(t, 1<<30)
	g := &Graph{
		Nodes: []Node{{ID: "a", Shader: "no_such_kernel"}},
		Root:  "a",
	}
	_, _, err := exec.Execute(context.Background(), &Request{
		Graph: g, BaseWidth: 8, BaseHeight: 8, EdgePolicy: AutoResizeBilinear,
	})
	assert.ErrorIs(t, err, ErrMissingKernel)
	assert.Zero(t, texPool.Stats().TotalBytes, "the kernel is checked before any allocation")
}

func TestExecuteMissingAdapter(t *testing.T) {
	device := gpu.NewSoftwareDevice()
	texPool := pool.New(device, 1<<30)
	registry := kernels.NewRegistry()
	registry.Register("fill", fill)
	exec := NewExecutor(texPool, registry, nil)

	g := &Graph{
		Nodes: []Node{
			{ID: "a", Shader: "fill", Output: &OutputSpec{Resolution: ResolutionHalf}},
			{ID: "b", Shader: "fill", Inputs: map[string]NodeID{"src": "a"}},
		},
		Root: "b",
	}
	_, _, err := exec.Execute(context.Background(), &Request{
		Graph: g, BaseWidth: 64, BaseHeight: 64, EdgePolicy: AutoResizeBilinear,
	})
	assert.ErrorIs(t, err, ErrMissingAdapter)
}

func TestExecuteCycleFails(t *testing.T) {
	exec, _, _ := newTestExecutor(t, 1<<30)
	g := &Graph{
		Nodes: []Node{
			{ID: "a", Shader: "fill", Inputs: map[string]NodeID{"src": "b"}},
			{ID: "b", Shader: "fill", Inputs: map[string]NodeID{"src": "a"}},
		},
		Root: "a",
	}
	_, _, err := exec.Execute(context.Background(), &Request{
		Graph: g, BaseWidth: 8, BaseHeight: 8, EdgePolicy: AutoResizeBilinear,
	})
	assert.ErrorIs(t, err, ErrCycle)
}

func TestExecuteDeterministicAcrossPoolStates(t *testing.T) {
	// Cold pool and warm pool must produce identical root contents: kernels
	// overwrite every texel, so reused textures carry no state across
	// frames.
	exec, _, _ := newTestExecutor(t, 1<<30)
	g := &Graph{
		Nodes: []Node{
			{ID: "a", Shader: "fill", Parameters: map[string]any{"tint": 0.5}},
			{ID: "b", Shader: "gaussian_blur", Inputs: map[string]NodeID{"src": "a"}, Parameters: map[string]any{"radius": 2}},
		},
		Root: "b",
	}
	req := &Request{Graph: g, BaseWidth: 64, BaseHeight: 48, EdgePolicy: AutoResizeBilinear}

	first, _, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	cold := make([]byte, len(first.Texture().Bytes()))
	copy(cold, first.Texture().Bytes())
	first.Release()

	second, _, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	defer second.Release()
	assert.Equal(t, cold, second.Texture().Bytes())
}

func TestExecuteWarningOrderStable(t *testing.T) {
	// Two mismatched ports on one node warn in lexicographic port order.
	makeGraph := func() *Graph {
		return &Graph{
			Nodes: []Node{
				{ID: "p", Shader: "fill", Output: &OutputSpec{Resolution: ResolutionHalf}},
				{ID: "q", Shader: "fill", Output: &OutputSpec{Resolution: ResolutionQuarter}},
				{ID: "z", Shader: "fill", Inputs: map[string]NodeID{"beta": "q", "alpha": "p"}},
			},
			Root: "z",
		}
	}
	var reference []Warning
	for i := 0; i < 10; i++ {
		exec, _, _ := newTestExecutor(t, 1<<30)
		_, warnings, err := exec.Execute(context.Background(), &Request{
			Graph: makeGraph(), BaseWidth: 64, BaseHeight: 64, EdgePolicy: RequireExplicitAdapters,
		})
		require.NoError(t, err)
		if reference == nil {
			reference = warnings
			require.Len(t, warnings, 2)
			assert.Equal(t, "alpha", warnings[0].Port)
			assert.Equal(t, "beta", warnings[1].Port)
			continue
		}
		assert.Equal(t, reference, warnings)
	}
}

func TestExecuteReleasesIntermediatesEagerly(t *testing.T) {
	// A long chain at one size needs only two live textures at a time
	// (input + output), so the pool never holds more than three total.
	exec, texPool, _ := newTestExecutor(t, 1<<30)

	nodes := []Node{{ID: "n00", Shader: "fill"}}
	prev := NodeID("n00")
	for i := 1; i < 10; i++ {
		id := NodeID("n" + string(rune('0'+i/10)) + string(rune('0'+i%10)))
		nodes = append(nodes, Node{ID: id, Shader: "fill", Inputs: map[string]NodeID{"src": prev}})
		prev = id
	}
	g := &Graph{Nodes: nodes, Root: prev}

	root, _, err := exec.Execute(context.Background(), &Request{
		Graph: g, BaseWidth: 64, BaseHeight: 64, EdgePolicy: AutoResizeBilinear,
	})
	require.NoError(t, err)
	defer root.Release()

	desc := root.Texture().Descriptor()
	maxLive := desc.SizeBytes() * 3
	assert.LessOrEqual(t, texPool.Stats().TotalBytes, maxLive,
		"eager release keeps peak pool pressure at a couple of textures")
}
