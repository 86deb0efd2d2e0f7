package render

import (
	"context"
	"fmt"
	"sort"

	"github.com/kaw393939/metavis/internal/gpu"
	"github.com/kaw393939/metavis/internal/gpu/pool"
	"github.com/kaw393939/metavis/internal/render/kernels"
)

// AssetSource resolves asset references to textures. The asset manager owns
// asset lifetimes and quality tiers; the executor only borrows textures for
// the duration of a dispatch.
type AssetSource interface {
	Texture(ctx context.Context, assetID string, t Rational, quality Quality) (*gpu.Texture, error)
}

// Executor runs render requests against a texture pool and a kernel
// registry. An Executor is not safe for concurrent use; instantiate one per
// worker. It holds no per-request state between calls.
type Executor struct {
	pool    *pool.Pool
	kernels *kernels.Registry
	assets  AssetSource
}

// NewExecutor creates an executor. assets may be nil for graphs that do not
// reference assets.
func NewExecutor(p *pool.Pool, registry *kernels.Registry, assets AssetSource) *Executor {
	return &Executor{pool: p, kernels: registry, assets: assets}
}

// Execute walks the request's graph in stable topological order, allocating
// each node's output from the pool, reconciling mismatched edges under the
// request's edge policy, and dispatching each node's kernel. On success the
// root node's texture is returned still acquired: releasing it is the
// caller's responsibility. Warnings are ordered by node visitation and never
// stop execution.
func (e *Executor) Execute(ctx context.Context, req *Request) (*pool.PooledTexture, []Warning, error) {
	if req.Graph == nil {
		return nil, nil, fmt.Errorf("%w: nil graph", ErrInvalidGraph)
	}
	order, err := TopoSort(req.Graph)
	if err != nil {
		return nil, nil, err
	}

	// Remaining-consumer counts drive eager release: once every scheduled
	// consumer of a node has dispatched, its output goes back to the pool.
	consumers := make(map[NodeID]int)
	scheduled := make(map[NodeID]bool, len(order))
	for _, id := range order {
		scheduled[id] = true
	}
	for _, id := range order {
		node := req.Graph.NodeByID(id)
		for _, upstream := range node.Inputs {
			if scheduled[upstream] {
				consumers[upstream]++
			}
		}
	}

	var warnings []Warning
	textures := make(map[NodeID]*pool.PooledTexture, len(order))
	fail := func(err error) (*pool.PooledTexture, []Warning, error) {
		for _, pt := range textures {
			pt.Release()
		}
		return nil, warnings, err
	}

	var assetFetch func(string) (*gpu.Texture, error)
	if e.assets != nil {
		assetFetch = func(assetID string) (*gpu.Texture, error) {
			return e.assets.Texture(ctx, assetID, req.Time, req.Quality)
		}
	}

	for _, id := range order {
		node := req.Graph.NodeByID(id)
		w, h := ResolveOutputSize(node, req.BaseWidth, req.BaseHeight)
		pf := ResolveOutputPixelFormat(node)

		// Conservative format rule: non-float formats are only honored on the
		// terminal node when the request allows it; everywhere else the
		// intermediate is widened to RGBA16F.
		if pf != gpu.PixelFormatRGBA16F {
			terminal := id == req.Graph.Root
			allowed := terminal && req.AllowNonFloatTerminal && pf.Valid()
			if !allowed {
				warnings = append(warnings, Warning{
					Kind:      WarnOutputFormatOverride,
					Node:      id,
					Requested: string(pf),
					Using:     string(gpu.PixelFormatRGBA16F),
				})
				pf = gpu.PixelFormatRGBA16F
			}
		}

		kernel := e.kernels.Get(string(node.Shader))
		if kernel == nil {
			return fail(fmt.Errorf("%w: %q on node %q", ErrMissingKernel, node.Shader, id))
		}

		out, err := e.pool.AcquireIntermediate(pf, w, h, gpu.UsageIntermediate)
		if err != nil {
			return fail(fmt.Errorf("allocate output for node %q: %w", id, err))
		}
		textures[id] = out

		bound, scratch, bindErr := e.bindInputs(node, w, h, req.EdgePolicy, textures, assetFetch, &warnings)
		if bindErr != nil {
			return fail(bindErr)
		}

		dispatch := &kernels.Dispatch{
			Inputs:  bound,
			Output:  out.Texture(),
			Params:  node.Parameters,
			Time:    req.Time.Seconds(),
			Quality: string(req.Quality),
			Assets:  assetFetch,
		}
		err = kernel(dispatch)
		for _, s := range scratch {
			s.Release()
		}
		if err != nil {
			return fail(fmt.Errorf("kernel %q on node %q: %w", node.Shader, id, err))
		}

		for _, port := range sortedPorts(node.Inputs) {
			upstream := node.Inputs[port]
			if !scheduled[upstream] {
				continue
			}
			consumers[upstream]--
			if consumers[upstream] == 0 && upstream != req.Graph.Root {
				textures[upstream].Release()
				delete(textures, upstream)
			}
		}
	}

	root := textures[req.Graph.Root]
	for id, pt := range textures {
		if id != req.Graph.Root {
			pt.Release()
		}
	}
	return root, warnings, nil
}

// bindInputs resolves each input port to a texture, inserting resize
// adapters under the edge policy. Scratch textures produced by adapters are
// returned for release after the node's dispatch.
func (e *Executor) bindInputs(
	node *Node,
	nodeW, nodeH uint32,
	policy EdgePolicy,
	textures map[NodeID]*pool.PooledTexture,
	assetFetch func(string) (*gpu.Texture, error),
	warnings *[]Warning,
) (map[string]*gpu.Texture, []*pool.PooledTexture, error) {
	bound := make(map[string]*gpu.Texture, len(node.Inputs))
	var scratch []*pool.PooledTexture
	release := func() {
		for _, s := range scratch {
			s.Release()
		}
	}

	for _, port := range sortedPorts(node.Inputs) {
		upstreamID := node.Inputs[port]
		up, ok := textures[upstreamID]
		if !ok {
			*warnings = append(*warnings, Warning{Kind: WarnMissingInput, Node: node.ID, Port: port})
			release()
			return nil, nil, fmt.Errorf("%w: node %q port %q upstream %q", ErrMissingInput, node.ID, port, upstreamID)
		}
		in := up.Texture()

		// Adapters are never inserted on same-size edges, on mask ports, or
		// feeding an adapter node itself.
		if (in.Width() == nodeW && in.Height() == nodeH) ||
			IsMaskPort(port) || kernels.IsAdapter(string(node.Shader)) {
			bound[port] = in
			continue
		}

		switch policy {
		case AutoResizeBilinear, AutoResizeBicubic:
			adapterName := kernels.AdapterResizeBilinear
			if policy == AutoResizeBicubic {
				adapterName = kernels.AdapterResizeBicubic
			}
			adapter := e.kernels.Get(adapterName)
			if adapter == nil {
				release()
				return nil, nil, fmt.Errorf("%w: %q", ErrMissingAdapter, adapterName)
			}
			tmp, err := e.pool.AcquireIntermediate(gpu.PixelFormatRGBA16F, nodeW, nodeH, gpu.UsageIntermediate)
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("allocate adapter scratch for node %q port %q: %w", node.ID, port, err)
			}
			scratch = append(scratch, tmp)
			err = adapter(&kernels.Dispatch{
				Inputs: map[string]*gpu.Texture{"src": in},
				Output: tmp.Texture(),
				Assets: assetFetch,
			})
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("adapter %q for node %q port %q: %w", adapterName, node.ID, port, err)
			}
			*warnings = append(*warnings, Warning{
				Kind:       WarnAutoResize,
				Node:       node.ID,
				Port:       port,
				InWidth:    in.Width(),
				InHeight:   in.Height(),
				NodeWidth:  nodeW,
				NodeHeight: nodeH,
			})
			bound[port] = tmp.Texture()

		default: // RequireExplicitAdapters
			*warnings = append(*warnings, Warning{
				Kind:       WarnSizeMismatch,
				Node:       node.ID,
				Port:       port,
				InWidth:    in.Width(),
				InHeight:   in.Height(),
				NodeWidth:  nodeW,
				NodeHeight: nodeH,
			})
			bound[port] = in
		}
	}
	return bound, scratch, nil
}

// sortedPorts returns the node's input port names in lexicographic order so
// binding, warnings, and release order are stable across runs.
func sortedPorts(inputs map[string]NodeID) []string {
	ports := make([]string, 0, len(inputs))
	for port := range inputs {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}
