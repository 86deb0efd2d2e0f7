// Package kernels implements the built-in compute kernels and the registry
// the executor resolves shader names against. Kernels run on the software
// device: a dispatch is a per-texel loop that must be correct for any output
// size down to 1x1.
package kernels

import (
	"sort"
	"sync"

	"github.com/kaw393939/metavis/internal/gpu"
)

// Adapter kernel names. Adapters are compatibility operations inserted
// implicitly by the executor; they never alter semantics and are never
// inserted between a node and its own output.
const (
	AdapterResizeBilinear = "adapter_resize_bilinear"
	AdapterResizeBicubic  = "adapter_resize_bicubic"
	AdapterFormatConvert  = "adapter_format_convert"
)

// Dispatch carries everything a kernel invocation sees: bound input
// textures by port name, the output texture, the node's serialized
// parameters, and the evaluation time in seconds.
type Dispatch struct {
	Inputs  map[string]*gpu.Texture
	Output  *gpu.Texture
	Params  map[string]any
	Time    float64
	Quality string

	// Assets resolves an asset reference to a texture at the dispatch time.
	// Nil when the request has no asset source attached.
	Assets func(assetID string) (*gpu.Texture, error)
}

// Input returns the texture bound to the port, or nil.
func (d *Dispatch) Input(port string) *gpu.Texture {
	return d.Inputs[port]
}

// Func is a compute kernel: it reads the dispatch's inputs and parameters
// and writes every texel of the output.
type Func func(d *Dispatch) error

// Registry maps kernel names to implementations. Safe for concurrent reads
// after registration; registration typically happens once at startup.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Func)}
}

// NewBuiltinRegistry returns a registry with every built-in kernel,
// adapters included.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register(AdapterResizeBilinear, ResizeBilinearRGBA16F)
	r.Register(AdapterResizeBicubic, ResizeBicubicRGBA16F)
	r.Register(AdapterFormatConvert, FormatConvert)
	r.Register("source", Source)
	r.Register("blend", Blend)
	r.Register("gaussian_blur", GaussianBlur)
	r.Register("color_adjust", ColorAdjust)
	r.Register("vignette", Vignette)
	r.Register("mask_apply", MaskApply)
	return r
}

// Register adds or replaces a kernel.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[name] = fn
}

// Get returns the kernel for the name, or nil.
func (r *Registry) Get(name string) Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m[name]
}

// Has reports whether the name is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns the registered kernel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.m))
	for name := range r.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAdapter reports whether the kernel name is one of the built-in
// compatibility adapters.
func IsAdapter(name string) bool {
	switch name {
	case AdapterResizeBilinear, AdapterResizeBicubic, AdapterFormatConvert:
		return true
	}
	return false
}
