package render

import "fmt"

// WarningKind is the finite vocabulary of executor diagnostics.
type WarningKind string

const (
	WarnSizeMismatch         WarningKind = "size_mismatch"
	WarnAutoResize           WarningKind = "auto_resize"
	WarnOutputFormatOverride WarningKind = "output_format_override"
	WarnMissingInput         WarningKind = "missing_input"
)

// Warning is a structured diagnostic emitted during graph execution.
// Warnings never stop execution and are ordered by node visitation.
type Warning struct {
	Kind WarningKind `json:"kind"`
	Node NodeID      `json:"node"`
	Port string      `json:"port,omitempty"`

	// size_mismatch / auto_resize
	InWidth    uint32 `json:"in_width,omitempty"`
	InHeight   uint32 `json:"in_height,omitempty"`
	NodeWidth  uint32 `json:"node_width,omitempty"`
	NodeHeight uint32 `json:"node_height,omitempty"`

	// output_format_override
	Requested string `json:"requested,omitempty"`
	Using     string `json:"using,omitempty"`
}

// String renders the warning for log output.
func (w Warning) String() string {
	switch w.Kind {
	case WarnSizeMismatch:
		return fmt.Sprintf("size_mismatch{node=%s port=%s in=%dx%d node=%dx%d}",
			w.Node, w.Port, w.InWidth, w.InHeight, w.NodeWidth, w.NodeHeight)
	case WarnAutoResize:
		return fmt.Sprintf("auto_resize{node=%s port=%s %dx%d -> %dx%d}",
			w.Node, w.Port, w.InWidth, w.InHeight, w.NodeWidth, w.NodeHeight)
	case WarnOutputFormatOverride:
		return fmt.Sprintf("output_format_override{node=%s requested=%s using=%s}",
			w.Node, w.Requested, w.Using)
	case WarnMissingInput:
		return fmt.Sprintf("missing_input{node=%s port=%s}", w.Node, w.Port)
	}
	return fmt.Sprintf("%s{node=%s}", w.Kind, w.Node)
}
