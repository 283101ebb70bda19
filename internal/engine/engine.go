// Package engine defines the contract of the tensor-execution engine that
// runs TensorFlow graphs. The engine itself is an external collaborator; this
// package only fixes the calls the transform makes against it.
package engine

import (
	"strings"

	"github.com/born-ml/tftransform/internal/tensor"
)

// Engine loads graphs into sessions.
type Engine interface {
	// LoadFrozen imports a serialized graph definition with its parameters baked in.
	LoadFrozen(graphDef []byte) (Session, error)
	// LoadSavedModel loads a saved-model directory (graph definition plus variable files).
	LoadSavedModel(dir string) (Session, error)
}

// Session is a runtime execution context bound to a loaded graph.
// A Session is not assumed to be safe for concurrent runs.
type Session interface {
	// Operation describes the first output of the named graph operation.
	Operation(name string) (OpInfo, bool)
	// Run feeds inputs by operation name, runs targets and returns fetches in order.
	Run(inputs map[string]*tensor.Tensor, targets, fetches []string) ([]*tensor.Tensor, error)
	// Close releases the session and its graph.
	Close() error
}

// OpInfo describes an operation's output tensor.
type OpInfo struct {
	Name  string
	DType tensor.DataType
	// Shape is the declared shape; nil when the rank is unknown.
	Shape tensor.Shape
}

// OpName strips an output index suffix such as ":0" from a tensor name.
func OpName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return name
}
