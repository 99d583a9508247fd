package nodes

import (
	"fmt"

	"github.com/agentstation/storyflow"
	"github.com/agentstation/storyflow/canvas"
)

// Builder creates nodes of one kind and provides its metadata.
type Builder interface {
	Metadata() Metadata
	Build(def *canvas.NodeDefinition) (storyflow.Node, error)
}

// Registry manages the built-in node kinds.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
	}
}

// Register adds a kind builder.
func (r *Registry) Register(builder Builder) {
	meta := builder.Metadata()
	r.builders[meta.Kind] = builder
}

// Get returns a builder by kind.
func (r *Registry) Get(kind string) (Builder, bool) {
	builder, exists := r.builders[kind]
	return builder, exists
}

// All returns all registered builders.
func (r *Registry) All() map[string]Builder {
	return r.builders
}

// RegisterAll registers every built-in kind with a canvas loader, each
// wrapped so its config is schema-validated before the node is built.
func RegisterAll(loader *canvas.Loader) *Registry {
	registry := NewRegistry()

	registry.Register(&PromptBuilder{})
	registry.Register(&ImageBuilder{})
	registry.Register(&TransformBuilder{})
	registry.Register(&MultiAngleBuilder{})
	registry.Register(&SequenceBuilder{})
	registry.Register(&ShotReverseBuilder{})
	registry.Register(&ResultBuilder{})

	for _, builder := range registry.All() {
		meta := builder.Metadata()
		loader.RegisterKind(meta.Kind, validatingBuild(builder))
	}

	return registry
}

// validatingBuild wraps a builder with config validation.
func validatingBuild(builder Builder) canvas.Builder {
	return func(def *canvas.NodeDefinition) (storyflow.Node, error) {
		meta := builder.Metadata()
		if err := ValidateNodeConfig(&meta, def.Config); err != nil {
			return storyflow.Node{}, fmt.Errorf("config validation failed for node %q: %w", def.Name, err)
		}
		return builder.Build(def)
	}
}
