package canvas

import (
	"fmt"

	"github.com/agentstation/storyflow"
)

// Builder constructs a graph node from a canvas definition. Registered
// per kind; unregistered kinds fall back to the default builder.
type Builder func(def *NodeDefinition) (storyflow.Node, error)

// Loader loads canvas definitions into live graphs.
type Loader struct {
	parser   *Parser
	registry map[string]Builder
	opts     []storyflow.GraphOption
}

// NewLoader creates a new canvas loader.
func NewLoader(opts ...storyflow.GraphOption) *Loader {
	return &Loader{
		parser:   NewParser(),
		registry: make(map[string]Builder),
		opts:     opts,
	}
}

// RegisterKind registers a builder for a node kind.
func (l *Loader) RegisterKind(kind string, builder Builder) {
	l.registry[kind] = builder
}

// LoadFile loads a canvas from a YAML file.
func (l *Loader) LoadFile(filename string) (*storyflow.Graph, map[string]string, error) {
	def, err := l.parser.ParseFile(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("parse file: %w", err)
	}

	return l.LoadDefinition(def)
}

// LoadString loads a canvas from a YAML string.
func (l *Loader) LoadString(yamlStr string) (*storyflow.Graph, map[string]string, error) {
	def, err := l.parser.ParseString(yamlStr)
	if err != nil {
		return nil, nil, fmt.Errorf("parse string: %w", err)
	}

	return l.LoadDefinition(def)
}

// LoadDefinition creates a graph from a parsed definition. The returned map
// translates definition node names to generated graph ids.
func (l *Loader) LoadDefinition(def *Definition) (*storyflow.Graph, map[string]string, error) {
	if err := def.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid canvas definition: %w", err)
	}

	graph := storyflow.NewGraph(l.opts...)
	ids := make(map[string]string, len(def.Nodes))

	for i := range def.Nodes {
		nodeDef := &def.Nodes[i]
		node, err := l.buildNode(nodeDef)
		if err != nil {
			return nil, nil, fmt.Errorf("create node %s: %w", nodeDef.Name, err)
		}
		if err := graph.AddNode(node); err != nil {
			return nil, nil, fmt.Errorf("add node %s: %w", nodeDef.Name, err)
		}
		ids[nodeDef.Name] = node.ID
	}

	for _, edgeDef := range def.Edges {
		edge := storyflow.NewEdge(ids[edgeDef.From], ids[edgeDef.To], edgeDef.EdgeChannel())
		if edgeDef.FromHandle != "" {
			edge.SourceHandle = storyflow.Handle{Name: edgeDef.FromHandle, Channel: edge.Channel}
		}
		if edgeDef.ToHandle != "" {
			edge.TargetHandle = storyflow.Handle{Name: edgeDef.ToHandle, Channel: edge.Channel}
		}
		if err := graph.AddEdge(edge); err != nil {
			return nil, nil, fmt.Errorf("add edge %s -> %s: %w", edgeDef.From, edgeDef.To, err)
		}
	}

	return graph, ids, nil
}

func (l *Loader) buildNode(def *NodeDefinition) (storyflow.Node, error) {
	if builder, ok := l.registry[def.Kind]; ok {
		return builder(def)
	}
	return DefaultBuild(def)
}

// DefaultBuild constructs a node directly from a definition: the
// well-known config keys populate the typed payload fields, everything
// else lands in Extra so the legacy field vocabulary stays resolvable.
func DefaultBuild(def *NodeDefinition) (storyflow.Node, error) {
	node := storyflow.NewNode(
		storyflow.Kind(def.Kind),
		storyflow.Position{X: def.Position.X, Y: def.Position.Y},
	)
	node.Data.Description = def.Description

	extra := make(map[string]any)
	for key, value := range def.Config {
		s, isString := value.(string)
		switch {
		case key == "prompt" && isString:
			node.Data.Prompt = s
		case key == "description" && isString:
			node.Data.Description = s
		case key == "inputImage" && isString:
			node.Data.InputImage = s
		case key == "outputImage" && isString:
			node.Data.OutputImage = s
		default:
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		node.Data.Extra = extra
	}
	if node.Data.OutputImage != "" || node.Data.InputImage != "" {
		node.Data.Status = storyflow.StatusReady
	}
	return node, nil
}
