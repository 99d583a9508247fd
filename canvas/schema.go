// Package canvas provides YAML-based canvas definition support for
// storyflow: declarative node/edge documents that load into a live graph.
package canvas

import (
	"fmt"

	"github.com/agentstation/storyflow"
)

// Definition represents a complete canvas defined in YAML.
type Definition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Version     string           `yaml:"version,omitempty"`
	Metadata    map[string]any   `yaml:"metadata,omitempty"`
	Nodes       []NodeDefinition `yaml:"nodes"`
	Edges       []EdgeDefinition `yaml:"edges,omitempty"`
}

// NodeDefinition represents one canvas node in YAML format.
type NodeDefinition struct {
	Name        string             `yaml:"name"`
	Kind        string             `yaml:"kind"`
	Description string             `yaml:"description,omitempty"`
	Position    PositionDefinition `yaml:"position,omitempty"`
	Config      map[string]any     `yaml:"config,omitempty"`
}

// PositionDefinition is a node's canvas coordinate in YAML format.
type PositionDefinition struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// EdgeDefinition represents a connection between named nodes. Channel
// defaults to image when omitted; handles default to the canonical
// handles for the channel.
type EdgeDefinition struct {
	From       string `yaml:"from"`
	To         string `yaml:"to"`
	Channel    string `yaml:"channel,omitempty"`
	FromHandle string `yaml:"from_handle,omitempty"`
	ToHandle   string `yaml:"to_handle,omitempty"`
}

// Validate checks if the canvas definition is valid.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("canvas name is required")
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}

	nodeMap := make(map[string]bool)
	for _, node := range d.Nodes {
		if node.Name == "" {
			return fmt.Errorf("node name is required")
		}
		if node.Kind == "" {
			return fmt.Errorf("node kind is required for node %s", node.Name)
		}
		if nodeMap[node.Name] {
			return fmt.Errorf("duplicate node name %s", node.Name)
		}
		nodeMap[node.Name] = true
	}

	for _, edge := range d.Edges {
		if !nodeMap[edge.From] {
			return fmt.Errorf("edge from node %s not found", edge.From)
		}
		if !nodeMap[edge.To] {
			return fmt.Errorf("edge to node %s not found", edge.To)
		}
		if err := edge.Validate(); err != nil {
			return fmt.Errorf("edge %s -> %s: %w", edge.From, edge.To, err)
		}
	}

	return nil
}

// Validate checks if the edge definition is valid.
func (e *EdgeDefinition) Validate() error {
	if e.Channel == "" {
		return nil
	}
	if !storyflow.Channel(e.Channel).Valid() {
		return fmt.Errorf("unknown channel %q", e.Channel)
	}
	return nil
}

// EdgeChannel returns the edge's channel, defaulting to image.
func (e *EdgeDefinition) EdgeChannel() storyflow.Channel {
	if e.Channel == "" {
		return storyflow.ChannelImage
	}
	return storyflow.Channel(e.Channel)
}
