package nodes

import (
	"github.com/agentstation/storyflow"
	"github.com/agentstation/storyflow/canvas"
)

func configString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func configStrings(config map[string]any, key string) []string {
	v, ok := config[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// PromptBuilder builds prompt source nodes.
type PromptBuilder struct{}

// Metadata returns the kind metadata.
func (b *PromptBuilder) Metadata() Metadata {
	return Metadata{
		Kind:        string(storyflow.KindPrompt),
		Category:    "source",
		Description: "Text prompt source; optimizes and generates an image from its prompt",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "Generation prompt",
				},
				"model": map[string]any{
					"type":        "string",
					"description": "Image model override",
				},
				"optimizePrompt": map[string]any{
					"type":        "boolean",
					"description": "Refine the prompt with the text model before generating",
				},
			},
		},
		Examples: []Example{
			{
				Name:        "Character prompt",
				Description: "Seed a canvas with a character concept",
				Config: map[string]any{
					"prompt": "A weathered lighthouse keeper in an oilskin coat",
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a prompt node from a definition.
func (b *PromptBuilder) Build(def *canvas.NodeDefinition) (storyflow.Node, error) {
	return canvas.DefaultBuild(def)
}

// ImageBuilder builds image source nodes.
type ImageBuilder struct{}

// Metadata returns the kind metadata.
func (b *ImageBuilder) Metadata() Metadata {
	return Metadata{
		Kind:        string(storyflow.KindImage),
		Category:    "source",
		Description: "Image source/display node; accepts uploads or inherits a connected image",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"inputImage": map[string]any{
					"type":        "string",
					"description": "Initial image URL or data URL",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Pre-filled analysis text",
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates an image node from a definition.
func (b *ImageBuilder) Build(def *canvas.NodeDefinition) (storyflow.Node, error) {
	node, err := canvas.DefaultBuild(def)
	if err != nil {
		return storyflow.Node{}, err
	}
	if node.Data.InputImage != "" {
		// A definition-supplied image counts as a manual edit.
		node.Data.HasUserUpload = true
		node.Data.Status = storyflow.StatusReady
	}
	return node, nil
}

// TransformBuilder builds image-to-image transform nodes.
type TransformBuilder struct{}

// Metadata returns the kind metadata.
func (b *TransformBuilder) Metadata() Metadata {
	return Metadata{
		Kind:        string(storyflow.KindTransform),
		Category:    "generator",
		Description: "Applies a prompt-driven transform to its connected input image",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "Transform instruction",
				},
				"strength": map[string]any{
					"type":        "number",
					"minimum":     0,
					"maximum":     1,
					"description": "Transform strength",
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a transform node from a definition.
func (b *TransformBuilder) Build(def *canvas.NodeDefinition) (storyflow.Node, error) {
	return canvas.DefaultBuild(def)
}

// MultiAngleBuilder builds multi-angle composite grid nodes.
type MultiAngleBuilder struct{}

// Metadata returns the kind metadata.
func (b *MultiAngleBuilder) Metadata() Metadata {
	return Metadata{
		Kind:        string(storyflow.KindMultiAngle),
		Category:    "grid",
		Description: "Generates an N×N multi-angle composite from reference images",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"gridSize": map[string]any{
					"type":        "integer",
					"enum":        []any{4, 9},
					"description": "Composite cell count",
				},
				"resolution": map[string]any{
					"type":        "string",
					"description": "Requested output resolution",
				},
				"angles": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Requested camera angles, one per cell",
				},
			},
		},
		Examples: []Example{
			{
				Name:        "Four-angle study",
				Description: "2×2 grid of a subject from four angles",
				Config: map[string]any{
					"gridSize": 4,
					"angles":   []any{"front", "left profile", "right profile", "back"},
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a multi-angle grid node from a definition.
func (b *MultiAngleBuilder) Build(def *canvas.NodeDefinition) (storyflow.Node, error) {
	return canvas.DefaultBuild(def)
}

// SequenceBuilder builds dynamic action-sequence grid nodes.
type SequenceBuilder struct{}

// Metadata returns the kind metadata.
func (b *SequenceBuilder) Metadata() Metadata {
	return Metadata{
		Kind:        string(storyflow.KindSequence),
		Category:    "grid",
		Description: "Generates a 3×3 dynamic action-sequence composite from a reference image",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dynamicAction": map[string]any{
					"type":        "string",
					"description": "Action performed across the sequence",
				},
				"aspectRatio": map[string]any{
					"type":        "string",
					"enum":        []any{"1:1", "16:9", "9:16", "4:3"},
					"description": "Per-cell aspect ratio",
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a sequence grid node from a definition.
func (b *SequenceBuilder) Build(def *canvas.NodeDefinition) (storyflow.Node, error) {
	return canvas.DefaultBuild(def)
}

// ShotReverseBuilder builds shot/reverse-shot nodes.
type ShotReverseBuilder struct{}

// Metadata returns the kind metadata.
func (b *ShotReverseBuilder) Metadata() Metadata {
	return Metadata{
		Kind:        string(storyflow.KindShotReverse),
		Category:    "grid",
		Description: "Generates a shot/reverse-shot pair for two characters in a scene",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"characters": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"maxItems":    2,
					"description": "The two characters, if already known",
				},
				"shotType": map[string]any{
					"type":        "string",
					"description": "Shot framing, e.g. over-the-shoulder",
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a shot/reverse-shot node from a definition.
func (b *ShotReverseBuilder) Build(def *canvas.NodeDefinition) (storyflow.Node, error) {
	node, err := canvas.DefaultBuild(def)
	if err != nil {
		return storyflow.Node{}, err
	}
	node.Data.Characters = configStrings(def.Config, "characters")
	node.Data.ShotType = configString(def.Config, "shotType")
	delete(node.Data.Extra, "characters")
	delete(node.Data.Extra, "shotType")
	return node, nil
}

// ResultBuilder builds result display nodes.
type ResultBuilder struct{}

// Metadata returns the kind metadata.
func (b *ResultBuilder) Metadata() Metadata {
	return Metadata{
		Kind:        string(storyflow.KindResult),
		Category:    "display",
		Description: "Displays a generated artifact; never self-initiates generation",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"outputImage": map[string]any{
					"type":        "string",
					"description": "Artifact URL to display",
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a result node from a definition.
func (b *ResultBuilder) Build(def *canvas.NodeDefinition) (storyflow.Node, error) {
	return canvas.DefaultBuild(def)
}
