package canvas

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// Parser handles parsing YAML canvas definitions.
type Parser struct{}

// NewParser creates a new YAML parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads and parses a YAML canvas definition from a reader.
func (p *Parser) Parse(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &def, nil
}

// ParseFile reads and parses a YAML canvas definition from a file.
func (p *Parser) ParseFile(filename string) (*Definition, error) {
	// #nosec G304 - This is a parser that needs to accept arbitrary file paths
	// In production, callers should validate the path based on their security requirements
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return p.Parse(file)
}

// ParseString parses a YAML canvas definition from a string.
func (p *Parser) ParseString(s string) (*Definition, error) {
	return p.Parse(bytes.NewReader([]byte(s)))
}

// Marshal converts a canvas definition to YAML format.
func (p *Parser) Marshal(def *Definition) ([]byte, error) {
	return yaml.Marshal(def)
}

// MarshalToFile writes a canvas definition to a YAML file.
func (p *Parser) MarshalToFile(def *Definition, filename string) error {
	data, err := p.Marshal(def)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0o600)
}

// Example shows what a YAML canvas definition looks like.
func Example() string {
	return `name: character_study
description: Multi-angle character exploration
version: "1.0.0"

nodes:
  - name: hero_prompt
    kind: prompt
    position: {x: 0, y: 0}
    config:
      prompt: "A weathered lighthouse keeper, oilskin coat, storm light"

  - name: hero_image
    kind: image
    position: {x: 320, y: 0}

  - name: angles
    kind: multi-angle-grid
    position: {x: 640, y: 0}
    config:
      gridSize: 4
      resolution: "2k"

edges:
  - from: hero_prompt
    to: hero_image
  - from: hero_image
    to: angles
`
}
