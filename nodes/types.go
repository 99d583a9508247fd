package nodes

// Metadata describes a node kind.
type Metadata struct {
	Kind         string         `json:"kind"`
	Category     string         `json:"category"`
	Description  string         `json:"description"`
	ConfigSchema map[string]any `json:"configSchema"`
	Examples     []Example      `json:"examples,omitempty"`
	Since        string         `json:"since,omitempty"`
}

// Example shows how to configure a node kind.
type Example struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}
