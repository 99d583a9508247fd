package storyflow

import (
	"github.com/google/uuid"
)

// Node is one unit of the workflow graph: a generation or display step with
// a typed payload and a lifecycle status.
type Node struct {
	ID       string
	Kind     Kind
	Position Position
	Data     Data
}

// NewNode creates a node of the given kind with a fresh id and idle data.
func NewNode(kind Kind, pos Position) Node {
	return Node{
		ID:       uuid.NewString(),
		Kind:     kind,
		Position: pos,
		Data:     Data{Status: StatusIdle},
	}
}

// Edge is a directed, channel-typed connection from one node's output
// handle to another node's input handle.
type Edge struct {
	ID           string
	Source       string
	SourceHandle Handle
	Target       string
	TargetHandle Handle
	Channel      Channel
}

// NewEdge creates an edge between two nodes on the given channel, using the
// canonical handles for that channel.
func NewEdge(source, target string, channel Channel) Edge {
	return Edge{
		ID:           uuid.NewString(),
		Source:       source,
		SourceHandle: HandleFor(channel),
		Target:       target,
		TargetHandle: InputHandleFor(channel),
		Channel:      channel,
	}
}

// ReferenceRole constrains how the generation collaborator treats a
// conditioning image.
type ReferenceRole string

// Reference roles.
const (
	RoleSubject ReferenceRole = "subject"
	RoleScene   ReferenceRole = "scene"
	RoleProp    ReferenceRole = "prop"
	RoleStyle   ReferenceRole = "style"
)

// ReferenceImage is one entry of the ordered conditioning set submitted
// with a generation request. The set is immutable once submitted.
type ReferenceImage struct {
	URL         string
	Role        ReferenceRole
	Description string
}

// Data is a node's kind-tagged payload. Rather than an open string-keyed
// map read by convention, the payload is a typed struct with one canonical
// output field per channel; Extra survives only for data imported from
// canvas definitions, where the legacy field vocabulary still applies.
type Data struct {
	Status        Status
	StatusMessage string

	// Progress caption shown while Status is generating/analyzing.
	Progress string

	// User-authored inputs.
	Prompt      string
	Description string

	// InputImage is the consumed upstream (or uploaded) image. When
	// HasUserUpload is set the value is a manual edit and connection
	// resolution must not overwrite it.
	InputImage    string
	HasUserUpload bool

	// Canonical outputs, one per channel. Connection resolution reads
	// these first.
	OutputImage string
	OutputText  string
	OutputVideo string

	// Grid state for composite-generator kinds.
	Grid  *GridImage
	Cells []ExtractedCell

	// Conditioning set for grid and transform kinds.
	References []ReferenceImage

	// Shot-reverse-shot gate state.
	Characters []string
	ShotType   string

	// Extra holds free-form fields from canvas definitions. It is not
	// written by the engine.
	Extra map[string]any
}

// Output returns the canonical output value for a channel.
func (d Data) Output(c Channel) (string, bool) {
	var v string
	switch c {
	case ChannelImage:
		v = d.OutputImage
	case ChannelText:
		v = d.OutputText
	case ChannelVideo:
		v = d.OutputVideo
	}
	return v, v != ""
}

// Clear returns an idle payload with every derived field wiped. Resetting
// is destructive and total, never partial: description, outputs, grid
// state, and gate state all go.
func (d Data) Clear() Data {
	return Data{Status: StatusIdle, Extra: d.Extra}
}

// ExportPayload is the drag-export handed to a timeline collaborator.
type ExportPayload struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
	Name      string `json:"name"`
}

// ExportMediaType values.
const (
	ExportImage = "image"
	ExportVideo = "video"
)

// Export builds the drag-export payload for a node's primary artifact, or
// false when the node has nothing exportable yet.
func (n Node) Export(name string) (ExportPayload, bool) {
	if url, ok := n.Data.Output(ChannelVideo); ok {
		return ExportPayload{
			Type:      "canvas-media",
			MediaType: ExportVideo,
			URL:       url,
			Thumbnail: n.Data.OutputImage,
			Name:      name,
		}, true
	}
	if url, ok := n.Data.Output(ChannelImage); ok {
		return ExportPayload{
			Type:      "canvas-media",
			MediaType: ExportImage,
			URL:       url,
			Thumbnail: url,
			Name:      name,
		}, true
	}
	return ExportPayload{}, false
}
