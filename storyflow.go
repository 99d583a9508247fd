// Package storyflow implements a node-graph workflow engine for creative
// generation pipelines: directed graphs of prompt, image, grid, and video
// steps composed on an interactive canvas, where each node may trigger a
// long-running, fallible generation request against an external service.
//
// The engine has three cooperating parts:
//
//   - Graph: the authoritative node/edge collection. All mutation funnels
//     through a single serialized reducer, so concurrent completions patching
//     disjoint node ids compose safely. The graph also acts as an observer
//     registry: consumers watch node ids (or the whole graph) and are
//     notified after each mutation.
//
//   - Orchestrator: the per-node task lifecycle. A submission synchronously
//     materializes a placeholder node plus a connecting edge, then invokes
//     the generation collaborator asynchronously and patches the placeholder
//     with the result or an error status. Failed placeholders are retained
//     for inspection and retry, never deleted.
//
//   - Resolver: pull-based connection resolution. Given a node's input
//     handle, it discovers the upstream node feeding it purely through graph
//     topology and extracts that node's produced artifact, so downstream
//     nodes consume upstream results without a push-based signal protocol.
//
// Grid geometry (ratio cropping and N×N composite slicing) is pure math in
// grid.go and has no dependency on the graph.
package storyflow

import (
	"context"
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrNodeNotFound is returned when a referenced node doesn't exist.
	ErrNodeNotFound = errors.New("storyflow: node not found")

	// ErrDuplicateNode is returned when adding a node whose id is taken.
	ErrDuplicateNode = errors.New("storyflow: duplicate node id")

	// ErrChannelMismatch is returned when an edge's handles disagree on
	// their channel type.
	ErrChannelMismatch = errors.New("storyflow: edge channel mismatch")

	// ErrInvalidGrid is returned for unsupported grid cell counts or
	// out-of-range cell indices.
	ErrInvalidGrid = errors.New("storyflow: invalid grid geometry")
)

// Channel identifies the artifact type carried by an edge or handle.
type Channel string

// Supported channels.
const (
	ChannelImage Channel = "image"
	ChannelText  Channel = "text"
	ChannelVideo Channel = "video"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelImage, ChannelText, ChannelVideo:
		return true
	}
	return false
}

// Status is the lifecycle state every node kind carries.
type Status string

// Node lifecycle states. A node moves idle → uploading → (analyzing) →
// ready → generating → {ready | error}. Error may re-enter generating via
// manual retry; Clear resets to idle and wipes all derived fields.
const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusAnalyzing  Status = "analyzing"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Kind discriminates node variants.
type Kind string

// Node kinds.
const (
	// KindPrompt is a text prompt source node.
	KindPrompt Kind = "prompt"

	// KindImage is an image source/display node (upload or inherited).
	KindImage Kind = "image"

	// KindTransform is an image-to-image transform node.
	KindTransform Kind = "transform"

	// KindMultiAngle generates an N×N multi-angle composite grid from a
	// reference image.
	KindMultiAngle Kind = "multi-angle-grid"

	// KindSequence generates a 3×3 dynamic action-sequence grid.
	KindSequence Kind = "sequence-grid"

	// KindShotReverse generates a shot/reverse-shot pair for two
	// characters in a scene.
	KindShotReverse Kind = "shot-reverse-shot"

	// KindResult displays a generated artifact; it never self-initiates
	// generation.
	KindResult Kind = "result"
)

// Handle is a named, channel-typed port on a node through which edges
// attach. The channel is part of the handle identity so that edge creation
// can enforce compatibility instead of trusting the caller.
type Handle struct {
	Name    string
	Channel Channel
}

// Canonical handles shared by the built-in node kinds.
var (
	HandleImageIn  = Handle{Name: "image-in", Channel: ChannelImage}
	HandleImageOut = Handle{Name: "image-out", Channel: ChannelImage}
	HandleTextIn   = Handle{Name: "text-in", Channel: ChannelText}
	HandleTextOut  = Handle{Name: "text-out", Channel: ChannelText}
	HandleVideoIn  = Handle{Name: "video-in", Channel: ChannelVideo}
	HandleVideoOut = Handle{Name: "video-out", Channel: ChannelVideo}
)

// HandleFor returns the canonical output handle for a channel.
func HandleFor(c Channel) Handle {
	switch c {
	case ChannelText:
		return HandleTextOut
	case ChannelVideo:
		return HandleVideoOut
	default:
		return HandleImageOut
	}
}

// InputHandleFor returns the canonical input handle for a channel.
func InputHandleFor(c Channel) Handle {
	switch c {
	case ChannelText:
		return HandleTextIn
	case ChannelVideo:
		return HandleVideoIn
	default:
		return HandleImageIn
	}
}

// Position is a node's canvas coordinate.
type Position struct {
	X float64
	Y float64
}

// Offset returns p shifted by dx, dy.
func (p Position) Offset(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Logger provides structured logging.
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

// nopLogger discards all log output. Used wherever a Logger was not
// configured so call sites never nil-check.
type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

// Notifier surfaces user-facing messages (toasts) outside the graph.
// Validation failures and generation errors are reported here in addition
// to any node-level status they set.
type Notifier func(level NotifyLevel, msg string)

// NotifyLevel classifies a user-facing notification.
type NotifyLevel string

// Notification levels.
const (
	NotifyInfo    NotifyLevel = "info"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

// nopNotify drops notifications.
func nopNotify(NotifyLevel, string) {}

func validChannel(c Channel) error {
	if !c.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrChannelMismatch, c)
	}
	return nil
}
