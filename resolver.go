package storyflow

import (
	"context"
	"time"

	"github.com/ohler55/ojg/jp"
)

// outputCandidates is the legacy field vocabulary for canvas-imported node
// payloads: the first non-empty candidate wins. Engine-written nodes use
// the canonical typed outputs instead, which are always checked first.
var outputCandidates = mustCompile(
	"$.outputImage",
	"$.imageUrl",
	"$.generatedImage",
	"$.image",
)

func mustCompile(paths ...string) []jp.Expr {
	exprs := make([]jp.Expr, 0, len(paths))
	for _, p := range paths {
		x, err := jp.ParseString(p)
		if err != nil {
			panic(err)
		}
		exprs = append(exprs, x)
	}
	return exprs
}

// Resolver discovers the upstream node feeding a target handle purely
// through graph topology and extracts its produced artifact. Propagation
// is pull-based: the consumer asks, the producer never signals.
type Resolver struct {
	graph    *Graph
	interval time.Duration
	logger   Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPollInterval sets the fallback re-check interval used by Bind when no
// graph notification arrives. Default 500ms.
func WithPollInterval(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.interval = d }
}

// WithResolverLogger attaches a logger.
func WithResolverLogger(l Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver over a graph.
func NewResolver(g *Graph, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		graph:    g,
		interval: 500 * time.Millisecond,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds the edge feeding the target handle, fetches the source
// node's current data, and extracts its output for the edge's channel.
// Returns ok=false when no edge matches or the source has not produced an
// output yet.
func (r *Resolver) Resolve(targetID string, handle Handle) (string, bool) {
	for _, e := range r.graph.EdgesInto(targetID) {
		if e.TargetHandle.Name != handle.Name {
			continue
		}
		source, ok := r.graph.GetNode(e.Source)
		if !ok {
			continue
		}
		if v, ok := extractOutput(source.Data, e.Channel); ok {
			return v, true
		}
	}
	return "", false
}

// extractOutput reads the canonical typed output first, then falls back to
// the legacy candidate fields of canvas-imported payloads.
func extractOutput(d Data, c Channel) (string, bool) {
	if v, ok := d.Output(c); ok {
		return v, true
	}
	if c != ChannelImage || len(d.Extra) == 0 {
		return "", false
	}
	for _, x := range outputCandidates {
		for _, got := range x.Get(d.Extra) {
			if s, ok := got.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// Bind keeps a consumer in sync with whatever upstream node currently
// supplies its input handle. It re-resolves on every graph change (with a
// fixed-interval fallback tick) and calls apply with the resolved value.
//
// Bind stops applying, and returns, once the consumer has a locally
// user-supplied value (HasUserUpload) or once a value has been resolved:
// inherited input must never clobber a manual edit. It also returns when
// ctx is cancelled or the consumer node is removed, so an unmounted node
// never leaks a dangling subscription.
func (r *Resolver) Bind(ctx context.Context, targetID string, handle Handle, apply func(value string)) {
	ch, cancel := r.graph.WatchAny()
	defer cancel()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		target, ok := r.graph.GetNode(targetID)
		if !ok {
			return
		}
		if target.Data.HasUserUpload {
			return
		}
		if v, ok := r.Resolve(targetID, handle); ok {
			r.logger.Debug(ctx, "resolved inherited input",
				"node", targetID, "handle", handle.Name, "value", v)
			apply(v)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-r.graph.Lifetime(targetID):
			return
		case <-ch:
		case <-ticker.C:
		}
	}
}

// BindInputImage is the common binding: it resolves the image input handle
// and patches the target's InputImage, leaving HasUserUpload untouched.
func (r *Resolver) BindInputImage(ctx context.Context, targetID string) {
	r.Bind(ctx, targetID, HandleImageIn, func(value string) {
		r.graph.Patch(targetID, func(d Data) Data {
			if d.HasUserUpload {
				return d
			}
			d.InputImage = value
			if d.Status == StatusIdle {
				d.Status = StatusReady
			}
			return d
		})
	})
}
