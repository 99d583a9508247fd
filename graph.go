package storyflow

import (
	"context"
	"fmt"
	"sync"
)

// Graph is the authoritative node/edge collection. Every mutation funnels
// through one serialized reducer (the internal mutex), so a mutation is a
// pure transformation of the prior snapshot applied atomically: concurrent
// patches to disjoint node ids cannot lose each other's writes, and two
// completions racing on the same id resolve last-write-wins by arrival
// order.
//
// The graph doubles as an observer registry keyed by node id. Watchers are
// notified after any mutation touching their node; WatchAny fires on every
// mutation and is what connection bindings use to track topology changes.
type Graph struct {
	mu    sync.RWMutex
	nodes []Node
	edges []Edge

	watchers map[string][]*watcher
	anyWatch []*watcher

	// lifetimes holds a done channel per live node, closed on removal.
	// A task holding the channel can tell that its target node is gone
	// and drop a late result instead of patching a dead id.
	lifetimes map[string]chan struct{}

	logger Logger
}

type watcher struct {
	ch chan struct{}
}

// notify coalesces: a watcher that hasn't drained its previous signal does
// not need another.
func (w *watcher) notify() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithGraphLogger attaches a logger to the graph.
func WithGraphLogger(l Logger) GraphOption {
	return func(g *Graph) { g.logger = l }
}

// NewGraph creates an empty graph.
func NewGraph(opts ...GraphOption) *Graph {
	g := &Graph{
		watchers:  make(map[string][]*watcher),
		lifetimes: make(map[string]chan struct{}),
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddNode inserts a node. The id must be unique.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrNodeNotFound)
	}
	g.mu.Lock()
	for _, existing := range g.nodes {
		if existing.ID == n.ID {
			g.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
	}
	g.nodes = append(g.nodes, n)
	g.lifetimes[n.ID] = make(chan struct{})
	g.mu.Unlock()

	g.notifyAll()
	return nil
}

// AddEdge inserts an edge after checking that both endpoints exist and that
// the handle channels agree. A channel mismatch is rejected here, at the
// edge-creation boundary, rather than discovered downstream.
func (g *Graph) AddEdge(e Edge) error {
	if err := validChannel(e.Channel); err != nil {
		return err
	}
	if e.SourceHandle.Channel != e.Channel || e.TargetHandle.Channel != e.Channel {
		return fmt.Errorf("%w: edge %s carries %s but handles are %s→%s",
			ErrChannelMismatch, e.ID, e.Channel, e.SourceHandle.Channel, e.TargetHandle.Channel)
	}

	g.mu.Lock()
	if !g.hasNodeLocked(e.Source) {
		g.mu.Unlock()
		return fmt.Errorf("%w: edge source %s", ErrNodeNotFound, e.Source)
	}
	if !g.hasNodeLocked(e.Target) {
		g.mu.Unlock()
		return fmt.Errorf("%w: edge target %s", ErrNodeNotFound, e.Target)
	}
	g.edges = append(g.edges, e)
	g.mu.Unlock()

	g.notifyAll()
	return nil
}

func (g *Graph) hasNodeLocked(id string) bool {
	for _, n := range g.nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// GetNode returns a snapshot of one node.
func (g *Graph) GetNode(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Nodes returns a snapshot of the node collection.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// ListEdges returns a snapshot of the edge collection.
func (g *Graph) ListEdges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// EdgesInto returns the edges whose target is the given node.
func (g *Graph) EdgesInto(target string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	for _, e := range g.edges {
		if e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

// MutateNodes applies a whole-collection transformation atomically. The
// function receives a copy of the current snapshot and returns the next
// collection; it must be pure. All watchers are notified.
func (g *Graph) MutateNodes(fn func([]Node) []Node) {
	g.mu.Lock()
	snapshot := make([]Node, len(g.nodes))
	copy(snapshot, g.nodes)
	g.nodes = fn(snapshot)
	g.mu.Unlock()

	g.notifyAll()
}

// Patch applies a data transformation to one node by id. Patching a node
// that no longer exists is a no-op, not an error: a late completion whose
// target was deleted mid-flight must be tolerated. Returns whether a node
// was patched.
func (g *Graph) Patch(id string, fn func(Data) Data) bool {
	patched := false
	g.mu.Lock()
	for i := range g.nodes {
		if g.nodes[i].ID == id {
			g.nodes[i].Data = fn(g.nodes[i].Data)
			patched = true
			break
		}
	}
	g.mu.Unlock()

	if patched {
		g.notifyNode(id)
	}
	return patched
}

// RemoveNode deletes a node and its incident edges, closes the node's
// lifetime channel so in-flight work can drop its result, and unregisters
// the node's watchers.
func (g *Graph) RemoveNode(id string) bool {
	g.mu.Lock()
	idx := -1
	for i, n := range g.nodes {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return false
	}
	g.nodes = append(g.nodes[:idx], g.nodes[idx+1:]...)

	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	g.edges = kept

	if done, ok := g.lifetimes[id]; ok {
		close(done)
		delete(g.lifetimes, id)
	}
	delete(g.watchers, id)
	g.mu.Unlock()

	g.notifyAll()
	return true
}

// Lifetime returns a channel closed when the node is removed. For unknown
// ids it returns an already-closed channel.
func (g *Graph) Lifetime(id string) <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if done, ok := g.lifetimes[id]; ok {
		return done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Watch subscribes to mutations touching one node id. The returned channel
// carries coalesced signals; call the cancel func to unsubscribe.
func (g *Graph) Watch(id string) (<-chan struct{}, func()) {
	w := &watcher{ch: make(chan struct{}, 1)}
	g.mu.Lock()
	g.watchers[id] = append(g.watchers[id], w)
	g.mu.Unlock()

	cancel := func() {
		g.mu.Lock()
		list := g.watchers[id]
		for i, other := range list {
			if other == w {
				g.watchers[id] = append(list[:i], list[i+1:]...)
				break
			}
		}
		g.mu.Unlock()
	}
	return w.ch, cancel
}

// WatchAny subscribes to every mutation (node patches, topology changes).
func (g *Graph) WatchAny() (<-chan struct{}, func()) {
	w := &watcher{ch: make(chan struct{}, 1)}
	g.mu.Lock()
	g.anyWatch = append(g.anyWatch, w)
	g.mu.Unlock()

	cancel := func() {
		g.mu.Lock()
		for i, other := range g.anyWatch {
			if other == w {
				g.anyWatch = append(g.anyWatch[:i], g.anyWatch[i+1:]...)
				break
			}
		}
		g.mu.Unlock()
	}
	return w.ch, cancel
}

func (g *Graph) notifyNode(id string) {
	g.mu.RLock()
	targeted := make([]*watcher, len(g.watchers[id]))
	copy(targeted, g.watchers[id])
	broad := make([]*watcher, len(g.anyWatch))
	copy(broad, g.anyWatch)
	g.mu.RUnlock()

	for _, w := range targeted {
		w.notify()
	}
	for _, w := range broad {
		w.notify()
	}
}

func (g *Graph) notifyAll() {
	g.mu.RLock()
	all := make([]*watcher, 0, len(g.anyWatch))
	all = append(all, g.anyWatch...)
	for _, list := range g.watchers {
		all = append(all, list...)
	}
	g.mu.RUnlock()

	for _, w := range all {
		w.notify()
	}
}

// WaitFor blocks until the node's data satisfies pred, the node is removed,
// or ctx is done. It exists mostly for tests and CLI runs that need to
// observe an asynchronous completion.
func (g *Graph) WaitFor(ctx context.Context, id string, pred func(Data) bool) error {
	ch, cancel := g.Watch(id)
	defer cancel()

	for {
		if n, ok := g.GetNode(id); ok && pred(n.Data) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.Lifetime(id):
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		case <-ch:
		}
	}
}
