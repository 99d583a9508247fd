package storyflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentstation/storyflow/gen"
	"github.com/agentstation/storyflow/internal/retry"
)

// Op identifies a generation operation.
type Op string

// Generation operations.
const (
	OpTextToImage     Op = "text-to-image"
	OpImageToImage    Op = "image-to-image"
	OpMultiAngleGrid  Op = "multi-angle-grid"
	OpSequenceGrid    Op = "action-sequence-grid"
	OpDynamicNineGrid Op = "dynamic-nine-grid"
	OpShotReverseShot Op = "shot-reverse-shot"
	OpExtractCell     Op = "extract-cell"
)

// Task is one generation submission. Only the fields relevant to Op are
// read; validation rejects a task whose required fields are missing before
// any graph mutation or collaborator call happens.
type Task struct {
	Op Op

	Prompt string
	Model  string
	Width  int
	Height int

	ImageURL string
	Strength float64

	References []ReferenceImage
	GridSize   int
	Resolution string

	AspectRatio AspectRatio
	Angles      []string
	ActionType  string

	SceneDescription string
	DynamicAction    string

	ShotType   string
	CharacterA string
	CharacterB string

	CellIndex int
}

// Orchestrator manages the per-node task lifecycle: validate, materialize a
// placeholder node and edge synchronously, invoke the collaborator, and
// patch the outcome back into the graph. Multiple submissions may be in
// flight at once; each owns a distinct placeholder id, so completions never
// collide across tasks.
type Orchestrator struct {
	graph  *Graph
	svc    gen.Service
	logger Logger
	notify Notifier

	policy     retry.Policy
	batchDelay time.Duration
	offset     Position

	mu    sync.Mutex
	tasks map[string]submitted // placeholder id → task, for manual retry

	wg sync.WaitGroup
}

type submitted struct {
	originID string
	task     Task
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger attaches a logger.
func WithOrchestratorLogger(l Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithNotifier sets the user-facing notification sink.
func WithNotifier(n Notifier) OrchestratorOption {
	return func(o *Orchestrator) { o.notify = n }
}

// WithRetryPolicy sets the retry policy for collaborator calls. The default
// performs no automatic retries: a failed generation surfaces as an error
// node and is retried manually.
func WithRetryPolicy(p retry.Policy) OrchestratorOption {
	return func(o *Orchestrator) { o.policy = p }
}

// WithBatchDelay sets the fixed inter-call delay used by ExtractAll.
// Default 500ms.
func WithBatchDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.batchDelay = d }
}

// WithPlaceholderOffset sets where placeholders land relative to their
// origin node.
func WithPlaceholderOffset(p Position) OrchestratorOption {
	return func(o *Orchestrator) { o.offset = p }
}

// NewOrchestrator creates an orchestrator over a graph and a collaborator
// service.
func NewOrchestrator(g *Graph, svc gen.Service, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		graph:      g,
		svc:        svc,
		logger:     nopLogger{},
		notify:     nopNotify,
		batchDelay: 500 * time.Millisecond,
		offset:     Position{X: 320, Y: 0},
		tasks:      make(map[string]submitted),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit starts a generation task for an origin node. Fire and forget: the
// placeholder node, its edge, and the origin's generating status appear
// synchronously, before the network call, so the graph reflects "work
// started" immediately and independently of request latency; the result
// lands asynchronously.
//
// A validation failure is returned as a *ValidationError (and surfaced via
// the notifier) with no graph mutation at all.
func (o *Orchestrator) Submit(ctx context.Context, originID string, task Task) error {
	o.pruneTasks()

	origin, ok := o.graph.GetNode(originID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, originID)
	}
	if verr := validateTask(task); verr != nil {
		o.notify(NotifyWarning, verr.Message)
		return verr
	}

	placeholder := NewNode(KindResult, origin.Position.Offset(o.offset.X, o.offset.Y))
	placeholder.Data.Status = StatusGenerating
	placeholder.Data.Progress = progressCaption(task.Op)

	// Node and edge are created in one synchronous step; if either add
	// fails nothing runs.
	if err := o.graph.AddNode(placeholder); err != nil {
		return err
	}
	if err := o.graph.AddEdge(NewEdge(originID, placeholder.ID, ChannelImage)); err != nil {
		return err
	}

	// The origin's busy state is part of the synchronous materialization:
	// patching it here, before the worker starts, guarantees the generating
	// mark lands ahead of any completion patch.
	if task.Op == OpExtractCell {
		o.markCellExtracting(originID, task.CellIndex, true)
	} else {
		o.graph.Patch(originID, func(d Data) Data {
			d.Status = StatusGenerating
			d.Progress = ""
			return d
		})
	}

	o.mu.Lock()
	o.tasks[placeholder.ID] = submitted{originID: originID, task: task}
	o.mu.Unlock()

	o.logger.Info(ctx, "task submitted",
		"op", string(task.Op), "origin", originID, "placeholder", placeholder.ID)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, originID, placeholder.ID, task)
	}()
	return nil
}

// Retry re-runs a failed task on its existing error node, moving it back
// to generating. Only nodes in StatusError are retryable.
func (o *Orchestrator) Retry(ctx context.Context, placeholderID string) error {
	node, ok := o.graph.GetNode(placeholderID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, placeholderID)
	}
	if node.Data.Status != StatusError {
		return NewValidationError("status", "only failed generations can be retried")
	}

	o.mu.Lock()
	sub, ok := o.tasks[placeholderID]
	o.mu.Unlock()
	if !ok {
		return NewValidationError("task", "no retryable task recorded for this node")
	}

	o.graph.Patch(placeholderID, func(d Data) Data {
		d.Status = StatusGenerating
		d.StatusMessage = ""
		d.Progress = progressCaption(sub.task.Op)
		return d
	})
	if sub.task.Op == OpExtractCell {
		o.markCellExtracting(sub.originID, sub.task.CellIndex, true)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx, sub.originID, placeholderID, sub.task)
	}()
	return nil
}

// ExtractAll extracts every not-yet-extracted cell of a grid node,
// sequentially with a fixed inter-call delay. The fixed rate is a simple
// admission control for the extraction backend: it is not adaptive and
// does not back off on error. Returns immediately; extraction proceeds in
// the background.
func (o *Orchestrator) ExtractAll(ctx context.Context, gridNodeID string) error {
	node, ok := o.graph.GetNode(gridNodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, gridNodeID)
	}
	if node.Data.Grid == nil {
		return NewValidationError("grid", "node has no composite grid to extract from")
	}

	grid := *node.Data.Grid
	var pending []int
	for _, c := range node.Data.Cells {
		if !c.Extracted() && !c.Extracting {
			pending = append(pending, c.Index)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for i, idx := range pending {
			if i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-o.graph.Lifetime(gridNodeID):
					return
				case <-time.After(o.batchDelay):
				}
			}
			err := o.Submit(ctx, gridNodeID, Task{
				Op:          OpExtractCell,
				ImageURL:    grid.URL,
				CellIndex:   idx,
				GridSize:    grid.CellCount,
				AspectRatio: grid.AspectRatio,
			})
			if err != nil {
				o.logger.Error(ctx, "extract-all submit failed",
					"node", gridNodeID, "cell", idx, "error", err)
			}
		}
	}()
	return nil
}

// Wait blocks until all in-flight tasks have completed. Used by tests and
// by CLI runs that must not exit with work outstanding.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// TaskRecords reports how many submissions are currently recorded for
// manual retry. Records are dropped on success and when their placeholder
// node no longer exists, so only failed nodes still present keep one.
func (o *Orchestrator) TaskRecords() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// pruneTasks drops retry records whose placeholder has been removed from
// the graph, keeping the map bounded over a long session.
func (o *Orchestrator) pruneTasks() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.tasks {
		if _, ok := o.graph.GetNode(id); !ok {
			delete(o.tasks, id)
		}
	}
}

func (o *Orchestrator) dropTask(placeholderID string) {
	o.mu.Lock()
	delete(o.tasks, placeholderID)
	o.mu.Unlock()
}

// run performs the collaborator call and patches the outcome. A placeholder
// removed mid-flight swallows its late result: the lifetime check catches it
// first, and a patch against a dead id is a no-op anyway.
func (o *Orchestrator) run(ctx context.Context, originID, placeholderID string, task Task) {
	outcome, err := o.invoke(ctx, task)
	if err != nil {
		gerr := &GenerationError{NodeID: placeholderID, Op: string(task.Op), Err: err}
		o.logger.Error(ctx, "generation failed",
			"op", string(task.Op), "placeholder", placeholderID, "error", err)
		o.notify(NotifyError, shortMessage(gerr))

		// Canonical failure policy: keep the node, mark it error.
		o.graph.Patch(placeholderID, func(d Data) Data {
			d.Status = StatusError
			d.StatusMessage = shortMessage(err)
			d.Progress = ""
			return d
		})
		if task.Op == OpExtractCell {
			o.markCellExtracting(originID, task.CellIndex, false)
		}
		return
	}

	select {
	case <-o.graph.Lifetime(placeholderID):
		o.logger.Debug(ctx, "dropping late result for removed node",
			"placeholder", placeholderID)
		o.dropTask(placeholderID)
		return
	default:
	}

	o.graph.Patch(placeholderID, func(d Data) Data {
		return outcome.applyToPlaceholder(d)
	})

	// Re-expose the result on the origin so later edges can discover it
	// through connection resolution.
	o.graph.Patch(originID, func(d Data) Data {
		return outcome.applyToOrigin(d, task)
	})

	// A completed task is no longer retryable; its record can go.
	o.dropTask(placeholderID)

	o.logger.Info(ctx, "generation complete",
		"op", string(task.Op), "placeholder", placeholderID)
}

// outcome is the normalized result of any collaborator call.
type outcome struct {
	imageURL    string
	description string
	grid        *GridImage
	cells       []ExtractedCell
	angleName   string
	cellIndex   int
	isCell      bool
}

func (r outcome) applyToPlaceholder(d Data) Data {
	d.Status = StatusReady
	d.Progress = ""
	d.StatusMessage = ""
	d.OutputImage = r.imageURL
	if r.description != "" {
		d.Description = r.description
	}
	if r.grid != nil {
		g := *r.grid
		d.Grid = &g
		d.Cells = r.cells
	}
	return d
}

func (r outcome) applyToOrigin(d Data, task Task) Data {
	if r.isCell {
		for i := range d.Cells {
			if d.Cells[i].Index == r.cellIndex {
				d.Cells[i].ResultURL = r.imageURL
				d.Cells[i].Extracting = false
			}
		}
		return d
	}
	d.OutputImage = r.imageURL
	if d.Status == StatusGenerating {
		d.Status = StatusReady
	}
	return d
}

func (o *Orchestrator) markCellExtracting(nodeID string, index int, extracting bool) {
	o.graph.Patch(nodeID, func(d Data) Data {
		for i := range d.Cells {
			if d.Cells[i].Index == index {
				d.Cells[i].Extracting = extracting
			}
		}
		return d
	})
}

// invoke dispatches one operation to the collaborator service under the
// retry policy.
func (o *Orchestrator) invoke(ctx context.Context, task Task) (outcome, error) {
	var out outcome
	err := o.policy.Do(ctx, func() error {
		var err error
		out, err = o.call(ctx, task)
		return err
	})
	return out, err
}

func (o *Orchestrator) call(ctx context.Context, task Task) (outcome, error) {
	switch task.Op {
	case OpTextToImage:
		res, err := o.svc.TextToImage(ctx, gen.TextToImageRequest{
			Prompt: task.Prompt,
			Model:  task.Model,
			Width:  task.Width,
			Height: task.Height,
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{imageURL: res.ImageURL}, nil

	case OpImageToImage:
		res, err := o.svc.ImageToImage(ctx, gen.ImageToImageRequest{
			Prompt:   task.Prompt,
			ImageURL: task.ImageURL,
			Strength: task.Strength,
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{imageURL: res.ImageURL}, nil

	case OpMultiAngleGrid, OpSequenceGrid:
		req := gen.GridRequest{
			References: toGenReferences(task.References),
			Prompt:     task.Prompt,
			GridSize:   task.GridSize,
			Resolution: task.Resolution,
			Angles:     task.Angles,
			ActionType: task.ActionType,
		}
		var res *gen.GridResult
		var err error
		if task.Op == OpMultiAngleGrid {
			res, err = o.svc.GenerateMultiAngleGrid(ctx, req)
		} else {
			res, err = o.svc.GenerateActionSequenceGrid(ctx, req)
		}
		if err != nil {
			return outcome{}, err
		}
		return gridOutcome(res.GridImageURL, task.AspectRatio, task.GridSize, res.FrameDescriptions)

	case OpDynamicNineGrid:
		res, err := o.svc.GenerateDynamicNineGrid(ctx, gen.NineGridRequest{
			ReferenceURL:     task.ImageURL,
			SceneDescription: task.SceneDescription,
			DynamicAction:    task.DynamicAction,
			AspectRatio:      task.AspectRatio.String(),
		})
		if err != nil {
			return outcome{}, err
		}
		ratio := task.AspectRatio
		if parsed, perr := ParseAspectRatio(res.AspectRatio); perr == nil {
			ratio = parsed
		}
		return gridOutcome(res.GridImageURL, ratio, 9, res.FrameDescriptions)

	case OpShotReverseShot:
		res, err := o.svc.GenerateShotReverseShot(ctx, gen.ShotRequest{
			ReferenceURL:     task.ImageURL,
			ShotType:         task.ShotType,
			CharacterA:       task.CharacterA,
			CharacterB:       task.CharacterB,
			SceneDescription: task.SceneDescription,
			AspectRatio:      task.AspectRatio.String(),
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{imageURL: res.ImageURL, description: res.Description}, nil

	case OpExtractCell:
		res, err := o.svc.ExtractAndUpscaleCell(ctx, gen.ExtractRequest{
			GridImageURL: task.ImageURL,
			CellIndex:    task.CellIndex,
			AspectRatio:  task.AspectRatio.String(),
		})
		if err != nil {
			return outcome{}, err
		}
		return outcome{
			imageURL:  res.UpscaledURL,
			angleName: res.AngleName,
			cellIndex: task.CellIndex,
			isCell:    true,
		}, nil
	}
	return outcome{}, fmt.Errorf("unknown operation %q", task.Op)
}

func gridOutcome(url string, ratio AspectRatio, cellCount int, labels []string) (outcome, error) {
	grid := &GridImage{
		URL:         url,
		AspectRatio: ratio,
		CellCount:   cellCount,
		CellLabels:  labels,
	}
	cells, err := grid.EmptyCells()
	if err != nil {
		return outcome{}, err
	}
	return outcome{imageURL: url, grid: grid, cells: cells}, nil
}

func toGenReferences(refs []ReferenceImage) []gen.Reference {
	out := make([]gen.Reference, 0, len(refs))
	for _, r := range refs {
		out = append(out, gen.Reference{
			URL:         r.URL,
			Role:        string(r.Role),
			Description: r.Description,
		})
	}
	return out
}

// validateTask enforces the per-operation preconditions. The orchestrator
// never calls the collaborator with incomplete input.
func validateTask(t Task) *ValidationError {
	switch t.Op {
	case OpTextToImage:
		if t.Prompt == "" {
			return NewValidationError("prompt", "enter a prompt before generating")
		}
	case OpImageToImage:
		if t.ImageURL == "" {
			return NewValidationError("image", "connect or upload an image first")
		}
		if t.Prompt == "" {
			return NewValidationError("prompt", "enter a prompt before generating")
		}
	case OpMultiAngleGrid, OpSequenceGrid:
		if len(t.References) == 0 {
			return NewValidationError("references", "add a reference image first")
		}
		if t.Prompt == "" {
			return NewValidationError("prompt", "describe the scene before generating")
		}
		if _, err := GridCols(t.GridSize); err != nil {
			return NewValidationError("gridSize", "grid size must be 4 or 9 cells")
		}
	case OpDynamicNineGrid:
		if t.ImageURL == "" {
			return NewValidationError("image", "upload a reference image first")
		}
		if t.DynamicAction == "" {
			return NewValidationError("action", "describe the dynamic action first")
		}
	case OpShotReverseShot:
		if t.ImageURL == "" {
			return NewValidationError("image", "upload a reference image first")
		}
		if t.CharacterA == "" || t.CharacterB == "" {
			return NewValidationError("characters", "two characters must be identified first")
		}
		if t.ShotType == "" {
			return NewValidationError("shotType", "choose a shot type first")
		}
	case OpExtractCell:
		if t.ImageURL == "" {
			return NewValidationError("grid", "no composite image to extract from")
		}
		if _, err := GridCols(t.GridSize); err != nil {
			return NewValidationError("gridSize", "grid size must be 4 or 9 cells")
		}
		if t.CellIndex < 0 || t.CellIndex >= t.GridSize {
			return NewValidationError("cell", "cell index out of range")
		}
	default:
		return NewValidationError("op", fmt.Sprintf("unknown operation %q", t.Op))
	}
	return nil
}

func progressCaption(op Op) string {
	switch op {
	case OpTextToImage:
		return "Generating image…"
	case OpImageToImage:
		return "Transforming image…"
	case OpMultiAngleGrid:
		return "Composing multi-angle grid…"
	case OpSequenceGrid:
		return "Composing action sequence…"
	case OpDynamicNineGrid:
		return "Composing dynamic nine-grid…"
	case OpShotReverseShot:
		return "Generating shot/reverse shot…"
	case OpExtractCell:
		return "Extracting and upscaling cell…"
	}
	return "Generating…"
}
