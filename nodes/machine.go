package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentstation/storyflow"
	"github.com/agentstation/storyflow/gen"
	"github.com/agentstation/storyflow/normalize"
)

// Machine drives nodes through their lifecycle. One machine serves the
// whole graph: every operation takes the node id it acts on, checks the
// node's kind and gate, and delegates mutation to the graph and task
// submission to the orchestrator.
type Machine struct {
	graph    *storyflow.Graph
	orch     *storyflow.Orchestrator
	resolver *storyflow.Resolver
	svc      gen.Service
	chain    *normalize.Chain
	logger   storyflow.Logger
	notify   storyflow.Notifier
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithMachineLogger attaches a logger.
func WithMachineLogger(l storyflow.Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

// WithMachineNotifier sets the user-facing notification sink.
func WithMachineNotifier(n storyflow.Notifier) MachineOption {
	return func(m *Machine) { m.notify = n }
}

// NewMachine creates a machine over the engine parts.
func NewMachine(
	graph *storyflow.Graph,
	orch *storyflow.Orchestrator,
	resolver *storyflow.Resolver,
	svc gen.Service,
	chain *normalize.Chain,
	opts ...MachineOption,
) *Machine {
	m := &Machine{
		graph:    graph,
		orch:     orch,
		resolver: resolver,
		svc:      svc,
		chain:    chain,
		logger:   storyflow.NopLogger(),
		notify:   func(storyflow.NotifyLevel, string) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) node(id string) (storyflow.Node, error) {
	node, ok := m.graph.GetNode(id)
	if !ok {
		return storyflow.Node{}, fmt.Errorf("%w: %s", storyflow.ErrNodeNotFound, id)
	}
	return node, nil
}

// SetPrompt updates a node's prompt text.
func (m *Machine) SetPrompt(id, prompt string) error {
	if _, err := m.node(id); err != nil {
		return err
	}
	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.Prompt = prompt
		return d
	})
	return nil
}

// SetShotType records the shot framing on a shot/reverse-shot node.
func (m *Machine) SetShotType(id, shotType string) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}
	if node.Kind != storyflow.KindShotReverse {
		return storyflow.NewValidationError("kind", "shot type applies to shot-reverse-shot nodes only")
	}
	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.ShotType = shotType
		return d
	})
	return nil
}

// SetCharacters records the two characters on a shot/reverse-shot node.
func (m *Machine) SetCharacters(id, characterA, characterB string) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}
	if node.Kind != storyflow.KindShotReverse {
		return storyflow.NewValidationError("kind", "characters apply to shot-reverse-shot nodes only")
	}
	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.Characters = []string{characterA, characterB}
		return d
	})
	return nil
}

// AddReference appends one conditioning image to a grid node's reference
// set. The set is mutable until a generation is submitted; submission
// copies it.
func (m *Machine) AddReference(id string, ref storyflow.ReferenceImage) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}
	if node.Kind != storyflow.KindMultiAngle && node.Kind != storyflow.KindSequence {
		return storyflow.NewValidationError("kind", "references apply to grid generator nodes only")
	}
	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.References = append(d.References, ref)
		return d
	})
	return nil
}

// Clear resets a node to idle, destructively and totally.
func (m *Machine) Clear(id string) error {
	if _, err := m.node(id); err != nil {
		return err
	}
	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		return d.Clear()
	})
	return nil
}

// Upload ingests a user-supplied image into an image node: uploading
// status while the normalization chain runs, then ready with the
// normalized payload. The upload marks the node as manually edited so
// inherited input never overwrites it.
func (m *Machine) Upload(ctx context.Context, id, rawURL string) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}
	if node.Kind != storyflow.KindImage {
		return storyflow.NewValidationError("kind", "uploads apply to image nodes only")
	}

	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.Status = storyflow.StatusUploading
		d.StatusMessage = ""
		return d
	})

	payload, err := m.chain.Normalize(ctx, rawURL)
	if err != nil {
		m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
			d.Status = storyflow.StatusError
			d.StatusMessage = "image could not be loaded"
			return d
		})
		m.notify(storyflow.NotifyError, "image could not be loaded")
		return err
	}

	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.InputImage = payload.DataURL()
		d.HasUserUpload = true
		d.Status = storyflow.StatusReady
		return d
	})
	return nil
}

// Analyze describes a node's input image and stores the result. Blocks
// until the collaborator answers.
func (m *Machine) Analyze(ctx context.Context, id string) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}
	if node.Data.InputImage == "" {
		return storyflow.NewValidationError("image", "connect or upload an image first")
	}

	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.Status = storyflow.StatusAnalyzing
		return d
	})

	desc, err := m.svc.DescribeImage(ctx, node.Data.InputImage)
	if err != nil {
		m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
			d.Status = storyflow.StatusError
			d.StatusMessage = "analysis failed"
			return d
		})
		return &storyflow.GenerationError{NodeID: id, Op: "describe-image", Err: err}
	}

	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.Description = desc.Text
		d.Status = storyflow.StatusReady
		return d
	})
	return nil
}

// IdentifyCharacters runs the first gate of the shot/reverse-shot flow:
// describe the input image and parse the two characters out of the
// description. Characters already set by the user are kept.
func (m *Machine) IdentifyCharacters(ctx context.Context, id string) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}
	if node.Kind != storyflow.KindShotReverse {
		return storyflow.NewValidationError("kind", "character identification applies to shot-reverse-shot nodes only")
	}
	if node.Data.InputImage == "" {
		return storyflow.NewValidationError("image", "upload a reference image first")
	}
	if len(node.Data.Characters) == 2 {
		return nil
	}

	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.Status = storyflow.StatusAnalyzing
		d.Progress = "Identifying characters…"
		return d
	})

	desc, err := m.svc.DescribeImage(ctx, node.Data.InputImage)
	if err != nil {
		m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
			d.Status = storyflow.StatusError
			d.StatusMessage = "character identification failed"
			d.Progress = ""
			return d
		})
		return &storyflow.GenerationError{NodeID: id, Op: "identify-characters", Err: err}
	}

	characters := ParseCharacters(desc.Text)
	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.Description = desc.Text
		d.Characters = characters
		d.Status = storyflow.StatusReady
		d.Progress = ""
		return d
	})

	if len(characters) < 2 {
		m.notify(storyflow.NotifyWarning, "could not identify two characters; name them manually")
	}
	return nil
}

// Inherit starts a background binding that keeps the node's input image
// in sync with whatever upstream node feeds it. Returns immediately; the
// binding ends with ctx or with the node.
func (m *Machine) Inherit(ctx context.Context, id string) {
	go m.resolver.BindInputImage(ctx, id)
}

// Generate fires the node kind's generation operation. The gate is
// checked per kind before anything mutates; result nodes refuse.
func (m *Machine) Generate(ctx context.Context, id string) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}

	switch node.Kind {
	case storyflow.KindPrompt:
		return m.generateFromPrompt(ctx, node)
	case storyflow.KindTransform:
		return m.generateTransform(ctx, node)
	case storyflow.KindMultiAngle:
		return m.generateMultiAngle(ctx, node)
	case storyflow.KindSequence:
		return m.generateSequence(ctx, node)
	case storyflow.KindShotReverse:
		return m.generateShotReverse(ctx, node)
	case storyflow.KindImage, storyflow.KindResult:
		return storyflow.NewValidationError("kind",
			fmt.Sprintf("%s nodes do not initiate generation", node.Kind))
	}
	return storyflow.NewValidationError("kind", fmt.Sprintf("unknown node kind %q", node.Kind))
}

func (m *Machine) generateFromPrompt(ctx context.Context, node storyflow.Node) error {
	if strings.TrimSpace(node.Data.Prompt) == "" {
		return storyflow.NewValidationError("prompt", "enter a prompt before generating")
	}

	prompt := node.Data.Prompt
	if extraBool(node.Data.Extra, "optimizePrompt") {
		refined, err := m.svc.OptimizePrompt(ctx, prompt)
		if err != nil {
			// Refinement is best effort; the prompt as written still works.
			m.notify(storyflow.NotifyWarning, "prompt optimization failed; using the prompt as written")
		} else {
			prompt = refined
			m.graph.Patch(node.ID, func(d storyflow.Data) storyflow.Data {
				d.Prompt = refined
				return d
			})
		}
	}

	return m.submit(ctx, node.ID, storyflow.Task{
		Op:     storyflow.OpTextToImage,
		Prompt: prompt,
		Model:  extraString(node.Data.Extra, "model"),
	})
}

// OptimizePrompt rewrites a node's rough prompt into a precise generation
// prompt via the text collaborator and stores the result on the node.
func (m *Machine) OptimizePrompt(ctx context.Context, id string) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}
	if strings.TrimSpace(node.Data.Prompt) == "" {
		return storyflow.NewValidationError("prompt", "enter a prompt before optimizing")
	}

	refined, err := m.svc.OptimizePrompt(ctx, node.Data.Prompt)
	if err != nil {
		return &storyflow.GenerationError{NodeID: id, Op: "optimize-prompt", Err: err}
	}
	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		d.Prompt = refined
		return d
	})
	return nil
}

func (m *Machine) generateTransform(ctx context.Context, node storyflow.Node) error {
	if node.Data.InputImage == "" {
		return storyflow.NewValidationError("image", "connect or upload an image first")
	}
	if strings.TrimSpace(node.Data.Prompt) == "" {
		return storyflow.NewValidationError("prompt", "enter a prompt before generating")
	}

	payload, err := m.chain.Normalize(ctx, node.Data.InputImage)
	if err != nil {
		m.notify(storyflow.NotifyError, "input image could not be prepared")
		return err
	}

	return m.submit(ctx, node.ID, storyflow.Task{
		Op:       storyflow.OpImageToImage,
		Prompt:   node.Data.Prompt,
		ImageURL: payload.DataURL(),
		Strength: extraFloat(node.Data.Extra, "strength"),
	})
}

func (m *Machine) generateMultiAngle(ctx context.Context, node storyflow.Node) error {
	refs, err := m.references(ctx, node)
	if err != nil {
		return err
	}
	if strings.TrimSpace(node.Data.Description) == "" && strings.TrimSpace(node.Data.Prompt) == "" {
		return storyflow.NewValidationError("description", "describe the scene before generating")
	}

	prompt := node.Data.Prompt
	if prompt == "" {
		prompt = node.Data.Description
	}

	gridSize := extraInt(node.Data.Extra, "gridSize")
	if gridSize == 0 {
		gridSize = 4
	}

	return m.submit(ctx, node.ID, storyflow.Task{
		Op:          storyflow.OpMultiAngleGrid,
		Prompt:      prompt,
		References:  refs,
		GridSize:    gridSize,
		Resolution:  extraString(node.Data.Extra, "resolution"),
		Angles:      extraStrings(node.Data.Extra, "angles"),
		AspectRatio: extraRatio(node.Data.Extra, "aspectRatio"),
	})
}

func (m *Machine) generateSequence(ctx context.Context, node storyflow.Node) error {
	// With a reference set this is an action-sequence composite; with a
	// single input image it is the dynamic 3×3 sequence.
	if len(node.Data.References) > 0 {
		refs, err := m.references(ctx, node)
		if err != nil {
			return err
		}
		if strings.TrimSpace(node.Data.Prompt) == "" && strings.TrimSpace(node.Data.Description) == "" {
			return storyflow.NewValidationError("description", "describe the action before generating")
		}
		prompt := node.Data.Prompt
		if prompt == "" {
			prompt = node.Data.Description
		}
		gridSize := extraInt(node.Data.Extra, "gridSize")
		if gridSize == 0 {
			gridSize = 9
		}
		return m.submit(ctx, node.ID, storyflow.Task{
			Op:          storyflow.OpSequenceGrid,
			Prompt:      prompt,
			References:  refs,
			GridSize:    gridSize,
			ActionType:  extraString(node.Data.Extra, "actionType"),
			AspectRatio: extraRatio(node.Data.Extra, "aspectRatio"),
		})
	}

	if node.Data.InputImage == "" {
		return storyflow.NewValidationError("image", "upload a reference image first")
	}
	action := extraString(node.Data.Extra, "dynamicAction")
	if action == "" {
		action = node.Data.Description
	}
	if strings.TrimSpace(action) == "" {
		return storyflow.NewValidationError("action", "describe the dynamic action first")
	}

	payload, err := m.chain.Normalize(ctx, node.Data.InputImage)
	if err != nil {
		m.notify(storyflow.NotifyError, "reference image could not be prepared")
		return err
	}

	return m.submit(ctx, node.ID, storyflow.Task{
		Op:               storyflow.OpDynamicNineGrid,
		ImageURL:         payload.DataURL(),
		SceneDescription: node.Data.Description,
		DynamicAction:    action,
		AspectRatio:      extraRatio(node.Data.Extra, "aspectRatio"),
	})
}

func (m *Machine) generateShotReverse(ctx context.Context, node storyflow.Node) error {
	// Three-stage gate: image, then two characters, then a shot type.
	if node.Data.InputImage == "" {
		return storyflow.NewValidationError("image", "upload a reference image first")
	}
	if len(node.Data.Characters) < 2 {
		return storyflow.NewValidationError("characters", "identify the two characters first")
	}
	if node.Data.ShotType == "" {
		return storyflow.NewValidationError("shotType", "choose a shot type first")
	}

	payload, err := m.chain.Normalize(ctx, node.Data.InputImage)
	if err != nil {
		m.notify(storyflow.NotifyError, "reference image could not be prepared")
		return err
	}

	return m.submit(ctx, node.ID, storyflow.Task{
		Op:               storyflow.OpShotReverseShot,
		ImageURL:         payload.DataURL(),
		ShotType:         node.Data.ShotType,
		CharacterA:       node.Data.Characters[0],
		CharacterB:       node.Data.Characters[1],
		SceneDescription: node.Data.Description,
		AspectRatio:      extraRatio(node.Data.Extra, "aspectRatio"),
	})
}

// references normalizes the node's conditioning set and returns the
// immutable copy submitted with the task.
func (m *Machine) references(ctx context.Context, node storyflow.Node) ([]storyflow.ReferenceImage, error) {
	if len(node.Data.References) == 0 {
		return nil, storyflow.NewValidationError("references", "add a reference image first")
	}

	urls := make([]string, len(node.Data.References))
	for i, ref := range node.Data.References {
		urls[i] = ref.URL
	}
	payloads, err := m.chain.NormalizeAll(ctx, urls)
	if err != nil {
		m.notify(storyflow.NotifyError, "a reference image could not be prepared")
		return nil, err
	}

	refs := make([]storyflow.ReferenceImage, len(node.Data.References))
	for i, ref := range node.Data.References {
		refs[i] = storyflow.ReferenceImage{
			URL:         payloads[i].DataURL(),
			Role:        ref.Role,
			Description: ref.Description,
		}
	}
	return refs, nil
}

// submit hands the task to the orchestrator, which moves the origin to
// generating as part of its synchronous materialization. A validation
// failure leaves the origin untouched.
func (m *Machine) submit(ctx context.Context, originID string, task storyflow.Task) error {
	return m.orch.Submit(ctx, originID, task)
}

// ExtractCell extracts and upscales one cell of a grid node's composite.
func (m *Machine) ExtractCell(ctx context.Context, id string, index int) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}
	if node.Data.Grid == nil {
		return storyflow.NewValidationError("grid", "node has no composite grid to extract from")
	}
	grid := *node.Data.Grid
	return m.orch.Submit(ctx, id, storyflow.Task{
		Op:          storyflow.OpExtractCell,
		ImageURL:    grid.URL,
		CellIndex:   index,
		GridSize:    grid.CellCount,
		AspectRatio: grid.AspectRatio,
	})
}

// ExtractAll extracts every pending cell of a grid node.
func (m *Machine) ExtractAll(ctx context.Context, id string) error {
	return m.orch.ExtractAll(ctx, id)
}

// SplitAll slices every pending cell of a grid node's composite in one
// server-side call. Unlike ExtractAll, no cell is upscaled and no
// placeholder nodes appear: the results land directly on the grid node's
// cells. Blocks until the backend answers.
func (m *Machine) SplitAll(ctx context.Context, id string) error {
	node, err := m.node(id)
	if err != nil {
		return err
	}
	if node.Data.Grid == nil {
		return storyflow.NewValidationError("grid", "node has no composite grid to split")
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

	m.setCellsExtracting(id, pending, true)

	res, err := m.svc.SplitGridImage(ctx, gen.SplitRequest{
		GridImageURL:  grid.URL,
		GridSize:      grid.CellCount,
		SelectedCells: pending,
	})
	if err != nil {
		m.setCellsExtracting(id, pending, false)
		m.notify(storyflow.NotifyError, "grid split failed")
		return &storyflow.GenerationError{NodeID: id, Op: "split-grid", Err: err}
	}

	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		for _, img := range res.ExtractedImages {
			for i := range d.Cells {
				if d.Cells[i].Index == img.Index {
					d.Cells[i].ResultURL = img.URL
				}
			}
		}
		// Cells the backend skipped return to pending.
		for i := range d.Cells {
			d.Cells[i].Extracting = false
		}
		return d
	})
	return nil
}

func (m *Machine) setCellsExtracting(id string, indices []int, extracting bool) {
	m.graph.Patch(id, func(d storyflow.Data) storyflow.Data {
		for _, idx := range indices {
			for i := range d.Cells {
				if d.Cells[i].Index == idx {
					d.Cells[i].Extracting = extracting
				}
			}
		}
		return d
	})
}

// Retry re-runs the failed generation behind an error node.
func (m *Machine) Retry(ctx context.Context, id string) error {
	return m.orch.Retry(ctx, id)
}

// Export builds the drag-export payload for a node.
func (m *Machine) Export(id, name string) (storyflow.ExportPayload, error) {
	node, err := m.node(id)
	if err != nil {
		return storyflow.ExportPayload{}, err
	}
	payload, ok := node.Export(name)
	if !ok {
		return storyflow.ExportPayload{}, storyflow.NewValidationError("output", "node has nothing exportable yet")
	}
	return payload, nil
}

// characterPair matches "X and Y" with both sides starting on a capital,
// the usual shape of a two-subject description opening.
var characterPair = regexp.MustCompile(
	`([A-Z][\w'-]*(?: [A-Z][\w'-]*)*) and ([A-Z][\w'-]*(?: [A-Z][\w'-]*)*)`)

// ParseCharacters pulls up to two character names out of an image
// description. Descriptions without a recognizable pair yield generic
// labels from the leading noun phrases so the caller can still prompt the
// user to correct them.
func ParseCharacters(description string) []string {
	if match := characterPair.FindStringSubmatch(description); match != nil {
		return []string{match[1], match[2]}
	}

	lower := strings.ToLower(description)
	for _, marker := range []string{"two people", "two figures", "two characters", "a man and a woman"} {
		if strings.Contains(lower, marker) {
			return []string{"Character A", "Character B"}
		}
	}
	return nil
}

func extraString(extra map[string]any, key string) string {
	if v, ok := extra[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func extraInt(extra map[string]any, key string) int {
	switch v := extra[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func extraBool(extra map[string]any, key string) bool {
	if v, ok := extra[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func extraFloat(extra map[string]any, key string) float64 {
	switch v := extra[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func extraStrings(extra map[string]any, key string) []string {
	v, ok := extra[key]
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

func extraRatio(extra map[string]any, key string) storyflow.AspectRatio {
	if s := extraString(extra, key); s != "" {
		if ratio, err := storyflow.ParseAspectRatio(s); err == nil {
			return ratio
		}
	}
	return storyflow.RatioSquare
}
