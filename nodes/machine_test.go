package nodes_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/agentstation/storyflow"
	"github.com/agentstation/storyflow/canvas"
	"github.com/agentstation/storyflow/gen"
	"github.com/agentstation/storyflow/nodes"
	"github.com/agentstation/storyflow/normalize"
)

// stubService answers every operation with canned results.
type stubService struct {
	describeText string
	describeErr  error
}

func (s *stubService) TextToImage(context.Context, gen.TextToImageRequest) (*gen.ImageResult, error) {
	return &gen.ImageResult{ImageURL: "https://cdn.example/generated.png"}, nil
}

func (s *stubService) ImageToImage(context.Context, gen.ImageToImageRequest) (*gen.ImageResult, error) {
	return &gen.ImageResult{ImageURL: "https://cdn.example/transformed.png"}, nil
}

func (s *stubService) DescribeImage(context.Context, string) (*gen.Description, error) {
	if s.describeErr != nil {
		return nil, s.describeErr
	}
	text := s.describeText
	if text == "" {
		text = "a quiet harbor at dawn"
	}
	return &gen.Description{Text: text}, nil
}

func (s *stubService) GenerateMultiAngleGrid(context.Context, gen.GridRequest) (*gen.GridResult, error) {
	return &gen.GridResult{GridImageURL: "https://cdn.example/grid.png", AspectRatio: "1:1"}, nil
}

func (s *stubService) GenerateActionSequenceGrid(context.Context, gen.GridRequest) (*gen.GridResult, error) {
	return &gen.GridResult{GridImageURL: "https://cdn.example/seq.png", AspectRatio: "1:1"}, nil
}

func (s *stubService) GenerateDynamicNineGrid(context.Context, gen.NineGridRequest) (*gen.GridResult, error) {
	return &gen.GridResult{GridImageURL: "https://cdn.example/nine.png", AspectRatio: "16:9"}, nil
}

func (s *stubService) SplitGridImage(_ context.Context, req gen.SplitRequest) (*gen.SplitResult, error) {
	out := &gen.SplitResult{}
	for _, idx := range req.SelectedCells {
		out.ExtractedImages = append(out.ExtractedImages, gen.SplitCell{
			Index: idx,
			URL:   fmt.Sprintf("https://cdn.example/split-%d.png", idx),
		})
	}
	return out, nil
}

func (s *stubService) ExtractAndUpscaleCell(context.Context, gen.ExtractRequest) (*gen.ExtractResult, error) {
	return &gen.ExtractResult{UpscaledURL: "https://cdn.example/cell.png"}, nil
}

func (s *stubService) GenerateShotReverseShot(context.Context, gen.ShotRequest) (*gen.ShotResult, error) {
	return &gen.ShotResult{ImageURL: "https://cdn.example/shot.png", Description: "two angles"}, nil
}

func (s *stubService) OptimizePrompt(_ context.Context, prompt string) (string, error) {
	return "optimized: " + prompt, nil
}

func testRig(t *testing.T, svc gen.Service) (*storyflow.Graph, *storyflow.Orchestrator, *nodes.Machine) {
	t.Helper()
	graph := storyflow.NewGraph()
	orch := storyflow.NewOrchestrator(graph, svc)
	resolver := storyflow.NewResolver(graph)
	chain := normalize.NewChain(nil, "")
	machine := nodes.NewMachine(graph, orch, resolver, svc, chain)
	return graph, orch, machine
}

func addNode(t *testing.T, g *storyflow.Graph, kind storyflow.Kind, mutate func(*storyflow.Data)) storyflow.Node {
	t.Helper()
	node := storyflow.NewNode(kind, storyflow.Position{})
	if mutate != nil {
		mutate(&node.Data)
	}
	if err := g.AddNode(node); err != nil {
		t.Fatal(err)
	}
	return node
}

func dataURL(content string) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(content))
}

func TestPromptGenerate(t *testing.T) {
	t.Run("empty prompt is gated", func(t *testing.T) {
		g, _, m := testRig(t, &stubService{})
		node := addNode(t, g, storyflow.KindPrompt, nil)

		err := m.Generate(context.Background(), node.ID)
		if !storyflow.IsValidation(err) {
			t.Fatalf("got %v, want validation error", err)
		}
		if len(g.Nodes()) != 1 {
			t.Error("gated generation mutated the graph")
		}
	})

	t.Run("generates into a placeholder", func(t *testing.T) {
		g, o, m := testRig(t, &stubService{})
		node := addNode(t, g, storyflow.KindPrompt, func(d *storyflow.Data) {
			d.Prompt = "a lighthouse"
		})

		if err := m.Generate(context.Background(), node.ID); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		o.Wait()

		origin, _ := g.GetNode(node.ID)
		if origin.Data.Status != storyflow.StatusReady {
			t.Errorf("origin status = %s, want ready after completion", origin.Data.Status)
		}
		if origin.Data.OutputImage != "https://cdn.example/generated.png" {
			t.Errorf("origin output = %q", origin.Data.OutputImage)
		}

		if len(g.Nodes()) != 2 {
			t.Fatalf("graph has %d nodes, want origin + placeholder", len(g.Nodes()))
		}
	})
}

func TestImageNodeUpload(t *testing.T) {
	g, _, m := testRig(t, &stubService{})

	t.Run("rejected for non-image kinds", func(t *testing.T) {
		prompt := addNode(t, g, storyflow.KindPrompt, nil)
		err := m.Upload(context.Background(), prompt.ID, dataURL("img"))
		if !storyflow.IsValidation(err) {
			t.Errorf("got %v, want validation error", err)
		}
	})

	t.Run("marks manual edit", func(t *testing.T) {
		img := addNode(t, g, storyflow.KindImage, nil)
		if err := m.Upload(context.Background(), img.ID, dataURL("img")); err != nil {
			t.Fatalf("Upload: %v", err)
		}
		got, _ := g.GetNode(img.ID)
		if !got.Data.HasUserUpload {
			t.Error("upload did not set HasUserUpload")
		}
		if got.Data.Status != storyflow.StatusReady {
			t.Errorf("status = %s, want ready", got.Data.Status)
		}
		if got.Data.InputImage == "" {
			t.Error("upload stored no image")
		}
	})

	t.Run("result nodes never self-initiate", func(t *testing.T) {
		result := addNode(t, g, storyflow.KindResult, nil)
		err := m.Generate(context.Background(), result.ID)
		if !storyflow.IsValidation(err) {
			t.Errorf("got %v, want validation error", err)
		}
	})
}

func TestAnalyze(t *testing.T) {
	g, _, m := testRig(t, &stubService{describeText: "weathered rowboat on gravel"})
	img := addNode(t, g, storyflow.KindImage, func(d *storyflow.Data) {
		d.InputImage = dataURL("img")
		d.Status = storyflow.StatusReady
	})

	if err := m.Analyze(context.Background(), img.ID); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	got, _ := g.GetNode(img.ID)
	if got.Data.Description != "weathered rowboat on gravel" {
		t.Errorf("description = %q", got.Data.Description)
	}
	if got.Data.Status != storyflow.StatusReady {
		t.Errorf("status = %s", got.Data.Status)
	}

	t.Run("requires an image", func(t *testing.T) {
		bare := addNode(t, g, storyflow.KindImage, nil)
		if err := m.Analyze(context.Background(), bare.ID); !storyflow.IsValidation(err) {
			t.Errorf("got %v, want validation error", err)
		}
	})
}

func TestMultiAngleGate(t *testing.T) {
	g, o, m := testRig(t, &stubService{})

	t.Run("needs references", func(t *testing.T) {
		node := addNode(t, g, storyflow.KindMultiAngle, func(d *storyflow.Data) {
			d.Description = "studio turntable"
		})
		if err := m.Generate(context.Background(), node.ID); !storyflow.IsValidation(err) {
			t.Errorf("got %v, want validation error", err)
		}
	})

	t.Run("needs a description", func(t *testing.T) {
		node := addNode(t, g, storyflow.KindMultiAngle, func(d *storyflow.Data) {
			d.References = []storyflow.ReferenceImage{{URL: dataURL("ref"), Role: storyflow.RoleSubject}}
		})
		if err := m.Generate(context.Background(), node.ID); !storyflow.IsValidation(err) {
			t.Errorf("got %v, want validation error", err)
		}
	})

	t.Run("generates a grid", func(t *testing.T) {
		node := addNode(t, g, storyflow.KindMultiAngle, func(d *storyflow.Data) {
			d.References = []storyflow.ReferenceImage{{URL: dataURL("ref"), Role: storyflow.RoleSubject}}
			d.Description = "studio turntable"
		})
		if err := m.Generate(context.Background(), node.ID); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		o.Wait()

		var placeholder storyflow.Node
		for _, n := range g.Nodes() {
			if n.Data.Grid != nil {
				placeholder = n
			}
		}
		if placeholder.ID == "" {
			t.Fatal("no grid placeholder produced")
		}
		if placeholder.Data.Grid.CellCount != 4 {
			t.Errorf("default cell count = %d, want 4", placeholder.Data.Grid.CellCount)
		}
	})
}

func TestShotReverseGate(t *testing.T) {
	g, o, m := testRig(t, &stubService{})
	ctx := context.Background()

	node := addNode(t, g, storyflow.KindShotReverse, nil)

	// Stage one: an image is required first.
	if err := m.Generate(ctx, node.ID); !storyflow.IsValidation(err) {
		t.Fatalf("stage 1: got %v, want validation error", err)
	}

	g.Patch(node.ID, func(d storyflow.Data) storyflow.Data {
		d.InputImage = dataURL("two people")
		return d
	})

	// Stage two: characters next.
	if err := m.Generate(ctx, node.ID); !storyflow.IsValidation(err) {
		t.Fatalf("stage 2: got %v, want validation error", err)
	}

	if err := m.SetCharacters(node.ID, "Mara", "Ode"); err != nil {
		t.Fatal(err)
	}

	// Stage three: a shot type completes the gate.
	if err := m.Generate(ctx, node.ID); !storyflow.IsValidation(err) {
		t.Fatalf("stage 3: got %v, want validation error", err)
	}

	if err := m.SetShotType(node.ID, "over-the-shoulder"); err != nil {
		t.Fatal(err)
	}
	if err := m.Generate(ctx, node.ID); err != nil {
		t.Fatalf("gated generate: %v", err)
	}
	o.Wait()

	origin, _ := g.GetNode(node.ID)
	if origin.Data.OutputImage != "https://cdn.example/shot.png" {
		t.Errorf("origin output = %q", origin.Data.OutputImage)
	}
}

func TestIdentifyCharacters(t *testing.T) {
	g, _, m := testRig(t, &stubService{
		describeText: "Mara and Ode argue across a rain-soaked market stall.",
	})
	node := addNode(t, g, storyflow.KindShotReverse, func(d *storyflow.Data) {
		d.InputImage = dataURL("scene")
	})

	if err := m.IdentifyCharacters(context.Background(), node.ID); err != nil {
		t.Fatalf("IdentifyCharacters: %v", err)
	}
	got, _ := g.GetNode(node.ID)
	if len(got.Data.Characters) != 2 || got.Data.Characters[0] != "Mara" || got.Data.Characters[1] != "Ode" {
		t.Errorf("characters = %v", got.Data.Characters)
	}
	if got.Data.Description == "" {
		t.Error("analysis description not stored")
	}
}

func TestParseCharacters(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "named pair",
			in:   "Mara and Ode face each other across the table.",
			want: []string{"Mara", "Ode"},
		},
		{
			name: "multi-word names",
			in:   "Captain Reyes and Doctor Vale stand in the corridor.",
			want: []string{"Captain Reyes", "Doctor Vale"},
		},
		{
			name: "generic pair",
			in:   "The frame shows two people in a dim kitchen.",
			want: []string{"Character A", "Character B"},
		},
		{
			name: "no pair",
			in:   "A single figure walks along an empty beach.",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nodes.ParseCharacters(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseCharacters = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseCharacters = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestOptimizePrompt(t *testing.T) {
	g, _, m := testRig(t, &stubService{})
	node := addNode(t, g, storyflow.KindPrompt, func(d *storyflow.Data) {
		d.Prompt = "a lighthouse"
	})

	if err := m.OptimizePrompt(context.Background(), node.ID); err != nil {
		t.Fatalf("OptimizePrompt: %v", err)
	}
	got, _ := g.GetNode(node.ID)
	if got.Data.Prompt != "optimized: a lighthouse" {
		t.Errorf("prompt = %q, want the refined prompt stored", got.Data.Prompt)
	}

	t.Run("requires a prompt", func(t *testing.T) {
		bare := addNode(t, g, storyflow.KindPrompt, nil)
		if err := m.OptimizePrompt(context.Background(), bare.ID); !storyflow.IsValidation(err) {
			t.Errorf("got %v, want validation error", err)
		}
	})

	t.Run("refines before generating when flagged", func(t *testing.T) {
		g, o, m := testRig(t, &stubService{})
		node := addNode(t, g, storyflow.KindPrompt, func(d *storyflow.Data) {
			d.Prompt = "a rough idea"
			d.Extra = map[string]any{"optimizePrompt": true}
		})

		if err := m.Generate(context.Background(), node.ID); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		o.Wait()

		got, _ := g.GetNode(node.ID)
		if got.Data.Prompt != "optimized: a rough idea" {
			t.Errorf("prompt = %q, want the refined prompt stored", got.Data.Prompt)
		}
	})
}

func TestSplitAll(t *testing.T) {
	g, _, m := testRig(t, &stubService{})

	grid := storyflow.GridImage{URL: "https://cdn.example/grid.png", AspectRatio: storyflow.RatioSquare, CellCount: 4}
	cells, err := grid.EmptyCells()
	if err != nil {
		t.Fatal(err)
	}
	cells[2].ResultURL = "already.png" // skipped by the split

	node := addNode(t, g, storyflow.KindMultiAngle, func(d *storyflow.Data) {
		d.Status = storyflow.StatusReady
		d.Grid = &grid
		d.Cells = cells
	})

	if err := m.SplitAll(context.Background(), node.ID); err != nil {
		t.Fatalf("SplitAll: %v", err)
	}

	got, _ := g.GetNode(node.ID)
	for _, i := range []int{0, 1, 3} {
		want := fmt.Sprintf("https://cdn.example/split-%d.png", i)
		if got.Data.Cells[i].ResultURL != want {
			t.Errorf("cell %d result = %q, want %q", i, got.Data.Cells[i].ResultURL, want)
		}
		if got.Data.Cells[i].Extracting {
			t.Errorf("cell %d still marked extracting", i)
		}
	}
	if got.Data.Cells[2].ResultURL != "already.png" {
		t.Errorf("cell 2 result = %q, want the earlier extraction kept", got.Data.Cells[2].ResultURL)
	}
	// No placeholder nodes: the split lands on the grid node itself.
	if len(g.Nodes()) != 1 {
		t.Errorf("graph has %d nodes, want 1", len(g.Nodes()))
	}

	t.Run("requires a grid", func(t *testing.T) {
		bare := addNode(t, g, storyflow.KindMultiAngle, nil)
		if err := m.SplitAll(context.Background(), bare.ID); !storyflow.IsValidation(err) {
			t.Errorf("got %v, want validation error", err)
		}
	})

	t.Run("nothing pending is a no-op", func(t *testing.T) {
		if err := m.SplitAll(context.Background(), node.ID); err != nil {
			t.Errorf("SplitAll with all cells done: %v", err)
		}
	})
}

func TestMachineClear(t *testing.T) {
	g, _, m := testRig(t, &stubService{})
	node := addNode(t, g, storyflow.KindImage, func(d *storyflow.Data) {
		d.Status = storyflow.StatusReady
		d.InputImage = "x.png"
		d.Description = "desc"
		d.HasUserUpload = true
	})

	if err := m.Clear(node.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := g.GetNode(node.ID)
	if got.Data.Status != storyflow.StatusIdle || got.Data.InputImage != "" ||
		got.Data.Description != "" || got.Data.HasUserUpload {
		t.Errorf("Clear left state behind: %+v", got.Data)
	}
}

func TestRegisterAllBuilds(t *testing.T) {
	loader := canvas.NewLoader()
	registry := nodes.RegisterAll(loader)

	for _, kind := range []string{
		"prompt", "image", "transform", "multi-angle-grid",
		"sequence-grid", "shot-reverse-shot", "result",
	} {
		if _, ok := registry.Get(kind); !ok {
			t.Errorf("kind %q not registered", kind)
		}
	}

	t.Run("image definition counts as manual edit", func(t *testing.T) {
		builder, _ := registry.Get("image")
		node, err := builder.Build(&canvas.NodeDefinition{
			Name: "n", Kind: "image",
			Config: map[string]any{"inputImage": "https://cdn.example/x.png"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if !node.Data.HasUserUpload {
			t.Error("definition-supplied image should mark HasUserUpload")
		}
	})

	t.Run("invalid config rejected at load", func(t *testing.T) {
		_, _, err := loader.LoadString(`name: bad
nodes:
  - name: grid
    kind: multi-angle-grid
    config:
      gridSize: 6
`)
		if err == nil {
			t.Error("loader accepted an invalid gridSize")
		}
	})

	t.Run("shot builder extracts gate fields", func(t *testing.T) {
		builder, _ := registry.Get("shot-reverse-shot")
		node, err := builder.Build(&canvas.NodeDefinition{
			Name: "n", Kind: "shot-reverse-shot",
			Config: map[string]any{
				"characters": []any{"Mara", "Ode"},
				"shotType":   "over-the-shoulder",
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(node.Data.Characters) != 2 || node.Data.ShotType != "over-the-shoulder" {
			t.Errorf("gate fields not extracted: %+v", node.Data)
		}
	})
}
