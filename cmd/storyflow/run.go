package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/storyflow"
	"github.com/agentstation/storyflow/canvas"
	"github.com/agentstation/storyflow/gen"
	"github.com/agentstation/storyflow/internal/config"
	"github.com/agentstation/storyflow/internal/retry"
	"github.com/agentstation/storyflow/nodes"
	"github.com/agentstation/storyflow/normalize"
)

var dryRun bool

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run <file.yaml>",
	Short: "Execute a canvas from a YAML file",
	Long: `Load a canvas definition, materialize its graph, and drive every
generator node whose gate is satisfied. Generation proceeds in rounds:
each round fires the nodes that became ready when the previous round's
results landed.`,
	Example: `  # Execute a canvas
  storyflow run canvas.yaml

  # Validate without executing
  storyflow run canvas.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCanvas(cmd.Context(), args[0])
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the canvas without executing")
	rootCmd.AddCommand(runCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		cfg.FillFromEnv()
		return cfg, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.FillFromEnv()
	return cfg, nil
}

func runCanvas(ctx context.Context, filename string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := cliLogger{verbose: verbose}
	loader := canvas.NewLoader(storyflow.WithGraphLogger(logger))
	nodes.RegisterAll(loader)

	graph, ids, err := loader.LoadFile(filename)
	if err != nil {
		return fmt.Errorf("load canvas: %w", err)
	}

	names := make(map[string]string, len(ids))
	for name, id := range ids {
		names[id] = name
	}

	if dryRun {
		fmt.Printf("Canvas is valid: %d nodes, %d edges\n",
			len(graph.Nodes()), len(graph.ListEdges()))
		return nil
	}

	svc, err := gen.NewService(ctx, gen.Options{
		TextProvider:     cfg.Providers.Text,
		VisionProvider:   cfg.Providers.Vision,
		OpenAIKey:        cfg.OpenAI.APIKey,
		OpenAIBaseURL:    cfg.OpenAI.BaseURL,
		OpenAIChatModel:  cfg.OpenAI.ChatModel,
		OpenAIImageModel: cfg.OpenAI.ImageModel,
		GeminiKey:        cfg.Gemini.APIKey,
		GeminiModel:      cfg.Gemini.Model,
		AnthropicKey:     cfg.Anthropic.APIKey,
		AnthropicBaseURL: cfg.Anthropic.BaseURL,
		AnthropicModel:   cfg.Anthropic.Model,
		StudioBaseURL:    cfg.Studio.BaseURL,
		StudioAPIKey:     cfg.Studio.APIKey,
	})
	if err != nil {
		return err
	}
	svc = gen.Breaker(gen.Logging(svc, logger), 5, 30*time.Second)

	policy := retry.Policy{}
	if cfg.Retry.MaxAttempts > 1 {
		policy = retry.Policy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
			Multiplier:   cfg.Retry.Multiplier,
		}
	}

	orch := storyflow.NewOrchestrator(graph, svc,
		storyflow.WithOrchestratorLogger(logger),
		storyflow.WithNotifier(func(level storyflow.NotifyLevel, msg string) {
			log.Printf("%s: %s", level, msg)
		}),
		storyflow.WithRetryPolicy(policy),
		storyflow.WithBatchDelay(cfg.BatchDelay()),
	)
	resolver := storyflow.NewResolver(graph,
		storyflow.WithPollInterval(cfg.PollInterval()),
		storyflow.WithResolverLogger(logger),
	)
	chain := normalize.NewChain(nil, cfg.Engine.ProxyBase, normalize.WithLogger(logger))
	machine := nodes.NewMachine(graph, orch, resolver, svc, chain,
		nodes.WithMachineLogger(logger),
	)

	// Fire in rounds: a round submits every generator whose gate is
	// satisfied, waits for the results, then pulls freshly produced
	// artifacts into downstream inputs and goes again. Stops when a round
	// makes no progress.
	pending := generatorIDs(graph)
	for round := 0; len(pending) > 0 && round < len(graph.Nodes()); round++ {
		fired := 0
		var remaining []string
		for _, id := range pending {
			if err := machine.Generate(ctx, id); err != nil {
				if storyflow.IsValidation(err) {
					logger.Debug(ctx, "node not ready", "node", names[id], "reason", err)
					remaining = append(remaining, id)
					continue
				}
				return fmt.Errorf("node %s: %w", names[id], err)
			}
			fired++
		}
		orch.Wait()
		if fired == 0 {
			break
		}
		pending = remaining
		pullInputs(graph, resolver)
	}
	orch.Wait()

	return printResults(graph, names)
}

// generatorIDs returns ids of the kinds that self-initiate generation.
func generatorIDs(graph *storyflow.Graph) []string {
	var out []string
	for _, node := range graph.Nodes() {
		switch node.Kind {
		case storyflow.KindPrompt, storyflow.KindTransform, storyflow.KindMultiAngle,
			storyflow.KindSequence, storyflow.KindShotReverse:
			out = append(out, node.ID)
		}
	}
	return out
}

// pullInputs resolves the image input of every node fed by an edge and
// patches it in, skipping manual uploads.
func pullInputs(graph *storyflow.Graph, resolver *storyflow.Resolver) {
	for _, node := range graph.Nodes() {
		value, ok := resolver.Resolve(node.ID, storyflow.HandleImageIn)
		if !ok {
			continue
		}
		graph.Patch(node.ID, func(d storyflow.Data) storyflow.Data {
			if d.HasUserUpload {
				return d
			}
			d.InputImage = value
			if d.Status == storyflow.StatusIdle {
				d.Status = storyflow.StatusReady
			}
			return d
		})
	}
}

func printResults(graph *storyflow.Graph, names map[string]string) error {
	var failed bool
	for _, node := range graph.Nodes() {
		name := names[node.ID]
		if name == "" {
			name = node.ID
		}
		line := fmt.Sprintf("%-24s %-20s %s", name, node.Kind, node.Data.Status)
		if url, ok := node.Data.Output(storyflow.ChannelImage); ok {
			line += "  " + truncate(url, 60)
		}
		if node.Data.Status == storyflow.StatusError {
			line += "  (" + node.Data.StatusMessage + ")"
			failed = true
		}
		fmt.Println(line)
	}
	if failed {
		return errors.New("one or more nodes failed")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
