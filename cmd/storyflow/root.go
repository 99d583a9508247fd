package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Global flags.
	verbose    bool
	output     string
	configPath string
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "storyflow",
	Short: "A node-graph workflow engine for creative generation",
	Long: `Storyflow executes canvases of creative-generation nodes: prompts,
images, transforms, composite grids, and shot/reverse-shot pairs,
connected by typed edges and driven by asynchronous generation tasks.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// API keys usually live in a local .env during development.
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format (text, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML config file")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
