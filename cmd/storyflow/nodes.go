package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	goyaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/agentstation/storyflow/canvas"
	"github.com/agentstation/storyflow/nodes"
)

// nodesCmd represents the nodes command.
var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List available node kinds",
	Long:  `List every node kind registered with the canvas loader, with category and description.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNodesList()
	},
}

// nodesInfoCmd shows detailed information about one node kind.
var nodesInfoCmd = &cobra.Command{
	Use:   "info <kind>",
	Short: "Show detailed info about a node kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNodesInfo(args[0])
	},
}

func init() {
	nodesCmd.AddCommand(nodesInfoCmd)
	rootCmd.AddCommand(nodesCmd)
}

func allMetadata() []nodes.Metadata {
	registry := nodes.RegisterAll(canvas.NewLoader())

	var metas []nodes.Metadata
	for _, builder := range registry.All() {
		metas = append(metas, builder.Metadata())
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Category != metas[j].Category {
			return metas[i].Category < metas[j].Category
		}
		return metas[i].Kind < metas[j].Kind
	})
	return metas
}

func runNodesList() error {
	metas := allMetadata()

	switch output {
	case jsonFormat:
		data, err := json.MarshalIndent(metas, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case yamlFormat:
		data, err := goyaml.Marshal(metas)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tCATEGORY\tDESCRIPTION")
		for _, meta := range metas {
			fmt.Fprintf(w, "%s\t%s\t%s\n", meta.Kind, meta.Category, meta.Description)
		}
		return w.Flush()
	}
	return nil
}

func runNodesInfo(kind string) error {
	for _, meta := range allMetadata() {
		if meta.Kind != kind {
			continue
		}

		fmt.Printf("Kind: %s\n", meta.Kind)
		fmt.Printf("Category: %s\n", meta.Category)
		fmt.Printf("Description: %s\n", meta.Description)
		if meta.Since != "" {
			fmt.Printf("Since: %s\n", meta.Since)
		}
		fmt.Println()

		if len(meta.ConfigSchema) > 0 {
			fmt.Println("Configuration:")
			schemaJSON, _ := json.MarshalIndent(meta.ConfigSchema, "  ", "  ")
			fmt.Printf("  %s\n", schemaJSON)
			fmt.Println()
		}

		if len(meta.Examples) > 0 {
			fmt.Println("Examples:")
			for i, example := range meta.Examples {
				fmt.Printf("  %d. %s\n", i+1, example.Name)
				if example.Description != "" {
					fmt.Printf("     %s\n", example.Description)
				}
				if len(example.Config) > 0 {
					configYAML, _ := goyaml.Marshal(example.Config)
					fmt.Printf("     Config:\n")
					for _, line := range strings.Split(string(configYAML), "\n") {
						if line != "" {
							fmt.Printf("       %s\n", line)
						}
					}
				}
			}
		}

		return nil
	}

	return fmt.Errorf("node kind %q not found", kind)
}
