package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// buildInfo is everything the version command reports about the binary.
type buildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Built     string `json:"built,omitempty" yaml:"built,omitempty"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	Platform  string `json:"platform" yaml:"platform"`
}

// currentBuild combines the ldflags variables with what the running binary
// knows about itself. Commit and build date are left empty on dev builds,
// where the ldflags defaults carry no meaning.
func currentBuild() buildInfo {
	info := buildInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if version != "dev" {
		info.Commit = commit
		info.Built = buildDate
	}
	return info
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build information",
	Long:  `Report the version, commit, and toolchain this binary was built from.`,
	Example: `  # Human-readable
  storyflow version

  # Machine-readable
  storyflow version --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := currentBuild()

		switch output {
		case jsonFormat:
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding build info: %w", err)
			}
			fmt.Println(string(data))

		case yamlFormat:
			data, err := yaml.Marshal(info)
			if err != nil {
				return fmt.Errorf("encoding build info: %w", err)
			}
			fmt.Print(string(data))

		default:
			fmt.Printf("storyflow %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
			if info.Commit != "" {
				fmt.Printf("  commit %s, built %s\n", info.Commit, info.Built)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
