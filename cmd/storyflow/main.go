// Command storyflow loads and executes canvas definitions against the
// storyflow engine.
package main

import (
	"context"
	"log"
	"os"
)

// Version information set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliLogger adapts log.Printf to the engine's Logger interface. Debug
// output only appears under --verbose.
type cliLogger struct {
	verbose bool
}

func (l cliLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	if l.verbose {
		log.Printf("DEBUG %s %v", msg, keysAndValues)
	}
}

func (l cliLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	log.Printf("INFO  %s %v", msg, keysAndValues)
}

func (l cliLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	log.Printf("ERROR %s %v", msg, keysAndValues)
}
