// Package main is the entry point for the gizchat CLI.
//
// Usage:
//
//	gizchat [flags] <command> [subcommand] [args]
//
// Commands:
//
//	chat     - Interactive conversation (terminal UI)
//	ask      - Send one message or a preset and print the reply
//	live     - Real-time voice conversation
//	models   - Show the configured providers
//	images   - Manage archived images
//	prefs    - Show or reset remembered preferences
//	config   - Configuration management (contexts)
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/gizchat/cmd/gizchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
