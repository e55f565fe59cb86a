// Package cli provides the building blocks of the gizchat command line.
//
// This package includes:
//   - Configuration management (contexts with credentials and devices)
//   - Output formatting (YAML, JSON, text) with jq filtering
//   - Session preset loading (YAML/JSON)
//   - Terminal rendering of transcripts and framed status screens
//
// Configuration is stored in ~/.haivivi/<app>/config.yaml, supporting
// multiple contexts similar to kubectl.
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("gizchat")
//	ctx, err := cfg.ResolveContext("")
//
//	cli.Output(turns, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    Query:  ".[].text",
//	})
package cli
