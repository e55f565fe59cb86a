package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/haivivi/gizchat/pkg/cli"
)

const appName = "gizchat"

var (
	// Global flags
	cfgFile      string
	contextName  string
	outputFormat string
	jqQuery      string
	verbose      bool

	globalConfig *cli.Config
)

var rootCmd = &cobra.Command{
	Use:   "gizchat",
	Short: "Multimodal chat with Gemini and OpenAI-compatible models",
	Long: `gizchat - a terminal conversation client.

Replies stream in as they are generated. The model can play music, open
links, search the web and generate images; replies can be read aloud and
a live mode offers a real-time voice conversation.

Configuration is stored in ~/.haivivi/gizchat/config.yaml and supports
multiple contexts, allowing you to switch between accounts and devices.

Examples:
  # Create a context
  gizchat config add-context dev
  gizchat config set dev gemini.api_key '$GEMINI_API_KEY'
  gizchat config set dev audio.player 'aplay -q -t raw -f S16_LE -r 24000 -c 1'

  # Chat interactively
  gizchat chat

  # One-shot question, JSON output filtered with jq
  gizchat ask "who won the 1998 world cup" -o json --jq '.[-1].text'`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cli.ParseFormat(outputFormat); err != nil {
			return err
		}
		setupLogging(os.Stderr)
		return nil
	},
}

// Execute runs the root command. Interrupt cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.haivivi/gizchat/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context to use (default is current context)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml, json or text")
	rootCmd.PersistentFlags().StringVar(&jqQuery, "jq", "", "jq expression applied to structured output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func setupLogging(w io.Writer) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// getConfig loads the configuration on first use.
func getConfig() (*cli.Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	cfg, err := cli.LoadConfigWithPath(appName, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("%s config: %w", appName, err)
	}
	globalConfig = cfg
	return cfg, nil
}

// getContext returns the context to use, resolving from flag or current
// context. Without any configured context it falls back to an empty
// "default" context whose credentials come from the environment.
func getContext() (*cli.Context, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	if contextName == "" && cfg.CurrentContext == "" {
		return &cli.Context{Name: "default"}, nil
	}
	ctx, err := cfg.ResolveContext(contextName)
	if err != nil {
		return nil, fmt.Errorf("%w; use -c or 'gizchat config use-context <name>'", err)
	}
	return ctx, nil
}

// output writes a structured result with the global --output and --jq flags.
func output(cmd *cobra.Command, v any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.Output(v, cli.OutputOptions{
		Format: format,
		Query:  jqQuery,
		Writer: cmd.OutOrStdout(),
	})
}
