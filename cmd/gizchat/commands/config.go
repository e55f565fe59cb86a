package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/gizchat/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage gizchat contexts.

Each context holds provider credentials, the default model, where generated
images are archived and which commands play and record audio. Credentials
may be written as $NAME to read them from the environment.

Examples:
  gizchat config add-context dev --set gemini.api_key='$GEMINI_API_KEY'
  gizchat config set dev openai.base_url http://localhost:11434/v1
  gizchat config use-context dev
  gizchat config view`,
}

var addContextSets []string

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Create a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		name := args[0]
		if _, ok := cfg.Contexts[name]; ok {
			return fmt.Errorf("context %q already exists", name)
		}
		ctx := &cli.Context{}
		for _, kv := range addContextSets {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("--set expects key=value, got %q", kv)
			}
			if err := ctx.Set(key, value); err != nil {
				return err
			}
		}
		if err := cfg.AddContext(name, ctx); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "Context %q created", name)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <context> <key> [value]",
	Short: "Set or clear a context setting",
	Long: `Set a context setting. Omit the value to clear it.

Keys:
  ` + strings.Join(cli.Keys(), "\n  "),
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		ctx, err := cfg.GetContext(args[0])
		if err != nil {
			return err
		}
		value := ""
		if len(args) == 3 {
			value = args[2]
		}
		if err := ctx.Set(args[1], value); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "%s.%s updated", args[0], args[1])
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.UseContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "Switched to context %q", args[0])
		return nil
	},
}

var configGetContextsCmd = &cobra.Command{
	Use:     "get-contexts",
	Aliases: []string{"list"},
	Short:   "List contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		names := cfg.ListContexts()
		if len(names) == 0 {
			cli.PrintInfo(cmd.OutOrStdout(), "No contexts configured. Create one with: gizchat config add-context <name>")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tMODEL\tPROVIDERS")
		for _, name := range names {
			ctx := cfg.Contexts[name]
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			model := ctx.Model
			if model == "" {
				model = "(default)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", current, name, model, strings.Join(providerNames(ctx), ","))
		}
		return w.Flush()
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view [context]",
	Short: "Show a context with credentials masked",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		name := contextName
		if len(args) == 1 {
			name = args[0]
		}
		ctx, err := cfg.ResolveContext(name)
		if err != nil {
			return err
		}
		return output(cmd, ctx.Masked())
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if err := cfg.DeleteContext(args[0]); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "Context %q deleted", args[0])
		return nil
	},
}

// providerNames lists the providers a context has credentials for.
func providerNames(ctx *cli.Context) []string {
	var out []string
	if g := ctx.Gemini; g != nil && (g.APIKey != "" || g.Backend == "vertex") {
		out = append(out, "gemini")
	}
	if o := ctx.OpenAI; o != nil && (o.APIKey != "" || o.BaseURL != "") {
		out = append(out, "openai")
	}
	if len(out) == 0 {
		out = append(out, "(env)")
	}
	return out
}

func init() {
	configAddContextCmd.Flags().StringArrayVar(&addContextSets, "set", nil, "initial setting as key=value (repeatable)")

	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configGetContextsCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	rootCmd.AddCommand(configCmd)
}
