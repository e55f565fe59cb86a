package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/gizchat/pkg/cli"
	"github.com/haivivi/gizchat/pkg/prefs"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change remembered settings",
	Long: `The chat command remembers the last model, the search toggle and the
speech settings for each context. These commands inspect and edit them.

Keys: model, search, speak, rate`,
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show remembered settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.prefs.Load(cmd.Context())
		if err != nil {
			return err
		}
		return output(cmd, p)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a remembered setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		apply, err := prefsSetter(args[0], args[1])
		if err != nil {
			return err
		}
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.prefs.Update(cmd.Context(), apply); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "%s updated", args[0])
		return nil
	},
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget remembered settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.prefs.Reset(cmd.Context()); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "Settings of %q reset", a.name)
		return nil
	},
}

// prefsSetter validates value for key and returns the update to apply.
func prefsSetter(key, value string) (func(*prefs.Prefs), error) {
	switch key {
	case "model":
		return func(p *prefs.Prefs) { p.Model = value }, nil
	case "search":
		on, err := parseSwitch(value)
		if err != nil {
			return nil, err
		}
		return func(p *prefs.Prefs) { p.UseSearch = on }, nil
	case "speak":
		on, err := parseSwitch(value)
		if err != nil {
			return nil, err
		}
		return func(p *prefs.Prefs) { p.AutoSpeak = on }, nil
	case "rate":
		rate, err := parseRate(value)
		if err != nil {
			return nil, err
		}
		return func(p *prefs.Prefs) { p.SpeechRate = rate }, nil
	}
	return nil, fmt.Errorf("unknown key %q (model, search, speak, rate)", key)
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsResetCmd)
	rootCmd.AddCommand(prefsCmd)
}
