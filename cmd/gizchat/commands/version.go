package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/gizchat/cmd/gizchat/internal/build"
	"github.com/haivivi/gizchat/pkg/cli"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat == string(cli.FormatText) && jqQuery == "" {
			fmt.Fprintln(cmd.OutOrStdout(), build.String())
			return nil
		}
		return output(cmd, build.Get())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
