package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/gizchat/pkg/cli"
)

var imagesCmd = &cobra.Command{
	Use:     "images",
	Aliases: []string{"gallery"},
	Short:   "Manage generated images",
	Long: `List, export and delete images archived by generate_image.

Images are stored in gallery.dir, or in the S3 bucket set by
gallery.bucket, and cataloged per context.`,
}

var imagesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List archived images, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.gallery.List(cmd.Context())
		if err != nil {
			return err
		}
		if outputFormat != string(cli.FormatText) || jqQuery != "" {
			if entries == nil {
				return output(cmd, []any{})
			}
			return output(cmd, entries)
		}
		if len(entries) == 0 {
			cli.PrintInfo(cmd.OutOrStdout(), "No images archived yet")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tCREATED\tLOCATION")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Name, e.MIMEType, cli.FormatBytes(int64(e.Size)), e.Created.Local().Format("2006-01-02 15:04"), e.Location)
		}
		return w.Flush()
	},
}

var imagesGetOut string

var imagesGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Write an archived image to a file or stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := a.gallery.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if imagesGetOut == "" || imagesGetOut == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(imagesGetOut, data, 0644); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.ErrOrStderr(), "Wrote %s (%s)", imagesGetOut, cli.FormatBytes(int64(len(data))))
		return nil
	},
}

var imagesDeleteCmd = &cobra.Command{
	Use:     "delete <name>...",
	Aliases: []string{"rm"},
	Short:   "Delete archived images",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openLocal()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, name := range args {
			if err := a.gallery.Delete(cmd.Context(), name); err != nil {
				return err
			}
			cli.PrintSuccess(cmd.OutOrStdout(), "Deleted %s", name)
		}
		return nil
	},
}

func init() {
	imagesGetCmd.Flags().StringVarP(&imagesGetOut, "output-file", "O", "", "file to write (default stdout)")

	imagesCmd.AddCommand(imagesListCmd)
	imagesCmd.AddCommand(imagesGetCmd)
	imagesCmd.AddCommand(imagesDeleteCmd)
	rootCmd.AddCommand(imagesCmd)
}
