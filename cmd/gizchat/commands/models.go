package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/gizchat/pkg/chat"
)

// modelsInfo describes what the current context can talk to.
type modelsInfo struct {
	Context      string   `json:"context" yaml:"context"`
	Providers    []string `json:"providers" yaml:"providers"`
	Model        string   `json:"model" yaml:"model"`
	DefaultModel string   `json:"default_model" yaml:"default_model"`
	ImageModel   string   `json:"image_model,omitzero" yaml:"image_model,omitempty"`
	Search       bool     `json:"search" yaml:"search"`
	Speech       bool     `json:"speech" yaml:"speech"`
	Live         bool     `json:"live" yaml:"live"`
	Tools        []string `json:"tools" yaml:"tools"`
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show the configured providers and the model in use",
	Long: `Show the providers of the current context, the model new chats use and
which features are available.

Models are addressed as provider/name, e.g. gemini/gemini-2.5-pro or
openai/gpt-4o. A name without a provider goes to the first configured one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{Speech: true, Live: true})
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.engine.Config()
		info := modelsInfo{
			Context:      a.name,
			Providers:    a.mux.Providers(),
			Model:        cfg.Model,
			DefaultModel: chat.DefaultModel,
			ImageModel:   a.cc.ImageModel,
			Search:       cfg.UseSearch,
			Speech:       a.speaker != nil,
			Live:         a.live != nil,
		}
		for _, t := range chat.Tools() {
			info.Tools = append(info.Tools, string(t.Name))
		}
		return output(cmd, info)
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
