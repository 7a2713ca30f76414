package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/reconcile"
)

func newAskCommand(root *rootOptions) *cobra.Command {
	var opts reconcile.Options

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the reconciled result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question must not be blank")
			}

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			rt, err := newRouter(cfg, nil)
			if err != nil {
				return err
			}

			ans, err := rt.Answer(cmd.Context(), question, opts)
			if err != nil {
				return err
			}

			printAnswer(cmd, ans)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.ShowReferences, "search", true, "ground the answer with web search and list references")
	cmd.Flags().BoolVar(&opts.ShowThinking, "thinking", false, "print the model's thinking trace")
	return cmd
}

func printAnswer(cmd *cobra.Command, ans *models.ReconciledAnswer) {
	out := cmd.OutOrStdout()

	if ans.Thinking != nil && *ans.Thinking != "" {
		fmt.Fprintln(out, "Thinking:")
		fmt.Fprintln(out, *ans.Thinking)
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, ans.Text)

	if len(ans.References) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "References:")
	for _, ref := range ans.References {
		fmt.Fprintf(out, "  [%d] %s %s\n", ref.ID, ref.Title, ref.URL)
	}
}
