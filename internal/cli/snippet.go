package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/offerpage/offerpage/internal/snippets"
)

func init() {
	rootCmd.AddCommand(newSnippetCmd())
}

func newSnippetCmd() *cobra.Command {
	var framework, serverURL, variants string

	cmd := &cobra.Command{
		Use:   "snippet <subject>",
		Short: "Generate tracker integration code for an offer page",
		Long:  "Generate copy-paste-ready markup that loads ot.js and tags an offer page's funnel sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fw := snippets.Framework(framework)
			if framework == "" {
				idx, _, err := (&promptui.Select{Label: "Select framework", Items: frameworkLabels, Size: len(frameworkLabels)}).Run()
				if err != nil {
					return handlePromptErr(err)
				}
				fw = frameworkFromIndex(idx)
			}

			url := serverURL
			if url == "" {
				def := os.Getenv("OFFERPAGE_URL")
				if def == "" {
					def = "http://localhost:8080"
				}
				var err error
				if url, err = promptText("Server URL", def); err != nil {
					return err
				}
			}

			files, err := snippets.Generate(fw, snippets.Config{
				Subject:   args[0],
				Variants:  splitList(variants),
				ServerURL: strings.TrimRight(url, "/"),
			})
			if err != nil {
				return fmt.Errorf("failed to generate snippet: %w", err)
			}
			printSnippets(files)
			return nil
		},
	}

	cmd.Flags().StringVarP(&framework, "framework", "f", "", "framework (html, nextjs, vue, svelte, other)")
	cmd.Flags().StringVarP(&serverURL, "server-url", "s", "", "server URL (e.g., https://offers.example.com)")
	cmd.Flags().StringVar(&variants, "variants", "A,B", "comma separated variant names")

	return cmd
}
