package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/offerpage/offerpage/internal/config"
	"github.com/offerpage/offerpage/internal/snippets"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file and show integration instructions",
	Long: `Ask a few questions, write offerpage.yaml and print the tracker snippet
for your framework.

Example:
  offerpage init
  offerpage init --config ./deploy/offerpage.yaml`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

var locales = []string{"en-US", "en-GB", "de-DE", "fr-FR", "es-ES", "pt-BR"}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = "offerpage.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		ok, err := promptConfirm(fmt.Sprintf("%s exists. Overwrite", path))
		if err != nil || !ok {
			return err
		}
	}

	cfg := config.Default()

	var err error
	if cfg.Campaign.CompanyName, err = promptText("Company name", ""); err != nil {
		return err
	}
	if cfg.Campaign.AgentName, err = promptText("Agent name", ""); err != nil {
		return err
	}
	if cfg.Offer.Locale, err = promptSelect("Offer locale", locales); err != nil {
		return err
	}
	if cfg.Offer.Currency, err = promptText("Currency (ISO code)", cfg.Offer.Currency); err != nil {
		return err
	}
	cfg.Offer.Currency = strings.ToUpper(cfg.Offer.Currency)
	if cfg.Storage.Driver, err = promptSelect("Storage", []string{"sqlite", "postgres"}); err != nil {
		return err
	}
	if cfg.Storage.Driver == "postgres" {
		if cfg.Storage.DatabaseURL, err = promptText("Postgres URL", "postgres://localhost/offerpage?sslmode=disable"); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := writeConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("\nWrote %s\n\n", path)

	idx, _, err := (&promptui.Select{Label: "Your framework", Items: frameworkLabels, Size: len(frameworkLabels)}).Run()
	if err != nil {
		return handlePromptErr(err)
	}
	printFrameworkSnippet(frameworkFromIndex(idx), "http://"+cfg.Server.Addr())

	fmt.Println()
	fmt.Println("Start the server with: offerpage serve --config " + path)
	return nil
}

func writeConfig(path string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

var frameworkLabels = []string{
	"HTML (vanilla JavaScript)",
	"Next.js / React",
	"Vue",
	"Svelte",
	"Other",
}

func frameworkFromIndex(idx int) snippets.Framework {
	if idx < 0 || idx >= len(snippets.Frameworks) {
		return snippets.FrameworkOther
	}
	return snippets.Frameworks[idx]
}

// printFrameworkSnippet prints the tracker integration for framework.
func printFrameworkSnippet(framework snippets.Framework, serverURL string) {
	files, err := snippets.Generate(framework, snippets.Config{Subject: "123-main-st", ServerURL: serverURL})
	if err != nil {
		fmt.Println(err)
		return
	}
	printSnippets(files)
}

func printSnippets(files []snippets.SnippetFile) {
	for i, file := range files {
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(strings.Repeat("=", 62))
		fmt.Printf(" %s\n", file.Filename)
		fmt.Println(strings.Repeat("=", 62))
		fmt.Println()
		fmt.Println(file.Content)
	}
}

func promptText(label, def string) (string, error) {
	p := promptui.Prompt{Label: label, Default: def}
	v, err := p.Run()
	if err != nil {
		return "", handlePromptErr(err)
	}
	return strings.TrimSpace(v), nil
}

func promptSelect(label string, items []string) (string, error) {
	p := promptui.Select{Label: label, Items: items, Size: len(items)}
	_, v, err := p.Run()
	if err != nil {
		return "", handlePromptErr(err)
	}
	return v, nil
}

func promptConfirm(label string) (bool, error) {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	if _, err := p.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, handlePromptErr(err)
	}
	return true, nil
}

func handlePromptErr(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) {
		os.Exit(0)
	}
	return err
}
