package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show results URL with access token",
	Long: `Show the results API URL with your access token.

Use this when you've scrolled past the startup message or need to
share the link.

Example:
  offerpage token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := tokenFromFile(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintf(out, "Results: http://%s/api/results?token=%s\n", cfg.Server.Addr(), token)
	return nil
}
