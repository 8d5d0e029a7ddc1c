package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "offerpage",
	Short: "Offer page backend - funnel A/B testing, lead scoring and outreach",
	Long: `offerpage runs the backend for cash-offer landing pages.

It pins A/B variants per visitor, records funnel progress, formats offers,
scores leads, geocodes addresses and queues outbound sms, email and voice.

Running without a subcommand starts the server (same as 'offerpage serve').`,
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnvOrDefault("OFFERPAGE_CONFIG", ""), "path to YAML config")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("OFFERPAGE_DB_PATH", ""), "SQLite database path (overrides config)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
