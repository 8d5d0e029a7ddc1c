package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/offerpage/offerpage/internal/config"
	"github.com/offerpage/offerpage/internal/stats"
	"github.com/offerpage/offerpage/internal/store"
)

var resultsVariants string

var resultsCmd = &cobra.Command{
	Use:   "results <subject>",
	Short: "Show detailed results for a subject",
	Long: `Show conversion rates, confidence intervals and funnel reach per variant.

The first variant is the control. Without --variants the order comes from
the experiments section of the config, then from the data.

Example:
  offerpage results 123-main-st --variants A,B`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().StringVar(&resultsVariants, "variants", "", "comma separated variant order, control first")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	subject := args[0]

	return withStore(func(cfg *config.Config, s store.Store) error {
		ctx := context.Background()

		rows, err := s.GetVariantStats(ctx, subject)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("subject '%s' not found", subject)
		}
		records, err := s.ListABTests(ctx, subject)
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}

		order := cfg.Experiments[subject]
		if resultsVariants != "" {
			order = splitList(resultsVariants)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "SUBJECT: %s\n\n", subject)
		printResults(out, stats.Analyze(order, rows))
		fmt.Fprintln(out)
		printFunnel(out, stats.Funnel(records))
		return nil
	})
}

func printResults(out io.Writer, result *stats.Result) {
	fmt.Fprintln(out, "VARIANT           VIEWS    CONVERSIONS  RATE     95% CI            AVG TIME")
	fmt.Fprintln(out, strings.Repeat("─", 78))

	for _, v := range result.Variants {
		indicator := ""
		if v.Name == result.LeadingVariant && len(result.Variants) > 1 {
			indicator = " ← LEADING"
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.Views == 0 {
			ciStr = "N/A"
		}

		name := v.Name
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		fmt.Fprintf(out, "%-16s  %-7d  %-11d  %-7s  %-16s  %.0fs%s\n",
			name,
			v.Views,
			v.Conversions,
			formatPercent(v.Rate),
			ciStr,
			v.AvgTimeOnPageSeconds,
			indicator,
		)
	}
	fmt.Fprintln(out)

	if len(result.Variants) > 1 {
		confPct := result.ConfidenceLevel * 100
		switch {
		case result.Confident:
			fmt.Fprintf(out, "Statistical significance: %.1f%% confident \"%s\" is the winner\n", confPct, result.LeadingVariant)
		case confPct >= 90:
			fmt.Fprintf(out, "Statistical significance: %.1f%% confident \"%s\" leads (not yet significant)\n", confPct, result.LeadingVariant)
		default:
			fmt.Fprintln(out, "Statistical significance: Not enough data to determine a winner")
		}
	}
}

func printFunnel(out io.Writer, rows []stats.FunnelRow) {
	fmt.Fprint(out, "FUNNEL          SESSIONS")
	for _, f := range store.AllFlags {
		fmt.Fprintf(out, "  %s", f)
	}
	fmt.Fprintln(out)
	for _, r := range rows {
		fmt.Fprintf(out, "%-16s%-8d", r.Variant, r.Sessions)
		for _, f := range store.AllFlags {
			fmt.Fprintf(out, "  %*d", len(string(f)), r.Reached[f])
		}
		fmt.Fprintln(out)
	}
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
