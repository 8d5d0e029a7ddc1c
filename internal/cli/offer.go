package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/offerpage/offerpage/internal/offer"
)

func init() {
	rootCmd.AddCommand(newOfferCmd())
}

func newOfferCmd() *cobra.Command {
	var (
		amount, minAmount, maxAmount float64
		currency, locale             string
		short                        bool
	)

	cmd := &cobra.Command{
		Use:   "offer",
		Short: "Format a cash offer",
		Long: `Classify, validate and format a cash offer the way offer pages show it.

Pass --amount for a fixed offer or --min and --max for a range. Currency and
locale default to the config and only apply with --short.

Examples:
  offerpage offer --amount 250000
  offerpage offer --min 100000 --max 120000 --short --currency EUR --locale de-DE`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			rec := offer.Record{}
			if cmd.Flags().Changed("amount") {
				rec.CashOfferAmount = offer.Amount(amount)
			}
			if cmd.Flags().Changed("min") {
				rec.MinOfferAmount = offer.Amount(minAmount)
			}
			if cmd.Flags().Changed("max") {
				rec.MaxOfferAmount = offer.Amount(maxAmount)
			}

			opts := offerOptions(cfg)
			if currency != "" {
				opts.Currency = currency
			}
			if locale != "" {
				opts.Locale = locale
			}
			if cmd.Flags().Changed("short") {
				opts.ShortForm = short
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Offer:   %s\n", offer.Format(rec, opts))
			fmt.Fprintf(out, "Kind:    %s\n", offer.Classify(rec))
			fmt.Fprintf(out, "Valid:   %t\n", offer.IsValid(rec))
			fmt.Fprintf(out, "Average: %s\n", offer.FormatForTemplate(offer.FixedRecord(offer.Average(rec))))
			fmt.Fprintf(out, "Detail:  %s\n", offer.Describe(rec))
			return nil
		},
	}

	cmd.Flags().Float64Var(&amount, "amount", 0, "fixed cash offer amount")
	cmd.Flags().Float64Var(&minAmount, "min", 0, "minimum of an offer range")
	cmd.Flags().Float64Var(&maxAmount, "max", 0, "maximum of an offer range")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO currency code for the short form")
	cmd.Flags().StringVar(&locale, "locale", "", "BCP 47 locale for the short form")
	cmd.Flags().BoolVar(&short, "short", false, "use the locale-aware short form")

	return cmd
}
