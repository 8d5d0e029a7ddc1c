package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/offerpage/offerpage/internal/scoring"
)

func init() {
	rootCmd.AddCommand(newScoreCmd())
}

func newScoreCmd() *cobra.Command {
	var (
		f            scoring.Factors
		status       string
		responseTime float64
		file         string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a lead",
		Long: `Score a lead from engagement factors and print its grade and reasons.

With --file, score every lead in a JSON array of factor objects.

Examples:
  offerpage score --phone --email --opened --clicks 3 --status offer_made
  offerpage score --file leads.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read leads: %w", err)
				}
				var leads []scoring.Factors
				if err := json.Unmarshal(data, &leads); err != nil {
					return fmt.Errorf("parse leads: %w", err)
				}
				for i, res := range scoring.ScoreBatch(leads) {
					fmt.Fprintf(out, "%d\t%d\t%s\t%s\n", i+1, res.Score, res.Grade, res.Grade.Label())
				}
				return nil
			}

			if status != "" {
				st, ok := scoring.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				f.Status = st
			}
			if cmd.Flags().Changed("response-hours") {
				f.ResponseTimeHours = scoring.Hours(responseTime)
			}

			res := scoring.Score(f)
			fmt.Fprintf(out, "Score: %d (%s, %s)\n", res.Score, res.Grade, res.Grade.Label())
			for _, r := range res.Reasons {
				fmt.Fprintf(out, "  - %s\n", r)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&f.HasPhone, "phone", false, "lead has a phone number")
	cmd.Flags().BoolVar(&f.HasEmail, "email", false, "lead has an email address")
	cmd.Flags().BoolVar(&f.EmailOpened, "opened", false, "lead opened an email")
	cmd.Flags().BoolVar(&f.LinkClicked, "clicked", false, "lead clicked a link")
	cmd.Flags().IntVar(&f.ClickCount, "clicks", 0, "number of link clicks")
	cmd.Flags().IntVar(&f.CampaignsSent, "campaigns", 0, "campaigns sent to the lead")
	cmd.Flags().StringVar(&status, "status", "", "lead status (new, contacted, following_up, meeting_scheduled, offer_made, closed, not_interested)")
	cmd.Flags().Float64Var(&responseTime, "response-hours", 0, "hours until the lead responded")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with an array of lead factors")

	return cmd
}
