package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/offerpage/offerpage/internal/config"
	"github.com/offerpage/offerpage/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tracked subjects",
	Long:  `List every offer page subject with its session and conversion counts.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(_ *config.Config, s store.Store) error {
		subjects, err := s.ListSubjects(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list subjects: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(subjects) == 0 {
			fmt.Fprintln(out, "No subjects yet.")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Subjects appear when visitors arrive. Add the script to your offer page:")
			fmt.Fprintln(out, "  <script src=\"YOUR_SERVER/ot.js\" defer></script>")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SUBJECT\tSESSIONS\tCONVERSIONS\tFIRST SEEN")
		for _, ss := range subjects {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				ss.SubjectID,
				formatNumber(ss.Sessions),
				formatNumber(ss.Conversions),
				ss.FirstSeen.Format("2006-01-02"),
			)
		}
		return w.Flush()
	})
}
