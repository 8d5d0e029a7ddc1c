package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/offerpage/offerpage/internal/config"
	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/logger"
)

func init() {
	rootCmd.AddCommand(newGeocodeCmd())
}

func newGeocodeCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "geocode <address>...",
		Short: "Geocode addresses through the shared cache",
		Long: `Look up coordinates for one or more addresses. Results are cached for
the configured TTL and provider calls are spaced by the rate gate.

Examples:
  offerpage geocode "123 Main St, Austin, TX"
  offerpage geocode --purge`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !purge && len(args) == 0 {
				return fmt.Errorf("need at least one address")
			}
			return withKV(func(ctx context.Context, cfg *config.Config, store kv.Store) error {
				client := newGeoClient(cfg, kv.WithPrefix(store, "geo:"), logger.Default())
				out := cmd.OutOrStdout()

				if purge {
					if err := client.Purge(ctx); err != nil {
						return fmt.Errorf("purge cache: %w", err)
					}
					fmt.Fprintln(out, "Geocode cache cleared.")
					if len(args) == 0 {
						return nil
					}
				}

				found, err := client.GeocodeMany(ctx, args, func(done, total int) {
					if total > 1 {
						fmt.Fprintf(os.Stderr, "\r%d/%d", done, total)
					}
				})
				if len(args) > 1 {
					fmt.Fprintln(os.Stderr)
				}
				if err != nil {
					return err
				}

				for _, addr := range args {
					c, ok := found[addr]
					if !ok {
						fmt.Fprintf(out, "%s\tnot found\n", addr)
						continue
					}
					fmt.Fprintf(out, "%s\t%.6f,%.6f\n", addr, c.Latitude, c.Longitude)
				}
				st := client.Stats()
				fmt.Fprintf(out, "\ncache hits: %d, misses: %d, fetches: %d\n", st.Hits, st.Misses, st.Fetches)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "clear the geocode cache first")
	return cmd
}
