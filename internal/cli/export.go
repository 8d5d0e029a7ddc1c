package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/offerpage/offerpage/internal/config"
	"github.com/offerpage/offerpage/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <subject>",
	Short: "Export raw A/B test records",
	Long: `Export one row per session with its variant, funnel flags and time on page.

Examples:
  offerpage export 123-main-st --format csv > sessions.csv
  offerpage export 123-main-st --format json > sessions.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	subject := args[0]

	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(_ *config.Config, s store.Store) error {
		records, err := s.ListABTests(context.Background(), subject)
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		if len(records) == 0 {
			return fmt.Errorf("subject '%s' not found", subject)
		}

		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), records)
		}
		return exportJSON(cmd.OutOrStdout(), records)
	})
}

func exportCSV(out io.Writer, records []*store.ABTest) error {
	w := csv.NewWriter(out)

	header := []string{"created_at", "session_id", "variant"}
	for _, f := range store.AllFlags {
		header = append(header, string(f))
	}
	header = append(header, "time_on_page_seconds")
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.CreatedAt.Unix(), 10),
			r.SessionID,
			r.Variant,
		}
		for _, f := range store.AllFlags {
			row = append(row, strconv.FormatBool(r.Has(f)))
		}
		row = append(row, strconv.Itoa(r.TimeOnPageSeconds))
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Subject  string       `json:"subject"`
	Sessions []jsonRecord `json:"sessions"`
}

type jsonRecord struct {
	CreatedAt         int64           `json:"created_at"`
	SessionID         string          `json:"session_id"`
	Variant           string          `json:"variant"`
	Flags             map[string]bool `json:"flags"`
	TimeOnPageSeconds int             `json:"time_on_page_seconds"`
}

func exportJSON(out io.Writer, records []*store.ABTest) error {
	export := jsonExport{
		Subject:  records[0].SubjectID,
		Sessions: make([]jsonRecord, len(records)),
	}

	for i, r := range records {
		flags := make(map[string]bool, len(store.AllFlags))
		for _, f := range store.AllFlags {
			flags[string(f)] = r.Has(f)
		}
		export.Sessions[i] = jsonRecord{
			CreatedAt:         r.CreatedAt.Unix(),
			SessionID:         r.SessionID,
			Variant:           r.Variant,
			Flags:             flags,
			TimeOnPageSeconds: r.TimeOnPageSeconds,
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
