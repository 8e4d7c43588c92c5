package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/veridocs/correction-cli/internal/model"
	"github.com/veridocs/correction-cli/internal/store"
)

var (
	patternsStatus string
	patternsIssuer string
	patternsLimit  int
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List mined correction patterns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("patterns"); err != nil {
			return err
		}

		filter := store.PatternFilter{
			IssuerID: patternsIssuer,
			Limit:    patternsLimit,
		}
		if patternsStatus != "" {
			ps := model.PatternStatus(patternsStatus)
			if !ps.Valid() {
				return eris.Errorf("unknown status %q", patternsStatus)
			}
			filter.Status = ps
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		patterns, err := st.ListPatterns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list patterns")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(patterns)
	},
}

func init() {
	patternsCmd.Flags().StringVar(&patternsStatus, "status", "", "filter by status (detected, candidate, suggested, processed, ignored)")
	patternsCmd.Flags().StringVar(&patternsIssuer, "issuer", "", "filter by issuer id")
	patternsCmd.Flags().IntVar(&patternsLimit, "limit", 0, "maximum patterns to list")
	rootCmd.AddCommand(patternsCmd)
}
