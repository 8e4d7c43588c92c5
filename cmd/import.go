package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veridocs/correction-cli/internal/ingest"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import correction events from a CSV export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		events, skipped, err := ingest.ParseCSV(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		inserted, err := st.InsertEvents(ctx, events)
		if err != nil {
			return eris.Wrap(err, "import insert")
		}

		zap.L().Info("import complete",
			zap.Int64("inserted", inserted),
			zap.Int("skipped", skipped),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
