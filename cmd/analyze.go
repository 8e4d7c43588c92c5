package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/veridocs/correction-cli/internal/analysis"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis pass over the pending correction backlog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := analysis.New(st, analysisParams()).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}

		cmd.Printf("run %s: analyzed %d, detected %d, updated %d, promoted %d (%dms)\n",
			run.ID, run.TotalAnalyzed, run.PatternsDetected,
			run.PatternsUpdated, run.CandidatesCreated, run.ExecutionTimeMs)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the run log entry as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
