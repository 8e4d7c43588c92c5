// Package analysis runs the correction pattern mining loop: fetch a batch
// of unanalyzed corrections, cluster them, merge the clusters into durable
// patterns, and promote patterns that cross the occurrence threshold.
package analysis

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veridocs/correction-cli/internal/cluster"
	"github.com/veridocs/correction-cli/internal/model"
	"github.com/veridocs/correction-cli/internal/pattern"
	"github.com/veridocs/correction-cli/internal/store"
)

// Params tunes one analysis run.
type Params struct {
	BatchSize            int
	SimilarityThreshold  float64
	CandidateThreshold   int64
	ConfidenceSaturation int64
	SampleCap            int
}

// Analyzer executes analysis runs against a store.
type Analyzer struct {
	store  store.Store
	params Params
}

// New creates an Analyzer.
func New(st store.Store, p Params) *Analyzer {
	return &Analyzer{store: st, params: p}
}

// Run executes one analysis pass and returns its run log entry.
//
// The run row is created outside the mutation transaction so a crash mid-run
// leaves a visible running row behind. All pattern writes, event marking, and
// promotion happen in one transaction: either the whole batch lands and every
// consumed event is marked analyzed, or nothing does and the batch is picked
// up again by the next run. Re-processing a batch is safe because merges key
// on the pattern hash.
func (a *Analyzer) Run(ctx context.Context) (*model.AnalysisRun, error) {
	start := time.Now()

	run, err := a.store.CreateAnalysisRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: create run")
	}

	events, err := a.store.FetchUnanalyzed(ctx, a.params.BatchSize)
	if err != nil {
		a.failRun(ctx, run.ID, err)
		return nil, eris.Wrap(err, "analysis: fetch unanalyzed")
	}

	if len(events) == 0 {
		run.ExecutionTimeMs = time.Since(start).Milliseconds()
		if err := a.store.CompleteAnalysisRun(ctx, run); err != nil {
			return nil, eris.Wrap(err, "analysis: complete empty run")
		}
		zap.L().Info("analysis run completed, nothing to analyze", zap.String("run_id", run.ID))
		return run, nil
	}

	groups, dropped := cluster.GroupCorrections(events, a.params.SimilarityThreshold)
	now := time.Now().UTC()

	txErr := a.store.WithTx(ctx, func(tx store.Store) error {
		consumed := make([]string, 0, len(events))
		var detected, updated int

		for _, g := range groups {
			orig, corr := pattern.Representative(g.Members)
			hash := pattern.Hash(g.IssuerID, g.FieldName, orig, corr)

			existing, err := tx.FindPatternByHash(ctx, hash)
			if err != nil {
				return err
			}

			var p model.CorrectionPattern
			if existing == nil {
				p = pattern.New(g, now, a.params.ConfidenceSaturation, a.params.SampleCap)
				detected++
			} else {
				pattern.MergeInto(existing, g, now, a.params.ConfidenceSaturation, a.params.SampleCap)
				p = *existing
				updated++
			}

			if err := tx.UpsertPattern(ctx, &p); err != nil {
				return err
			}

			ids := make([]string, 0, len(g.Members))
			for _, m := range g.Members {
				ids = append(ids, m.ID)
			}
			if err := tx.LinkEventsToPattern(ctx, ids, p.ID); err != nil {
				return err
			}
			consumed = append(consumed, ids...)
		}

		// Unattributed events are not in consumed and stay unanalyzed.
		if err := tx.MarkAnalyzed(ctx, consumed); err != nil {
			return err
		}

		promoted, err := tx.BulkPromoteDetected(ctx, a.params.CandidateThreshold)
		if err != nil {
			return err
		}

		run.TotalAnalyzed = len(consumed)
		run.PatternsDetected = detected
		run.PatternsUpdated = updated
		run.CandidatesCreated = promoted
		run.ExecutionTimeMs = time.Since(start).Milliseconds()
		return tx.CompleteAnalysisRun(ctx, run)
	})
	if txErr != nil {
		a.failRun(ctx, run.ID, txErr)
		return nil, eris.Wrap(txErr, "analysis: run batch")
	}

	zap.L().Info("analysis run completed",
		zap.String("run_id", run.ID),
		zap.Int("total_analyzed", run.TotalAnalyzed),
		zap.Int("patterns_detected", run.PatternsDetected),
		zap.Int("patterns_updated", run.PatternsUpdated),
		zap.Int("candidates_created", run.CandidatesCreated),
		zap.Int("dropped_unattributed", dropped),
		zap.Int64("execution_time_ms", run.ExecutionTimeMs),
	)
	return run, nil
}

// failRun marks the run failed outside the rolled-back transaction so the
// failure itself is durable.
func (a *Analyzer) failRun(ctx context.Context, runID string, cause error) {
	if err := a.store.FailAnalysisRun(ctx, runID, cause.Error()); err != nil {
		zap.L().Error("analysis: mark run failed",
			zap.String("run_id", runID), zap.Error(err))
	}
}
