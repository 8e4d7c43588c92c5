package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/veridocs/correction-cli/internal/model"
	"github.com/veridocs/correction-cli/internal/store"
)

// StatusSnapshot holds a point-in-time view of the mining engine.
type StatusSnapshot struct {
	// Last analysis run, nil when none has executed yet.
	LastRun *model.AnalysisRun `json:"last_run,omitempty"`

	// Backlog and pattern inventory.
	PendingEvents  int `json:"pending_events"`
	TotalPatterns  int `json:"total_patterns"`
	CandidateCount int `json:"candidate_count"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers engine status from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new status collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of backlog depth, pattern counts, and the
// outcome of the most recent analysis run.
func (c *Collector) Collect(ctx context.Context) (*StatusSnapshot, error) {
	snap := &StatusSnapshot{
		CollectedAt: time.Now().UTC(),
	}

	lastRun, err := c.store.LastAnalysisRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last analysis run")
	}
	snap.LastRun = lastRun

	pending, err := c.store.CountUnanalyzed(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count unanalyzed")
	}
	snap.PendingEvents = pending

	total, err := c.store.CountPatterns(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count patterns")
	}
	snap.TotalPatterns = total

	candidates, err := c.store.CountPatternsByStatus(ctx, model.StatusCandidate)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count candidates")
	}
	snap.CandidateCount = candidates

	return snap, nil
}
