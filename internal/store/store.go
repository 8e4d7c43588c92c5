package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/veridocs/correction-cli/internal/model"
)

// ErrStatusConflict is returned by UpdatePatternStatus when the row no
// longer carries the expected from status, either because the pattern
// does not exist or because another writer got there first.
var ErrStatusConflict = eris.New("store: pattern status conflict")

// PatternFilter narrows ListPatterns. Zero values mean "no filter";
// Limit 0 falls back to a store default.
type PatternFilter struct {
	Status   model.PatternStatus
	IssuerID string
	Limit    int
}

// Store is the persistence layer behind the mining engine. The engine
// treats it as the source of truth: corrections arrive via InsertEvents,
// the analyzer consumes them oldest-first, and patterns plus run logs
// are written back through it.
type Store interface {
	// FetchUnanalyzed returns up to limit unanalyzed corrections,
	// oldest occurred_at first, id ascending as tie break.
	FetchUnanalyzed(ctx context.Context, limit int) ([]model.CorrectionEvent, error)
	// MarkAnalyzed flags the given corrections as consumed.
	MarkAnalyzed(ctx context.Context, ids []string) error
	// InsertEvents bulk-loads corrections, returning rows written.
	InsertEvents(ctx context.Context, events []model.CorrectionEvent) (int64, error)
	CountUnanalyzed(ctx context.Context) (int, error)
	// LinkEventsToPattern points corrections at the pattern they
	// contributed to, for later evidence drill-down.
	LinkEventsToPattern(ctx context.Context, ids []string, patternID string) error
	// ListEventsForPattern returns a pattern's linked corrections, most
	// recent first.
	ListEventsForPattern(ctx context.Context, patternID string, limit int) ([]model.CorrectionEvent, error)

	// FindPatternByHash returns the pattern with the given dedup hash,
	// or (nil, nil) when none exists.
	FindPatternByHash(ctx context.Context, hash string) (*model.CorrectionPattern, error)
	// GetPattern returns the pattern by id, or (nil, nil) when absent.
	GetPattern(ctx context.Context, id string) (*model.CorrectionPattern, error)
	// UpsertPattern inserts the pattern or, on pattern_hash conflict,
	// overwrites the merge-owned columns. Status is only written on
	// insert; existing rows keep whatever status they carry.
	UpsertPattern(ctx context.Context, p *model.CorrectionPattern) error
	ListPatterns(ctx context.Context, f PatternFilter) ([]model.CorrectionPattern, error)
	// UpdatePatternStatus moves a pattern from one status to another.
	// The from status is part of the predicate so a concurrent writer
	// cannot be silently overwritten; ErrStatusConflict reports a miss.
	UpdatePatternStatus(ctx context.Context, id string, from, to model.PatternStatus) error
	// BulkPromoteDetected promotes every detected pattern at or above
	// the occurrence threshold to candidate, returning how many moved.
	BulkPromoteDetected(ctx context.Context, threshold int64) (int, error)
	CountPatterns(ctx context.Context) (int, error)
	CountPatternsByStatus(ctx context.Context, status model.PatternStatus) (int, error)

	// CreateAnalysisRun opens a run log row in the running state.
	CreateAnalysisRun(ctx context.Context) (*model.AnalysisRun, error)
	// CompleteAnalysisRun records the run's final counters and marks
	// it completed.
	CompleteAnalysisRun(ctx context.Context, run *model.AnalysisRun) error
	// FailAnalysisRun marks the run failed with the given message.
	FailAnalysisRun(ctx context.Context, id, errMsg string) error
	// LastAnalysisRun returns the most recently started run, or
	// (nil, nil) when no run has ever executed.
	LastAnalysisRun(ctx context.Context) (*model.AnalysisRun, error)

	// WithTx runs fn against a transaction-bound view of the store.
	// fn returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
