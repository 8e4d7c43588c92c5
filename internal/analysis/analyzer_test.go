package analysis

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/correction-cli/internal/model"
	"github.com/veridocs/correction-cli/internal/store"
)

func testParams() Params {
	return Params{
		BatchSize:            1000,
		SimilarityThreshold:  0.8,
		CandidateThreshold:   3,
		ConfidenceSaturation: 10,
		SampleCap:            20,
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "corrections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func insertCorrections(t *testing.T, st store.Store, issuer, field string, pairs [][2]string) {
	t.Helper()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	events := make([]model.CorrectionEvent, 0, len(pairs))
	for i, pair := range pairs {
		orig := pair[0]
		events = append(events, model.CorrectionEvent{
			IssuerID:       issuer,
			FieldName:      field,
			OriginalValue:  &orig,
			CorrectedValue: pair[1],
			DocumentID:     "doc-" + field + "-" + string(rune('a'+i)),
			OccurredAt:     base.Add(time.Duration(i) * time.Minute),
		})
	}
	_, err := st.InsertEvents(context.Background(), events)
	require.NoError(t, err)
}

func TestAnalyzer_EmptyBacklog(t *testing.T) {
	st := newTestStore(t)
	a := New(st, testParams())

	run, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.TotalAnalyzed)
	assert.Equal(t, 0, run.PatternsDetected)

	last, err := st.LastAnalysisRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, model.RunStatusCompleted, last.Status)
}

func TestAnalyzer_DetectsAndPromotesPattern(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	insertCorrections(t, st, "issuer-1", "vendor_name", [][2]string{
		{"ACME Corp", "ACME Corporation"},
		{"ACME Corp", "ACME Corporation"},
		{"ACME Corp", "ACME Corporation"},
	})

	run, err := New(st, testParams()).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, run.TotalAnalyzed)
	assert.Equal(t, 1, run.PatternsDetected)
	assert.Equal(t, 0, run.PatternsUpdated)
	// Three occurrences in one batch cross the candidate threshold
	// inside the same run.
	assert.Equal(t, 1, run.CandidatesCreated)

	patterns, err := st.ListPatterns(ctx, store.PatternFilter{})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, "ACME Corp", p.RepresentativeOriginal)
	assert.Equal(t, "ACME Corporation", p.RepresentativeCorrected)
	assert.Equal(t, int64(3), p.OccurrenceCount)
	assert.InDelta(t, 0.3, p.Confidence, 1e-9)
	assert.Equal(t, model.StatusCandidate, p.Status)
	assert.Len(t, p.SampleEvidence, 3)

	// Batch is fully consumed and linked.
	pending, err := st.CountUnanalyzed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	linked, err := st.ListEventsForPattern(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, linked, 3)
}

func TestAnalyzer_ThresholdCrossesOverTwoRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a := New(st, testParams())

	insertCorrections(t, st, "issuer-1", "vendor_name", [][2]string{
		{"ACME Corp", "ACME Corporation"},
		{"ACME Corp", "ACME Corporation"},
	})

	run1, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run1.PatternsDetected)
	assert.Equal(t, 0, run1.CandidatesCreated)

	patterns, err := st.ListPatterns(ctx, store.PatternFilter{})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, model.StatusDetected, patterns[0].Status)
	assert.Equal(t, int64(2), patterns[0].OccurrenceCount)
	firstSeen := patterns[0].FirstSeenAt

	insertCorrections(t, st, "issuer-1", "vendor_name", [][2]string{
		{"ACME Corp", "ACME Corporation"},
	})

	run2, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, run2.PatternsDetected)
	assert.Equal(t, 1, run2.PatternsUpdated)
	assert.Equal(t, 1, run2.CandidatesCreated)

	patterns, err = st.ListPatterns(ctx, store.PatternFilter{})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, int64(3), p.OccurrenceCount)
	assert.Equal(t, model.StatusCandidate, p.Status)
	assert.InDelta(t, 0.3, p.Confidence, 1e-9)
	assert.Equal(t, firstSeen, p.FirstSeenAt)
}

func TestAnalyzer_SeparatePatternsPerFieldAndShape(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	insertCorrections(t, st, "issuer-1", "vendor_name", [][2]string{
		{"ACME Corp", "ACME Corporation"},
		{"Globex", "Globex International"},
	})
	insertCorrections(t, st, "issuer-1", "total_amount", [][2]string{
		{"1.000,50", "1000.50"},
	})

	run, err := New(st, testParams()).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, run.TotalAnalyzed)
	assert.Equal(t, 3, run.PatternsDetected)

	patterns, err := st.ListPatterns(ctx, store.PatternFilter{})
	require.NoError(t, err)
	assert.Len(t, patterns, 3)
}

func TestAnalyzer_OperatorStatusSurvivesMerge(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a := New(st, testParams())

	insertCorrections(t, st, "issuer-1", "vendor_name", [][2]string{
		{"ACME Corp", "ACME Corporation"},
		{"ACME Corp", "ACME Corporation"},
		{"ACME Corp", "ACME Corporation"},
	})
	_, err := a.Run(ctx)
	require.NoError(t, err)

	patterns, err := st.ListPatterns(ctx, store.PatternFilter{})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	id := patterns[0].ID

	// Operator walks the pattern to ignored.
	_, err = a.SetPatternStatus(ctx, id, model.StatusSuggested)
	require.NoError(t, err)
	_, err = a.SetPatternStatus(ctx, id, model.StatusIgnored)
	require.NoError(t, err)

	// New evidence keeps accumulating without resurrecting the pattern.
	insertCorrections(t, st, "issuer-1", "vendor_name", [][2]string{
		{"ACME Corp", "ACME Corporation"},
	})
	run, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.PatternsUpdated)
	assert.Equal(t, 0, run.CandidatesCreated)

	p, err := st.GetPattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, p.Status)
	assert.Equal(t, int64(4), p.OccurrenceCount)
}

func TestAnalyzer_UnattributedEventsStayPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	orig := "ACME Corp"
	_, err := st.InsertEvents(ctx, []model.CorrectionEvent{
		{
			IssuerID: "", FieldName: "vendor_name",
			OriginalValue: &orig, CorrectedValue: "ACME Corporation",
			DocumentID: "doc-1", OccurredAt: time.Now().UTC(),
		},
	})
	require.NoError(t, err)
	insertCorrections(t, st, "issuer-1", "vendor_name", [][2]string{
		{"ACME Corp", "ACME Corporation"},
	})

	run, err := New(st, testParams()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.TotalAnalyzed)

	// The unattributed event is left for a future run.
	pending, err := st.CountUnanalyzed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestAnalyzer_SetPatternStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a := New(st, testParams())

	now := time.Now().UTC()
	require.NoError(t, st.UpsertPattern(ctx, &model.CorrectionPattern{
		ID: "pat-1", IssuerID: "i", FieldName: "f", PatternHash: "h",
		RepresentativeOriginal: "a", RepresentativeCorrected: "b",
		OccurrenceCount: 5, Status: model.StatusCandidate,
		FirstSeenAt: now, LastSeenAt: now,
	}))

	p, err := a.SetPatternStatus(ctx, "pat-1", model.StatusSuggested)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuggested, p.Status)

	// Backward and skipping moves are rejected.
	_, err = a.SetPatternStatus(ctx, "pat-1", model.StatusCandidate)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = a.SetPatternStatus(ctx, "pat-1", model.PatternStatus("archived"))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = a.SetPatternStatus(ctx, "no-such-id", model.StatusSuggested)
	assert.ErrorIs(t, err, ErrPatternNotFound)

	// Terminal states accept nothing further.
	_, err = a.SetPatternStatus(ctx, "pat-1", model.StatusProcessed)
	require.NoError(t, err)
	_, err = a.SetPatternStatus(ctx, "pat-1", model.StatusIgnored)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

// failingStore forces a mid-transaction failure to exercise rollback.
type failingStore struct {
	store.Store
}

func (f *failingStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return f.Store.WithTx(ctx, func(tx store.Store) error {
		if err := fn(&failingStore{Store: tx}); err != nil {
			return err
		}
		return nil
	})
}

func (f *failingStore) BulkPromoteDetected(ctx context.Context, threshold int64) (int, error) {
	return 0, eris.New("promotion exploded")
}

func TestAnalyzer_FailedRunRollsBack(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	insertCorrections(t, st, "issuer-1", "vendor_name", [][2]string{
		{"ACME Corp", "ACME Corporation"},
	})

	a := New(&failingStore{Store: st}, testParams())
	_, err := a.Run(ctx)
	require.Error(t, err)

	// Nothing from the batch landed.
	pending, err := st.CountUnanalyzed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	patterns, err := st.ListPatterns(ctx, store.PatternFilter{})
	require.NoError(t, err)
	assert.Empty(t, patterns)

	// But the failure itself is durable.
	last, err := st.LastAnalysisRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, model.RunStatusFailed, last.Status)
	assert.Contains(t, last.ErrorMessage, "promotion exploded")
}
