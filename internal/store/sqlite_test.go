package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/correction-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "corrections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func strPtr(s string) *string { return &s }

func testEvent(id, issuer, field, original, corrected string, occurred time.Time) model.CorrectionEvent {
	return model.CorrectionEvent{
		ID:             id,
		IssuerID:       issuer,
		FieldName:      field,
		OriginalValue:  strPtr(original),
		CorrectedValue: corrected,
		DocumentID:     "doc-" + id,
		OccurredAt:     occurred,
	}
}

func TestSQLiteStore_EventRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []model.CorrectionEvent{
		testEvent("ev-2", "issuer-1", "vendor_name", "ACMECorp", "ACME Corporation", base.Add(time.Hour)),
		testEvent("ev-1", "issuer-1", "vendor_name", "ACME Corp", "ACME Corporation", base),
	}
	n, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := s.CountUnanalyzed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Oldest occurred_at comes back first regardless of insert order.
	fetched, err := s.FetchUnanalyzed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fetched, 2)
	assert.Equal(t, "ev-1", fetched[0].ID)
	assert.Equal(t, "ev-2", fetched[1].ID)
	assert.Equal(t, "ACME Corp", fetched[0].Original())

	require.NoError(t, s.MarkAnalyzed(ctx, []string{"ev-1"}))

	fetched, err = s.FetchUnanalyzed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, "ev-2", fetched[0].ID)

	count, err = s.CountUnanalyzed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_FetchUnanalyzed_Limit(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var events []model.CorrectionEvent
	for i := 0; i < 5; i++ {
		events = append(events, testEvent(
			"ev-"+string(rune('a'+i)), "issuer-1", "total", "1", "2", base.Add(time.Duration(i)*time.Minute)))
	}
	_, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)

	fetched, err := s.FetchUnanalyzed(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, fetched, 3)
	assert.Equal(t, "ev-a", fetched[0].ID)
}

func TestSQLiteStore_PatternUpsertAndFind(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	missing, err := s.FindPatternByHash(ctx, "no-such-hash")
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	p := &model.CorrectionPattern{
		ID:                      "pat-1",
		IssuerID:                "issuer-1",
		FieldName:               "vendor_name",
		PatternHash:             "hash-1",
		RepresentativeOriginal:  "ACME Corp",
		RepresentativeCorrected: "ACME Corporation",
		OccurrenceCount:         2,
		Confidence:              0.2,
		SampleEvidence: []model.SampleEvidence{
			{OriginalValue: "ACME Corp", CorrectedValue: "ACME Corporation", DocumentID: "doc-1", OccurredAt: now},
		},
		Status:      model.StatusDetected,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	require.NoError(t, s.UpsertPattern(ctx, p))

	got, err := s.FindPatternByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pat-1", got.ID)
	assert.Equal(t, int64(2), got.OccurrenceCount)
	require.Len(t, got.SampleEvidence, 1)
	assert.Equal(t, "doc-1", got.SampleEvidence[0].DocumentID)

	// Conflict on pattern_hash updates the merge-owned columns but never
	// the status or the first sighting.
	p2 := *p
	p2.ID = "pat-other"
	p2.OccurrenceCount = 5
	p2.Confidence = 0.5
	p2.Status = model.StatusIgnored
	p2.LastSeenAt = now.Add(24 * time.Hour)
	require.NoError(t, s.UpsertPattern(ctx, &p2))

	got, err = s.FindPatternByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pat-1", got.ID)
	assert.Equal(t, int64(5), got.OccurrenceCount)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
	assert.Equal(t, model.StatusDetected, got.Status)
	assert.Equal(t, now, got.FirstSeenAt.UTC())
}

func TestSQLiteStore_UpdatePatternStatus(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	p := &model.CorrectionPattern{
		ID: "pat-1", IssuerID: "i", FieldName: "f", PatternHash: "h",
		RepresentativeOriginal: "a", RepresentativeCorrected: "b",
		OccurrenceCount: 3, Confidence: 0.3,
		Status: model.StatusDetected, FirstSeenAt: now, LastSeenAt: now,
	}
	require.NoError(t, s.UpsertPattern(ctx, p))

	require.NoError(t, s.UpdatePatternStatus(ctx, "pat-1", model.StatusDetected, model.StatusCandidate))

	got, err := s.GetPattern(ctx, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCandidate, got.Status)

	// Stale from status misses the predicate.
	err = s.UpdatePatternStatus(ctx, "pat-1", model.StatusDetected, model.StatusCandidate)
	assert.ErrorIs(t, err, ErrStatusConflict)

	err = s.UpdatePatternStatus(ctx, "no-such-id", model.StatusDetected, model.StatusCandidate)
	assert.ErrorIs(t, err, ErrStatusConflict)
}

func TestSQLiteStore_BulkPromoteDetected(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	mk := func(id, hash string, count int64, status model.PatternStatus) *model.CorrectionPattern {
		return &model.CorrectionPattern{
			ID: id, IssuerID: "i", FieldName: "f", PatternHash: hash,
			RepresentativeOriginal: "a", RepresentativeCorrected: "b",
			OccurrenceCount: count, Confidence: 0.1,
			Status: status, FirstSeenAt: now, LastSeenAt: now,
		}
	}
	require.NoError(t, s.UpsertPattern(ctx, mk("pat-1", "h1", 3, model.StatusDetected)))
	require.NoError(t, s.UpsertPattern(ctx, mk("pat-2", "h2", 2, model.StatusDetected)))
	require.NoError(t, s.UpsertPattern(ctx, mk("pat-3", "h3", 9, model.StatusIgnored)))

	promoted, err := s.BulkPromoteDetected(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	got, err := s.GetPattern(ctx, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCandidate, got.Status)

	got, err = s.GetPattern(ctx, "pat-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDetected, got.Status)

	// Operator statuses are never swept up by promotion.
	got, err = s.GetPattern(ctx, "pat-3")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, got.Status)

	candidates, err := s.CountPatternsByStatus(ctx, model.StatusCandidate)
	require.NoError(t, err)
	assert.Equal(t, 1, candidates)
}

func TestSQLiteStore_ListPatterns_Filter(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	mk := func(id, hash, issuer string, count int64, status model.PatternStatus) *model.CorrectionPattern {
		return &model.CorrectionPattern{
			ID: id, IssuerID: issuer, FieldName: "f", PatternHash: hash,
			RepresentativeOriginal: "a", RepresentativeCorrected: "b",
			OccurrenceCount: count, Status: status, FirstSeenAt: now, LastSeenAt: now,
		}
	}
	require.NoError(t, s.UpsertPattern(ctx, mk("pat-1", "h1", "issuer-1", 5, model.StatusCandidate)))
	require.NoError(t, s.UpsertPattern(ctx, mk("pat-2", "h2", "issuer-1", 9, model.StatusDetected)))
	require.NoError(t, s.UpsertPattern(ctx, mk("pat-3", "h3", "issuer-2", 2, model.StatusCandidate)))

	all, err := s.ListPatterns(ctx, PatternFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Highest occurrence count first.
	assert.Equal(t, "pat-2", all[0].ID)

	candidates, err := s.ListPatterns(ctx, PatternFilter{Status: model.StatusCandidate})
	require.NoError(t, err)
	assert.Len(t, candidates, 2)

	issuer1, err := s.ListPatterns(ctx, PatternFilter{Status: model.StatusCandidate, IssuerID: "issuer-1"})
	require.NoError(t, err)
	require.Len(t, issuer1, 1)
	assert.Equal(t, "pat-1", issuer1[0].ID)
}

func TestSQLiteStore_ListPatterns_ConfidenceTiebreak(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	mk := func(id, hash string, confidence float64) *model.CorrectionPattern {
		return &model.CorrectionPattern{
			ID: id, IssuerID: "issuer-1", FieldName: "f", PatternHash: hash,
			RepresentativeOriginal: "a", RepresentativeCorrected: "b",
			OccurrenceCount: 5, Confidence: confidence, Status: model.StatusDetected,
			FirstSeenAt: now, LastSeenAt: now,
		}
	}
	require.NoError(t, s.UpsertPattern(ctx, mk("pat-low", "h1", 0.3)))
	require.NoError(t, s.UpsertPattern(ctx, mk("pat-high", "h2", 0.9)))

	got, err := s.ListPatterns(ctx, PatternFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Equal occurrence counts order by confidence.
	assert.Equal(t, "pat-high", got[0].ID)
	assert.Equal(t, "pat-low", got[1].ID)
}

func TestSQLiteStore_LinkEventsToPattern(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.InsertEvents(ctx, []model.CorrectionEvent{
		testEvent("ev-1", "issuer-1", "total", "1.000,50", "1000.50", base),
		testEvent("ev-2", "issuer-1", "total", "2.000,50", "2000.50", base.Add(time.Minute)),
		testEvent("ev-3", "issuer-1", "total", "x", "y", base.Add(2*time.Minute)),
	})
	require.NoError(t, err)

	require.NoError(t, s.LinkEventsToPattern(ctx, []string{"ev-1", "ev-2"}, "pat-1"))

	linked, err := s.ListEventsForPattern(ctx, "pat-1", 0)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	// Most recent evidence first for the detail view.
	assert.Equal(t, "ev-2", linked[0].ID)
	assert.Equal(t, "ev-1", linked[1].ID)
}

func TestSQLiteStore_AnalysisRunLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	none, err := s.LastAnalysisRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	run, err := s.CreateAnalysisRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	run.TotalAnalyzed = 42
	run.PatternsDetected = 3
	run.PatternsUpdated = 2
	run.CandidatesCreated = 1
	run.ExecutionTimeMs = 128
	require.NoError(t, s.CompleteAnalysisRun(ctx, run))

	last, err := s.LastAnalysisRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, model.RunStatusCompleted, last.Status)
	assert.Equal(t, 42, last.TotalAnalyzed)
	assert.NotNil(t, last.CompletedAt)

	failed, err := s.CreateAnalysisRun(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FailAnalysisRun(ctx, failed.ID, "store unavailable"))

	last, err = s.LastAnalysisRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, last.Status)
	assert.Equal(t, "store unavailable", last.ErrorMessage)
}

func TestSQLiteStore_WithTx_Rollback(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.InsertEvents(ctx, []model.CorrectionEvent{
		testEvent("ev-1", "issuer-1", "total", "1", "2", base),
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx Store) error {
		if err := tx.MarkAnalyzed(ctx, []string{"ev-1"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	// The mark must not survive the rollback.
	count, err := s.CountUnanalyzed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_WithTx_Commit(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.InsertEvents(ctx, []model.CorrectionEvent{
		testEvent("ev-1", "issuer-1", "total", "1", "2", base),
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx Store) error {
		return tx.MarkAnalyzed(ctx, []string{"ev-1"})
	})
	require.NoError(t, err)

	count, err := s.CountUnanalyzed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
