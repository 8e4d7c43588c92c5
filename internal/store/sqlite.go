package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/veridocs/correction-cli/internal/model"
)

// sqliteQuerier is the query surface shared by *sql.DB and *sql.Tx, so
// every store method works both directly and inside WithTx.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// single-node deployments and tests; Postgres is the production driver.
type SQLiteStore struct {
	db *sql.DB
	q  sqliteQuerier
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, q: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS corrections (
	id              TEXT PRIMARY KEY,
	issuer_id       TEXT NOT NULL,
	field_name      TEXT NOT NULL,
	original_value  TEXT,
	corrected_value TEXT NOT NULL,
	document_id     TEXT NOT NULL,
	occurred_at     DATETIME NOT NULL,
	analyzed        INTEGER NOT NULL DEFAULT 0,
	pattern_id      TEXT
);

CREATE INDEX IF NOT EXISTS idx_corrections_unanalyzed ON corrections(analyzed, occurred_at, id);
CREATE INDEX IF NOT EXISTS idx_corrections_pattern_id ON corrections(pattern_id);

CREATE TABLE IF NOT EXISTS correction_patterns (
	id                       TEXT PRIMARY KEY,
	issuer_id                TEXT NOT NULL,
	field_name               TEXT NOT NULL,
	pattern_hash             TEXT NOT NULL UNIQUE,
	representative_original  TEXT NOT NULL,
	representative_corrected TEXT NOT NULL,
	occurrence_count         INTEGER NOT NULL DEFAULT 0,
	confidence               REAL NOT NULL DEFAULT 0,
	sample_evidence          TEXT NOT NULL DEFAULT '[]',
	status                   TEXT NOT NULL DEFAULT 'detected',
	first_seen_at            DATETIME NOT NULL,
	last_seen_at             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patterns_issuer_field ON correction_patterns(issuer_id, field_name);
CREATE INDEX IF NOT EXISTS idx_patterns_status ON correction_patterns(status);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id                 TEXT PRIMARY KEY,
	started_at         DATETIME NOT NULL,
	completed_at       DATETIME,
	status             TEXT NOT NULL DEFAULT 'running',
	total_analyzed     INTEGER NOT NULL DEFAULT 0,
	patterns_detected  INTEGER NOT NULL DEFAULT 0,
	patterns_updated   INTEGER NOT NULL DEFAULT 0,
	candidates_created INTEGER NOT NULL DEFAULT 0,
	execution_time_ms  INTEGER NOT NULL DEFAULT 0,
	error_message      TEXT
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_started_at ON analysis_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	txStore := &SQLiteStore{db: s.db, q: tx}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anySlice(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (s *SQLiteStore) FetchUnanalyzed(ctx context.Context, limit int) ([]model.CorrectionEvent, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, issuer_id, field_name, original_value, corrected_value, document_id, occurred_at, analyzed, pattern_id
		 FROM corrections WHERE analyzed = 0 ORDER BY occurred_at ASC, id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch unanalyzed")
	}
	defer rows.Close()
	return scanSQLiteCorrections(rows)
}

func scanSQLiteCorrections(rows *sql.Rows) ([]model.CorrectionEvent, error) {
	var events []model.CorrectionEvent
	for rows.Next() {
		var e model.CorrectionEvent
		if err := rows.Scan(&e.ID, &e.IssuerID, &e.FieldName, &e.OriginalValue, &e.CorrectedValue,
			&e.DocumentID, &e.OccurredAt, &e.Analyzed, &e.PatternID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: iterate corrections")
}

func (s *SQLiteStore) MarkAnalyzed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE corrections SET analyzed = 1 WHERE id IN (%s)`, placeholders(len(ids)))
	_, err := s.q.ExecContext(ctx, query, anySlice(ids)...)
	return eris.Wrap(err, "sqlite: mark analyzed")
}

func (s *SQLiteStore) InsertEvents(ctx context.Context, events []model.CorrectionEvent) (int64, error) {
	var inserted int64
	for _, e := range events {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := s.q.ExecContext(ctx,
			`INSERT INTO corrections (id, issuer_id, field_name, original_value, corrected_value, document_id, occurred_at, analyzed, pattern_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, e.IssuerID, e.FieldName, e.OriginalValue, e.CorrectedValue,
			e.DocumentID, e.OccurredAt.UTC(), e.Analyzed, e.PatternID,
		)
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: insert correction")
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	return inserted, nil
}

func (s *SQLiteStore) CountUnanalyzed(ctx context.Context) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrections WHERE analyzed = 0`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count unanalyzed")
}

func (s *SQLiteStore) LinkEventsToPattern(ctx context.Context, ids []string, patternID string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE corrections SET pattern_id = ? WHERE id IN (%s)`, placeholders(len(ids)))
	args := append([]any{patternID}, anySlice(ids)...)
	_, err := s.q.ExecContext(ctx, query, args...)
	return eris.Wrapf(err, "sqlite: link corrections to pattern %s", patternID)
}

func (s *SQLiteStore) ListEventsForPattern(ctx context.Context, patternID string, limit int) ([]model.CorrectionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, issuer_id, field_name, original_value, corrected_value, document_id, occurred_at, analyzed, pattern_id
		 FROM corrections WHERE pattern_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		patternID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrections for pattern")
	}
	defer rows.Close()
	return scanSQLiteCorrections(rows)
}

const sqlitePatternColumns = `id, issuer_id, field_name, pattern_hash, representative_original, representative_corrected,
	occurrence_count, confidence, sample_evidence, status, first_seen_at, last_seen_at`

func scanSQLitePattern(scan func(dest ...any) error) (*model.CorrectionPattern, error) {
	var p model.CorrectionPattern
	var samplesJSON string
	err := scan(&p.ID, &p.IssuerID, &p.FieldName, &p.PatternHash,
		&p.RepresentativeOriginal, &p.RepresentativeCorrected,
		&p.OccurrenceCount, &p.Confidence, &samplesJSON, &p.Status,
		&p.FirstSeenAt, &p.LastSeenAt)
	if err != nil {
		return nil, err
	}
	if samplesJSON != "" {
		if err := json.Unmarshal([]byte(samplesJSON), &p.SampleEvidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sample evidence")
		}
	}
	return &p, nil
}

func (s *SQLiteStore) FindPatternByHash(ctx context.Context, hash string) (*model.CorrectionPattern, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+sqlitePatternColumns+` FROM correction_patterns WHERE pattern_hash = ?`,
		hash,
	)
	p, err := scanSQLitePattern(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: find pattern by hash")
	}
	return p, nil
}

func (s *SQLiteStore) GetPattern(ctx context.Context, id string) (*model.CorrectionPattern, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+sqlitePatternColumns+` FROM correction_patterns WHERE id = ?`,
		id,
	)
	p, err := scanSQLitePattern(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get pattern %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) UpsertPattern(ctx context.Context, p *model.CorrectionPattern) error {
	samplesJSON, err := json.Marshal(p.SampleEvidence)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sample evidence")
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO correction_patterns
		 (id, issuer_id, field_name, pattern_hash, representative_original, representative_corrected,
		  occurrence_count, confidence, sample_evidence, status, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (pattern_hash) DO UPDATE SET
		   representative_original = excluded.representative_original,
		   representative_corrected = excluded.representative_corrected,
		   occurrence_count = excluded.occurrence_count,
		   confidence = excluded.confidence,
		   sample_evidence = excluded.sample_evidence,
		   last_seen_at = excluded.last_seen_at`,
		p.ID, p.IssuerID, p.FieldName, p.PatternHash,
		p.RepresentativeOriginal, p.RepresentativeCorrected,
		p.OccurrenceCount, p.Confidence, string(samplesJSON), string(p.Status),
		p.FirstSeenAt.UTC(), p.LastSeenAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert pattern")
}

func (s *SQLiteStore) ListPatterns(ctx context.Context, f PatternFilter) ([]model.CorrectionPattern, error) {
	query := `SELECT ` + sqlitePatternColumns + ` FROM correction_patterns WHERE 1=1`
	args := []any{}

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.IssuerID != "" {
		query += ` AND issuer_id = ?`
		args = append(args, f.IssuerID)
	}
	query += ` ORDER BY occurrence_count DESC, confidence DESC, last_seen_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list patterns")
	}
	defer rows.Close()

	var patterns []model.CorrectionPattern
	for rows.Next() {
		p, err := scanSQLitePattern(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pattern")
		}
		patterns = append(patterns, *p)
	}
	return patterns, eris.Wrap(rows.Err(), "sqlite: list patterns iterate")
}

func (s *SQLiteStore) UpdatePatternStatus(ctx context.Context, id string, from, to model.PatternStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE correction_patterns SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update pattern status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *SQLiteStore) BulkPromoteDetected(ctx context.Context, threshold int64) (int, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE correction_patterns SET status = ? WHERE status = ? AND occurrence_count >= ?`,
		string(model.StatusCandidate), string(model.StatusDetected), threshold,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: bulk promote detected")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) CountPatterns(ctx context.Context) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM correction_patterns`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count patterns")
}

func (s *SQLiteStore) CountPatternsByStatus(ctx context.Context, status model.PatternStatus) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM correction_patterns WHERE status = ?`,
		string(status),
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count patterns by status")
}

func (s *SQLiteStore) CreateAnalysisRun(ctx context.Context) (*model.AnalysisRun, error) {
	run := &model.AnalysisRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    model.RunStatusRunning,
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO analysis_runs (id, started_at, status) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, string(run.Status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert analysis run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteAnalysisRun(ctx context.Context, run *model.AnalysisRun) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE analysis_runs
		 SET status = ?, completed_at = ?, total_analyzed = ?, patterns_detected = ?,
		     patterns_updated = ?, candidates_created = ?, execution_time_ms = ?
		 WHERE id = ?`,
		string(model.RunStatusCompleted), now, run.TotalAnalyzed, run.PatternsDetected,
		run.PatternsUpdated, run.CandidatesCreated, run.ExecutionTimeMs, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete analysis run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("analysis run not found: %s", run.ID)
	}
	run.Status = model.RunStatusCompleted
	run.CompletedAt = &now
	return nil
}

func (s *SQLiteStore) FailAnalysisRun(ctx context.Context, id, errMsg string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE analysis_runs SET status = ?, completed_at = ?, error_message = ? WHERE id = ?`,
		string(model.RunStatusFailed), time.Now().UTC(), errMsg, id,
	)
	return eris.Wrapf(err, "sqlite: fail analysis run %s", id)
}

func (s *SQLiteStore) LastAnalysisRun(ctx context.Context) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var errMsg sql.NullString
	err := s.q.QueryRowContext(ctx,
		`SELECT id, started_at, completed_at, status, total_analyzed, patterns_detected,
		        patterns_updated, candidates_created, execution_time_ms, error_message
		 FROM analysis_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&r.ID, &r.StartedAt, &r.CompletedAt, &r.Status, &r.TotalAnalyzed,
		&r.PatternsDetected, &r.PatternsUpdated, &r.CandidatesCreated,
		&r.ExecutionTimeMs, &errMsg)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: last analysis run")
	}
	if errMsg.Valid {
		r.ErrorMessage = errMsg.String
	}
	return &r, nil
}
