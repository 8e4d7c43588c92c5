package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/veridocs/correction-cli/internal/db"
	"github.com/veridocs/correction-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. A transaction-bound copy
// created by WithTx carries the pgx.Tx in the pool field; pgx.Tx satisfies
// db.Pool, so every query method works unchanged inside a transaction.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot analysis-loop operations.
var preparedStatements = map[string]string{
	"fetch_unanalyzed": `SELECT id, issuer_id, field_name, original_value, corrected_value, document_id, occurred_at, analyzed, pattern_id
	                     FROM corrections WHERE analyzed = false ORDER BY occurred_at ASC, id ASC LIMIT $1`,
	"find_pattern_by_hash": `SELECT id, issuer_id, field_name, pattern_hash, representative_original, representative_corrected,
	                         occurrence_count, confidence, sample_evidence, status, first_seen_at, last_seen_at
	                         FROM correction_patterns WHERE pattern_hash = $1`,
	"count_unanalyzed": `SELECT COUNT(*) FROM corrections WHERE analyzed = false`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS corrections (
	id              TEXT PRIMARY KEY,
	issuer_id       TEXT NOT NULL,
	field_name      TEXT NOT NULL,
	original_value  TEXT,
	corrected_value TEXT NOT NULL,
	document_id     TEXT NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	analyzed        BOOLEAN NOT NULL DEFAULT false,
	pattern_id      TEXT
);

CREATE INDEX IF NOT EXISTS idx_corrections_unanalyzed ON corrections(occurred_at, id) WHERE analyzed = false;
CREATE INDEX IF NOT EXISTS idx_corrections_pattern_id ON corrections(pattern_id);

CREATE TABLE IF NOT EXISTS correction_patterns (
	id                       TEXT PRIMARY KEY,
	issuer_id                TEXT NOT NULL,
	field_name               TEXT NOT NULL,
	pattern_hash             TEXT NOT NULL UNIQUE,
	representative_original  TEXT NOT NULL,
	representative_corrected TEXT NOT NULL,
	occurrence_count         BIGINT NOT NULL DEFAULT 0,
	confidence               DOUBLE PRECISION NOT NULL DEFAULT 0,
	sample_evidence          JSONB NOT NULL DEFAULT '[]',
	status                   TEXT NOT NULL DEFAULT 'detected',
	first_seen_at            TIMESTAMPTZ NOT NULL,
	last_seen_at             TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patterns_issuer_field ON correction_patterns(issuer_id, field_name);
CREATE INDEX IF NOT EXISTS idx_patterns_status ON correction_patterns(status);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id                 TEXT PRIMARY KEY,
	started_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ,
	status             TEXT NOT NULL DEFAULT 'running',
	total_analyzed     INTEGER NOT NULL DEFAULT 0,
	patterns_detected  INTEGER NOT NULL DEFAULT 0,
	patterns_updated   INTEGER NOT NULL DEFAULT 0,
	candidates_created INTEGER NOT NULL DEFAULT 0,
	execution_time_ms  BIGINT NOT NULL DEFAULT 0,
	error_message      TEXT
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_started_at ON analysis_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// WithTx runs fn against a transaction-bound copy of the store. pgx.Tx
// satisfies db.Pool, so the copy is just the same store with the pool
// swapped for the transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	txStore := &PostgresStore{pool: tx}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

const correctionColumns = `id, issuer_id, field_name, original_value, corrected_value, document_id, occurred_at, analyzed, pattern_id`

func scanCorrection(row pgx.Row) (model.CorrectionEvent, error) {
	var e model.CorrectionEvent
	err := row.Scan(&e.ID, &e.IssuerID, &e.FieldName, &e.OriginalValue, &e.CorrectedValue,
		&e.DocumentID, &e.OccurredAt, &e.Analyzed, &e.PatternID)
	return e, err
}

func (s *PostgresStore) FetchUnanalyzed(ctx context.Context, limit int) ([]model.CorrectionEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+correctionColumns+` FROM corrections
		 WHERE analyzed = false ORDER BY occurred_at ASC, id ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch unanalyzed")
	}
	defer rows.Close()

	var events []model.CorrectionEvent
	for rows.Next() {
		e, err := scanCorrection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: fetch unanalyzed iterate")
}

func (s *PostgresStore) MarkAnalyzed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE corrections SET analyzed = true WHERE id = ANY($1)`,
		ids,
	)
	return eris.Wrap(err, "postgres: mark analyzed")
}

func (s *PostgresStore) InsertEvents(ctx context.Context, events []model.CorrectionEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{
			id, e.IssuerID, e.FieldName, e.OriginalValue, e.CorrectedValue,
			e.DocumentID, e.OccurredAt, e.Analyzed, e.PatternID,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "corrections",
		[]string{"id", "issuer_id", "field_name", "original_value", "corrected_value", "document_id", "occurred_at", "analyzed", "pattern_id"},
		rows,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert corrections")
	}
	return n, nil
}

func (s *PostgresStore) CountUnanalyzed(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM corrections WHERE analyzed = false`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count unanalyzed")
}

func (s *PostgresStore) LinkEventsToPattern(ctx context.Context, ids []string, patternID string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE corrections SET pattern_id = $1 WHERE id = ANY($2)`,
		patternID, ids,
	)
	return eris.Wrapf(err, "postgres: link corrections to pattern %s", patternID)
}

func (s *PostgresStore) ListEventsForPattern(ctx context.Context, patternID string, limit int) ([]model.CorrectionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+correctionColumns+` FROM corrections
		 WHERE pattern_id = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2`,
		patternID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrections for pattern")
	}
	defer rows.Close()

	var events []model.CorrectionEvent
	for rows.Next() {
		e, err := scanCorrection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list corrections iterate")
}

const patternColumns = `id, issuer_id, field_name, pattern_hash, representative_original, representative_corrected,
	occurrence_count, confidence, sample_evidence, status, first_seen_at, last_seen_at`

func scanPattern(row pgx.Row) (*model.CorrectionPattern, error) {
	var p model.CorrectionPattern
	var samplesJSON []byte
	err := row.Scan(&p.ID, &p.IssuerID, &p.FieldName, &p.PatternHash,
		&p.RepresentativeOriginal, &p.RepresentativeCorrected,
		&p.OccurrenceCount, &p.Confidence, &samplesJSON, &p.Status,
		&p.FirstSeenAt, &p.LastSeenAt)
	if err != nil {
		return nil, err
	}
	if len(samplesJSON) > 0 {
		if err := json.Unmarshal(samplesJSON, &p.SampleEvidence); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sample evidence")
		}
	}
	return &p, nil
}

func (s *PostgresStore) FindPatternByHash(ctx context.Context, hash string) (*model.CorrectionPattern, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM correction_patterns WHERE pattern_hash = $1`,
		hash,
	)
	p, err := scanPattern(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find pattern by hash")
	}
	return p, nil
}

func (s *PostgresStore) GetPattern(ctx context.Context, id string) (*model.CorrectionPattern, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM correction_patterns WHERE id = $1`,
		id,
	)
	p, err := scanPattern(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get pattern %s", id)
	}
	return p, nil
}

func (s *PostgresStore) UpsertPattern(ctx context.Context, p *model.CorrectionPattern) error {
	samplesJSON, err := json.Marshal(p.SampleEvidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sample evidence")
	}

	// Status and first_seen_at are insert-only: merges never touch an
	// operator-owned status, and the first sighting never moves.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO correction_patterns
		 (id, issuer_id, field_name, pattern_hash, representative_original, representative_corrected,
		  occurrence_count, confidence, sample_evidence, status, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (pattern_hash) DO UPDATE SET
		   representative_original = $5, representative_corrected = $6,
		   occurrence_count = $7, confidence = $8, sample_evidence = $9, last_seen_at = $12`,
		p.ID, p.IssuerID, p.FieldName, p.PatternHash,
		p.RepresentativeOriginal, p.RepresentativeCorrected,
		p.OccurrenceCount, p.Confidence, samplesJSON, string(p.Status),
		p.FirstSeenAt, p.LastSeenAt,
	)
	return eris.Wrap(err, "postgres: upsert pattern")
}

func (s *PostgresStore) ListPatterns(ctx context.Context, f PatternFilter) ([]model.CorrectionPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM correction_patterns WHERE true`
	args := []any{}
	argIdx := 1

	if f.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.IssuerID != "" {
		query += fmt.Sprintf(` AND issuer_id = $%d`, argIdx)
		args = append(args, f.IssuerID)
		argIdx++
	}
	query += ` ORDER BY occurrence_count DESC, confidence DESC, last_seen_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list patterns")
	}
	defer rows.Close()

	var patterns []model.CorrectionPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pattern")
		}
		patterns = append(patterns, *p)
	}
	return patterns, eris.Wrap(rows.Err(), "postgres: list patterns iterate")
}

func (s *PostgresStore) UpdatePatternStatus(ctx context.Context, id string, from, to model.PatternStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE correction_patterns SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update pattern status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *PostgresStore) BulkPromoteDetected(ctx context.Context, threshold int64) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE correction_patterns SET status = $1 WHERE status = $2 AND occurrence_count >= $3`,
		string(model.StatusCandidate), string(model.StatusDetected), threshold,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk promote detected")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountPatterns(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM correction_patterns`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count patterns")
}

func (s *PostgresStore) CountPatternsByStatus(ctx context.Context, status model.PatternStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM correction_patterns WHERE status = $1`,
		string(status),
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count patterns by status")
}

func (s *PostgresStore) CreateAnalysisRun(ctx context.Context) (*model.AnalysisRun, error) {
	run := &model.AnalysisRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    model.RunStatusRunning,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_runs (id, started_at, status) VALUES ($1, $2, $3)`,
		run.ID, run.StartedAt, string(run.Status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert analysis run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteAnalysisRun(ctx context.Context, run *model.AnalysisRun) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs
		 SET status = $1, completed_at = $2, total_analyzed = $3, patterns_detected = $4,
		     patterns_updated = $5, candidates_created = $6, execution_time_ms = $7
		 WHERE id = $8`,
		string(model.RunStatusCompleted), now, run.TotalAnalyzed, run.PatternsDetected,
		run.PatternsUpdated, run.CandidatesCreated, run.ExecutionTimeMs, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete analysis run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("analysis run not found: %s", run.ID)
	}
	run.Status = model.RunStatusCompleted
	run.CompletedAt = &now
	return nil
}

func (s *PostgresStore) FailAnalysisRun(ctx context.Context, id, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET status = $1, completed_at = $2, error_message = $3 WHERE id = $4`,
		string(model.RunStatusFailed), time.Now().UTC(), errMsg, id,
	)
	return eris.Wrapf(err, "postgres: fail analysis run %s", id)
}

func (s *PostgresStore) LastAnalysisRun(ctx context.Context) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var errMsg *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, started_at, completed_at, status, total_analyzed, patterns_detected,
		        patterns_updated, candidates_created, execution_time_ms, error_message
		 FROM analysis_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&r.ID, &r.StartedAt, &r.CompletedAt, &r.Status, &r.TotalAnalyzed,
		&r.PatternsDetected, &r.PatternsUpdated, &r.CandidatesCreated,
		&r.ExecutionTimeMs, &errMsg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: last analysis run")
	}
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	return &r, nil
}
