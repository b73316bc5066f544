package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tracekit/tracekit/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS traces (
			trace_id TEXT PRIMARY KEY,
			trace_version TEXT NOT NULL DEFAULT '1.0',
			status TEXT NOT NULL DEFAULT 'collecting',
			repo TEXT NOT NULL,
			task TEXT NOT NULL,
			developer TEXT NOT NULL,
			environment TEXT NOT NULL,
			policy TEXT,
			final_state TEXT,
			qa TEXT,
			qa_job_id TEXT,
			created_at_ms INTEGER NOT NULL,
			finalized_at_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_status ON traces(status, created_at_ms)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts_ms INTEGER NOT NULL,
			type TEXT NOT NULL,
			actor TEXT NOT NULL,
			context TEXT,
			payload TEXT NOT NULL,
			FOREIGN KEY (trace_id) REFERENCES traces(trace_id),
			UNIQUE (trace_id, event_id),
			UNIQUE (trace_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_trace_seq ON events(trace_id, seq)`,
		`CREATE TABLE IF NOT EXISTS blobs (
			blob_id TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			byte_length INTEGER NOT NULL,
			storage_uri TEXT NOT NULL,
			redaction TEXT,
			created_at_ms INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateTrace inserts a new trace row.
func (s *SQLiteStore) CreateTrace(ctx context.Context, trace *domain.Trace) error {
	repo, _ := json.Marshal(trace.Repo)
	task, _ := json.Marshal(trace.Task)
	developer, _ := json.Marshal(trace.Developer)
	environment, _ := json.Marshal(trace.Environment)
	var policy sql.NullString
	if trace.Policy != nil {
		b, _ := json.Marshal(trace.Policy)
		policy = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traces (trace_id, trace_version, status, repo, task, developer, environment, policy, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.TraceID, trace.TraceVersion, trace.Status, string(repo), string(task),
		string(developer), string(environment), policy, trace.CreatedAtMs)
	return err
}

// GetTrace retrieves a trace row without its events.
func (s *SQLiteStore) GetTrace(ctx context.Context, traceID string) (*domain.Trace, error) {
	var t domain.Trace
	var repo, task, developer, environment string
	var policy, finalState, qa, qaJobID sql.NullString
	var finalizedAtMs sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT trace_id, trace_version, status, repo, task, developer, environment, policy, final_state, qa, qa_job_id, created_at_ms, finalized_at_ms
		 FROM traces WHERE trace_id = ?`, traceID).
		Scan(&t.TraceID, &t.TraceVersion, &t.Status, &repo, &task, &developer, &environment,
			&policy, &finalState, &qa, &qaJobID, &t.CreatedAtMs, &finalizedAtMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(repo), &t.Repo); err != nil {
		return nil, fmt.Errorf("corrupt repo block: %w", err)
	}
	if err := json.Unmarshal([]byte(task), &t.Task); err != nil {
		return nil, fmt.Errorf("corrupt task block: %w", err)
	}
	if err := json.Unmarshal([]byte(developer), &t.Developer); err != nil {
		return nil, fmt.Errorf("corrupt developer block: %w", err)
	}
	if err := json.Unmarshal([]byte(environment), &t.Environment); err != nil {
		return nil, fmt.Errorf("corrupt environment block: %w", err)
	}
	if policy.Valid {
		t.Policy = &domain.PolicyDecision{}
		if err := json.Unmarshal([]byte(policy.String), t.Policy); err != nil {
			return nil, fmt.Errorf("corrupt policy block: %w", err)
		}
	}
	if finalState.Valid {
		t.FinalState = &domain.FinalState{}
		if err := json.Unmarshal([]byte(finalState.String), t.FinalState); err != nil {
			return nil, fmt.Errorf("corrupt final_state block: %w", err)
		}
	}
	if qa.Valid {
		t.QA = &domain.QA{}
		if err := json.Unmarshal([]byte(qa.String), t.QA); err != nil {
			return nil, fmt.Errorf("corrupt qa block: %w", err)
		}
	}
	if qaJobID.Valid {
		t.QAJobID = qaJobID.String
	}
	if finalizedAtMs.Valid {
		v := finalizedAtMs.Int64
		t.FinalizedAtMs = &v
	}
	return &t, nil
}

// FinalizeTrace transitions a trace from collecting to finalizing,
// storing the final state. Returns false when the trace was not in
// collecting, leaving it untouched.
func (s *SQLiteStore) FinalizeTrace(ctx context.Context, traceID string, finalState *domain.FinalState, finalizedAtMs int64, qaJobID string) (bool, error) {
	fs, _ := json.Marshal(finalState)
	res, err := s.db.ExecContext(ctx,
		`UPDATE traces SET status = ?, final_state = ?, finalized_at_ms = ?, qa_job_id = ?
		 WHERE trace_id = ? AND status = ?`,
		domain.TraceStatusFinalizing, string(fs), finalizedAtMs, qaJobID,
		traceID, domain.TraceStatusCollecting)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateStatusFrom moves a trace from one status to another. The
// conditional WHERE makes the transition race-free: it reports false
// when the trace was no longer in the expected source status.
func (s *SQLiteStore) UpdateStatusFrom(ctx context.Context, traceID string, from, to domain.TraceStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE traces SET status = ? WHERE trace_id = ? AND status = ?`,
		to, traceID, from)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateQA writes the QA block of a trace.
func (s *SQLiteStore) UpdateQA(ctx context.Context, traceID string, qa *domain.QA) error {
	b, err := json.Marshal(qa)
	if err != nil {
		return fmt.Errorf("failed to marshal qa: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE traces SET qa = ? WHERE trace_id = ?`, string(b), traceID)
	return err
}

// UpdateFinalState rewrites the final-state block of a trace.
func (s *SQLiteStore) UpdateFinalState(ctx context.Context, traceID string, finalState *domain.FinalState) error {
	b, err := json.Marshal(finalState)
	if err != nil {
		return fmt.Errorf("failed to marshal final_state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE traces SET final_state = ? WHERE trace_id = ?`, string(b), traceID)
	return err
}

// ListTraceIDsByStatus returns trace ids in the given status, oldest first.
func (s *SQLiteStore) ListTraceIDsByStatus(ctx context.Context, status domain.TraceStatus, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id FROM traces WHERE status = ? ORDER BY created_at_ms ASC LIMIT ?`,
		status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendEvents appends a batch of events to a trace. The whole batch
// runs inside one transaction that re-reads the high-water seq, so two
// concurrent batches against the same trace serialize and the strict
// increase invariant cannot be violated by a race. On rejection the
// returned error carries the current high-water seq.
func (s *SQLiteStore) AppendEvents(ctx context.Context, traceID string, events []domain.Event) (int, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var status domain.TraceStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM traces WHERE trace_id = ?`, traceID).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, 0, domain.NewNotFoundError(fmt.Sprintf("trace not found: %s", traceID))
	}
	if err != nil {
		return 0, 0, err
	}
	if status != domain.TraceStatusCollecting {
		return 0, 0, domain.NewConflictError(fmt.Sprintf("trace status is %q, expected %q", status, domain.TraceStatusCollecting))
	}

	var seqHigh int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE trace_id = ?`, traceID).Scan(&seqHigh); err != nil {
		return 0, 0, err
	}

	// Strict increase in batch order. Any violation rejects the whole
	// batch; partial application would leave ambiguous holes.
	prev := seqHigh
	for i := range events {
		if events[i].Seq <= prev {
			verr := domain.NewValidationError(
				fmt.Sprintf("events.%d.seq", i),
				fmt.Sprintf("seq must be > %d, got %d", prev, events[i].Seq))
			verr.SeqHigh = seqHigh
			return 0, 0, verr
		}
		prev = events[i].Seq
	}

	// Duplicate event_id against prior appends.
	placeholders := make([]string, len(events))
	args := make([]interface{}, 0, len(events)+1)
	args = append(args, traceID)
	for i := range events {
		placeholders[i] = "?"
		args = append(args, events[i].EventID)
	}
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT event_id FROM events WHERE trace_id = ? AND event_id IN (%s)`,
			strings.Join(placeholders, ",")), args...)
	if err != nil {
		return 0, 0, err
	}
	var dup string
	for rows.Next() {
		if dup == "" {
			if err := rows.Scan(&dup); err != nil {
				rows.Close()
				return 0, 0, err
			}
		}
	}
	if err := rows.Close(); err != nil {
		return 0, 0, err
	}
	if dup != "" {
		cerr := domain.NewConflictError(fmt.Sprintf("duplicate event_id: %s", dup))
		cerr.SeqHigh = seqHigh
		return 0, 0, cerr
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (trace_id, event_id, seq, ts_ms, type, actor, context, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, err
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		actor, _ := json.Marshal(e.Actor)
		var evtCtx sql.NullString
		if e.Context != nil {
			b, _ := json.Marshal(e.Context)
			evtCtx = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, traceID, e.EventID, e.Seq, e.TsMs, e.Type,
			string(actor), evtCtx, string(e.Payload)); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return len(events), events[len(events)-1].Seq, nil
}

// GetEvents retrieves all events of a trace in seq order.
func (s *SQLiteStore) GetEvents(ctx context.Context, traceID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, seq, ts_ms, type, actor, context, payload
		 FROM events WHERE trace_id = ? ORDER BY seq ASC`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var actor, payload string
		var evtCtx sql.NullString
		if err := rows.Scan(&e.EventID, &e.Seq, &e.TsMs, &e.Type, &actor, &evtCtx, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(actor), &e.Actor); err != nil {
			return nil, fmt.Errorf("corrupt actor block: %w", err)
		}
		if evtCtx.Valid {
			e.Context = &domain.EventContext{}
			if err := json.Unmarshal([]byte(evtCtx.String), e.Context); err != nil {
				return nil, fmt.Errorf("corrupt context block: %w", err)
			}
		}
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetSeqHigh returns the trace's high-water seq, 0 when empty.
func (s *SQLiteStore) GetSeqHigh(ctx context.Context, traceID string) (int64, error) {
	var seqHigh int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE trace_id = ?`, traceID).Scan(&seqHigh)
	return seqHigh, err
}

// PutBlobMeta records blob metadata. The first writer wins: a repeat
// put for the same blob id leaves the stored row untouched and returns
// it, so the declared content type is immutable.
func (s *SQLiteStore) PutBlobMeta(ctx context.Context, meta *BlobMeta) (*BlobMeta, error) {
	var redaction sql.NullString
	if len(meta.Redaction) > 0 {
		b, _ := json.Marshal(meta.Redaction)
		redaction = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (blob_id, content_type, byte_length, storage_uri, redaction, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(blob_id) DO NOTHING`,
		meta.BlobID, meta.ContentType, meta.ByteLength, meta.StorageURI, redaction, meta.CreatedAtMs)
	if err != nil {
		return nil, err
	}
	stored, err := s.GetBlobMeta(ctx, meta.BlobID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("blob meta missing after insert: %s", meta.BlobID)
	}
	return stored, nil
}

// GetBlobMeta retrieves blob metadata by id.
func (s *SQLiteStore) GetBlobMeta(ctx context.Context, blobID string) (*BlobMeta, error) {
	var meta BlobMeta
	var redaction sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT blob_id, content_type, byte_length, storage_uri, redaction, created_at_ms
		 FROM blobs WHERE blob_id = ?`, blobID).
		Scan(&meta.BlobID, &meta.ContentType, &meta.ByteLength, &meta.StorageURI, &redaction, &meta.CreatedAtMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if redaction.Valid {
		if err := json.Unmarshal([]byte(redaction.String), &meta.Redaction); err != nil {
			return nil, fmt.Errorf("corrupt redaction block: %w", err)
		}
	}
	return &meta, nil
}

var _ Store = (*SQLiteStore)(nil)
