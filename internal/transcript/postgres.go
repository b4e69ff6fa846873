package transcript

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_transcripts (
			id TEXT PRIMARY KEY,
			call_sid TEXT NOT NULL,
			session_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_created ON call_transcripts (call_sid, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	entry = normalize(entry)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_transcripts (id, call_sid, session_id, speaker, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID,
		entry.CallSID,
		entry.SessionID,
		string(entry.Speaker),
		entry.Text,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) EntriesByCall(ctx context.Context, callSID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_sid, session_id, speaker, content, created_at
		 FROM call_transcripts WHERE call_sid=$1 ORDER BY created_at ASC`,
		callSID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	return scanEntries(rows)
}

func (s *PostgresStore) Recent(ctx context.Context, callSID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return s.EntriesByCall(ctx, callSID)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, call_sid, session_id, speaker, content, created_at
		 FROM call_transcripts WHERE call_sid=$1 ORDER BY created_at DESC LIMIT $2`,
		callSID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent transcript: %w", err)
	}
	items, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var items []Entry
	for rows.Next() {
		var e Entry
		var speaker string
		if err := rows.Scan(&e.ID, &e.CallSID, &e.SessionID, &speaker, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		e.Speaker = Speaker(speaker)
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
