package history

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore persists history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn and optionally applies the embedded migrations.
func OpenPostgres(ctx context.Context, dsn string, migrate bool) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const appendSQL = `
INSERT INTO session_utterances (session_id, seq, sender, content, emotions, compatibility_impact, highlighted, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id, seq) DO NOTHING`

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, u chat.Utterance) error {
	if sessionID == "" {
		return ErrSessionNeeded
	}
	emotions := u.Emotions
	if emotions == nil {
		emotions = []string{}
	}
	_, err := s.pool.Exec(ctx, appendSQL,
		sessionID, u.Seq, u.Sender.String(), u.Content, emotions, u.CompatibilityImpact, u.Highlighted, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("append utterance %s/%d: %w", sessionID, u.Seq, err)
	}
	return nil
}

const finalizeSQL = `
INSERT INTO session_summaries (session_id, match_id, state, reason, created_at, ended_at, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id) DO NOTHING`

// Finalize implements Store.
func (s *PostgresStore) Finalize(ctx context.Context, summary chat.Summary) error {
	if summary.SessionID == "" {
		return ErrSessionNeeded
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.pool.Exec(ctx, finalizeSQL,
		summary.SessionID, summary.MatchID, string(summary.State), string(summary.Reason),
		summary.CreatedAt, summary.EndedAt, payload)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", summary.SessionID, err)
	}
	return nil
}

// ListSessions implements Store.
func (s *PostgresStore) ListSessions(ctx context.Context, matchID string) ([]chat.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM session_summaries WHERE match_id = $1 ORDER BY created_at, session_id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("list sessions of match %s: %w", matchID, err)
	}
	defer rows.Close()

	out := make([]chat.Summary, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var summary chat.Summary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// ListMessages implements Store.
func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string, page Page) ([]chat.Utterance, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, `
SELECT seq, sender, content, emotions, compatibility_impact, highlighted, created_at
FROM session_utterances WHERE session_id = $1 ORDER BY seq OFFSET $2 LIMIT $3`,
		sessionID, page.Offset, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := make([]chat.Utterance, 0, page.Limit)
	for rows.Next() {
		var (
			u      chat.Utterance
			sender string
		)
		if err := rows.Scan(&u.Seq, &sender, &u.Content, &u.Emotions, &u.CompatibilityImpact, &u.Highlighted, &u.CreatedAt); err != nil {
			return nil, err
		}
		if u.Sender, err = chat.ParseSender(sender); err != nil {
			return nil, err
		}
		u.SessionID = sessionID
		out = append(out, u)
	}
	return out, rows.Err()
}

// FindSummary implements Store.
func (s *PostgresStore) FindSummary(ctx context.Context, sessionID string) (chat.Summary, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM session_summaries WHERE session_id = $1`, sessionID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Summary{}, ErrNotFound
	}
	if err != nil {
		return chat.Summary{}, fmt.Errorf("find summary %s: %w", sessionID, err)
	}
	var summary chat.Summary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return chat.Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
