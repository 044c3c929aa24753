package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore persists conversations and app memory in PostgreSQL, using
// pgvector for nearest-neighbor recall over AppMemory embeddings.
type PostgresStore struct {
	pool          *pgxpool.Pool
	embeddingDim  int
}

func NewPostgresStore(ctx context.Context, databaseURL string, embeddingDim int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	// Register pgvector types on every connection so embedding columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if embeddingDim <= 0 {
		embeddingDim = 1536
	}

	if err := initSchema(ctx, pool, embeddingDim); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, embeddingDim: embeddingDim}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool, embeddingDim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			title_id TEXT PRIMARY KEY,
			title_name TEXT NOT NULL,
			committed_source TEXT NOT NULL DEFAULT '',
			committed_target TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS app_memory (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_app_memory_user_created ON app_memory (user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveConversation(ctx context.Context, c Conversation) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (title_id, title_name, committed_source, committed_target, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (title_id) DO UPDATE SET
			title_name = EXCLUDED.title_name,
			committed_source = EXCLUDED.committed_source,
			committed_target = EXCLUDED.committed_target,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL`,
		c.TitleID, c.TitleName, c.CommittedSource, c.CommittedTarget, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, titleID string) (Conversation, error) {
	var c Conversation
	var deletedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT title_id, title_name, committed_source, committed_target, updated_at, deleted_at
		 FROM conversations WHERE title_id=$1`,
		titleID,
	).Scan(&c.TitleID, &c.TitleName, &c.CommittedSource, &c.CommittedTarget, &c.UpdatedAt, &deletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Conversation{}, fmt.Errorf("conversation %s: %w", titleID, ErrNotFound)
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	c.DeletedAt = deletedAt
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT title_id, title_name, committed_source, committed_target, updated_at, deleted_at
		 FROM conversations WHERE deleted_at IS NULL ORDER BY updated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var deletedAt *time.Time
		if err := rows.Scan(&c.TitleID, &c.TitleName, &c.CommittedSource, &c.CommittedTarget, &c.UpdatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		c.DeletedAt = deletedAt
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SoftDeleteConversation(ctx context.Context, titleID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET deleted_at = now() WHERE title_id = $1`, titleID,
	)
	if err != nil {
		return fmt.Errorf("soft delete conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAppMemory(ctx context.Context, m AppMemory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO app_memory (id, user_id, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.UserID, m.Content, pgvector.NewVector(m.Embedding), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save app memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchAppMemory(ctx context.Context, userID string, query []float32, limit int) ([]AppMemory, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, content, created_at FROM app_memory
		 WHERE user_id = $1 ORDER BY embedding <-> $2 LIMIT $3`,
		userID, pgvector.NewVector(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search app memory: %w", err)
	}
	defer rows.Close()

	var out []AppMemory
	for rows.Next() {
		var m AppMemory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan app memory row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
