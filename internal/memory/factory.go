package memory

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when a database URL is
// configured, otherwise an in-memory store suitable for local/dev use.
func NewStore(ctx context.Context, databaseURL string, embeddingDim int) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL, embeddingDim)
}
