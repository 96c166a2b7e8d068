package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ddl(vectorDims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS voice_profiles (
    speaker_id   TEXT         PRIMARY KEY,
    lang         TEXT         NOT NULL DEFAULT '',
    status       TEXT         NOT NULL,
    embedding    BYTEA,
    vector       vector(%d),
    sample_hash  TEXT         NOT NULL DEFAULT '',
    error        TEXT         NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voice_profiles_vector
    ON voice_profiles USING hnsw (vector vector_cosine_ops);

CREATE TABLE IF NOT EXISTS active_speakers (
    lang        TEXT         PRIMARY KEY,
    speaker_id  TEXT         NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`, vectorDims)
}

// Migrate creates the tables and the pgvector extension. It is idempotent
// and runs on every start. Changing vectorDims after the first migration
// needs a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, vectorDims int) error {
	if _, err := pool.Exec(ctx, ddl(vectorDims)); err != nil {
		return fmt.Errorf("voice postgres migrate: %w", err)
	}
	return nil
}
