// Package postgres provides a PostgreSQL-backed voice.Repository. Speaker
// vectors live in a pgvector column so Similar runs in the database.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/babelcast/pkg/voice"
)

// DefaultVectorDimensions matches the XTTS v2 speaker embedding.
const DefaultVectorDimensions = 512

var _ voice.Repository = (*Store)(nil)

// Store implements [voice.Repository]. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// NewStore connects to dsn, registers pgvector types on every connection and
// runs [Migrate]. vectorDims fixes the speaker vector column size; vectors
// of another length are stored without a vector.
func NewStore(ctx context.Context, dsn string, vectorDims int) (*Store, error) {
	if vectorDims <= 0 {
		vectorDims = DefaultVectorDimensions
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("voice postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("voice postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("voice postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, vectorDims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("voice postgres: migrate: %w", err)
	}
	return &Store{pool: pool, dims: vectorDims}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// SaveProfile upserts p.
func (s *Store) SaveProfile(ctx context.Context, p voice.Profile) error {
	var vec *pgvector.Vector
	if len(p.Vector) == s.dims {
		v := pgvector.NewVector(p.Vector)
		vec = &v
	}
	const q = `
INSERT INTO voice_profiles (speaker_id, lang, status, embedding, vector, sample_hash, error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (speaker_id) DO UPDATE SET
    lang        = EXCLUDED.lang,
    status      = EXCLUDED.status,
    embedding   = EXCLUDED.embedding,
    vector      = EXCLUDED.vector,
    sample_hash = EXCLUDED.sample_hash,
    error       = EXCLUDED.error,
    updated_at  = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, q,
		p.SpeakerID, p.Lang, string(p.Status), p.Embedding, vec, p.SampleHash, p.Error, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("voice postgres: save profile %q: %w", p.SpeakerID, err)
	}
	return nil
}

const selectProfile = `
SELECT speaker_id, lang, status, embedding, vector, sample_hash, error, updated_at
FROM voice_profiles`

func scanProfile(row pgx.Row) (voice.Profile, error) {
	var (
		p      voice.Profile
		status string
		vec    *pgvector.Vector
	)
	if err := row.Scan(&p.SpeakerID, &p.Lang, &status, &p.Embedding, &vec, &p.SampleHash, &p.Error, &p.UpdatedAt); err != nil {
		return voice.Profile{}, err
	}
	p.Status = voice.Status(status)
	if vec != nil {
		p.Vector = vec.Slice()
	}
	return p, nil
}

// Profile returns [voice.ErrNotFound] for an unknown speaker.
func (s *Store) Profile(ctx context.Context, speakerID string) (voice.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, selectProfile+` WHERE speaker_id = $1`, speakerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return voice.Profile{}, voice.ErrNotFound
	}
	if err != nil {
		return voice.Profile{}, fmt.Errorf("voice postgres: get profile %q: %w", speakerID, err)
	}
	return p, nil
}

// Profiles returns every profile ordered by speaker.
func (s *Store) Profiles(ctx context.Context) ([]voice.Profile, error) {
	rows, err := s.pool.Query(ctx, selectProfile+` ORDER BY speaker_id`)
	if err != nil {
		return nil, fmt.Errorf("voice postgres: list profiles: %w", err)
	}
	defer rows.Close()

	var out []voice.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("voice postgres: scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voice postgres: list profiles: %w", err)
	}
	return out, nil
}

// SaveActive records or clears the active speaker for lang.
func (s *Store) SaveActive(ctx context.Context, lang, speakerID string) error {
	var err error
	if speakerID == "" {
		_, err = s.pool.Exec(ctx, `DELETE FROM active_speakers WHERE lang = $1`, lang)
	} else {
		_, err = s.pool.Exec(ctx, `
INSERT INTO active_speakers (lang, speaker_id, updated_at) VALUES ($1, $2, now())
ON CONFLICT (lang) DO UPDATE SET speaker_id = EXCLUDED.speaker_id, updated_at = now()`, lang, speakerID)
	}
	if err != nil {
		return fmt.Errorf("voice postgres: save active %q: %w", lang, err)
	}
	return nil
}

// Active returns the language → speaker table.
func (s *Store) Active(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT lang, speaker_id FROM active_speakers`)
	if err != nil {
		return nil, fmt.Errorf("voice postgres: list active: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var lang, id string
		if err := rows.Scan(&lang, &id); err != nil {
			return nil, fmt.Errorf("voice postgres: scan active: %w", err)
		}
		out[lang] = id
	}
	return out, rows.Err()
}

// Similar ranks other speakers by cosine distance to speakerID's vector.
func (s *Store) Similar(ctx context.Context, speakerID string, k int) ([]voice.Match, error) {
	q, err := s.Profile(ctx, speakerID)
	if err != nil {
		return nil, err
	}
	if len(q.Vector) != s.dims || k <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT speaker_id, vector <=> $1 AS distance
FROM voice_profiles
WHERE speaker_id <> $2 AND vector IS NOT NULL
ORDER BY vector <=> $1
LIMIT $3`, pgvector.NewVector(q.Vector), speakerID, k)
	if err != nil {
		return nil, fmt.Errorf("voice postgres: similar: %w", err)
	}
	defer rows.Close()

	var out []voice.Match
	for rows.Next() {
		var m voice.Match
		if err := rows.Scan(&m.SpeakerID, &m.Distance); err != nil {
			return nil, fmt.Errorf("voice postgres: scan similar: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
