// Package voice manages per-language voice-clone profiles.
//
// A profile moves pending → ready (or failed) once its reference sample has
// been turned into an embedding by a [tts.Encoder]. Each target language has
// at most one active speaker. The active map is swapped atomically as a whole
// and never mutated in place, so synthesis reads it without locking.
package voice

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories for an unknown speaker.
var ErrNotFound = errors.New("voice: profile not found")

// Status is the lifecycle state of a profile.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
	StatusNotFound Status = "not_found"
)

// Profile is one speaker's voice.
type Profile struct {
	SpeakerID string

	// Lang is the language the speaker was last made active for. Empty
	// until [Manager.SetActiveSpeaker] names the speaker.
	Lang string

	// Embedding is the opaque blob understood by the cloning backend.
	Embedding []byte

	// Vector is the optional speaker vector used by similarity lookups.
	Vector []float32

	Status Status

	// SampleHash is the sha256 of the reference sample, used to make
	// repeated uploads of the same file a no-op.
	SampleHash string

	// PendingHash is the hash of a replacement sample still being encoded
	// for a ready profile. The current embedding stays in use until the
	// replacement succeeds. Not persisted.
	PendingHash string

	// Error holds the encoder failure for [StatusFailed], or the failure of
	// the last replacement sample of a ready profile.
	Error string

	UpdatedAt time.Time
}

// Ready reports whether the profile can be used for clone synthesis.
func (p Profile) Ready() bool { return p.Status == StatusReady && len(p.Embedding) > 0 }

// Match is a [Repository.Similar] result.
type Match struct {
	SpeakerID string

	// Distance is the cosine distance to the query speaker (0 = identical).
	Distance float64
}

// Repository persists profiles and the active-speaker table.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	SaveProfile(ctx context.Context, p Profile) error

	// Profile returns [ErrNotFound] for an unknown speaker.
	Profile(ctx context.Context, speakerID string) (Profile, error)

	Profiles(ctx context.Context) ([]Profile, error)

	// SaveActive records the active speaker for lang. An empty speakerID
	// clears the language.
	SaveActive(ctx context.Context, lang, speakerID string) error

	Active(ctx context.Context) (map[string]string, error)

	// Similar returns up to k other speakers ordered by vector distance.
	Similar(ctx context.Context, speakerID string, k int) ([]Match, error)

	Ping(ctx context.Context) error
}
