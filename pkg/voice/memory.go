package voice

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"sync"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is a process-local [Repository]. Nothing survives a
// restart.
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	active   map[string]string
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles: make(map[string]Profile),
		active:   make(map[string]string),
	}
}

func (r *MemoryRepository) SaveProfile(_ context.Context, p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.SpeakerID] = p
	return nil
}

func (r *MemoryRepository) Profile(_ context.Context, speakerID string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[speakerID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) Profiles(_ context.Context) ([]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Profile) int { return strings.Compare(a.SpeakerID, b.SpeakerID) })
	return out, nil
}

func (r *MemoryRepository) SaveActive(_ context.Context, lang, speakerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if speakerID == "" {
		delete(r.active, lang)
		return nil
	}
	r.active[lang] = speakerID
	return nil
}

func (r *MemoryRepository) Active(_ context.Context) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.active))
	for k, v := range r.active {
		out[k] = v
	}
	return out, nil
}

// Similar ranks speakers by cosine distance in memory.
func (r *MemoryRepository) Similar(_ context.Context, speakerID string, k int) ([]Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.profiles[speakerID]
	if !ok {
		return nil, ErrNotFound
	}
	if len(q.Vector) == 0 || k <= 0 {
		return nil, nil
	}
	var out []Match
	for id, p := range r.profiles {
		if id == speakerID || len(p.Vector) != len(q.Vector) {
			continue
		}
		out = append(out, Match{SpeakerID: id, Distance: cosineDistance(q.Vector, p.Vector)})
	}
	slices.SortFunc(out, func(a, b Match) int { return cmp.Compare(a.Distance, b.Distance) })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
