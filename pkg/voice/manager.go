package voice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

const defaultEncodeTimeout = 2 * time.Minute

// Option is a functional option for [NewManager].
type Option func(*Manager)

// WithEncodeTimeout bounds a single background encoding. Defaults to 2 min.
func WithEncodeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.encodeTimeout = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the voice profile store consulted by synthesis.
type Manager struct {
	repo          Repository
	encoder       tts.Encoder
	encodeTimeout time.Duration
	now           func() time.Time

	// active is replaced wholesale under writeMu; readers just Load.
	active  atomic.Pointer[map[string]string]
	writeMu sync.Mutex

	mu       sync.RWMutex
	profiles map[string]Profile
	inflight map[string]string // speaker → sample hash being encoded

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. encoder may be nil, in which case every
// sample ends up failed and synthesis always uses the generic voice.
func NewManager(repo Repository, encoder tts.Encoder, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		repo:          repo,
		encoder:       encoder,
		encodeTimeout: defaultEncodeTimeout,
		now:           time.Now,
		profiles:      make(map[string]Profile),
		inflight:      make(map[string]string),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, o := range opts {
		o(m)
	}
	empty := map[string]string{}
	m.active.Store(&empty)
	return m
}

// Load reads persisted profiles and active speakers. Profiles that were
// pending when the process stopped are marked failed; their encoding is lost.
func (m *Manager) Load(ctx context.Context) error {
	profiles, err := m.repo.Profiles(ctx)
	if err != nil {
		return fmt.Errorf("voice: load profiles: %w", err)
	}
	active, err := m.repo.Active(ctx)
	if err != nil {
		return fmt.Errorf("voice: load active speakers: %w", err)
	}

	m.mu.Lock()
	for _, p := range profiles {
		if p.Status == StatusPending {
			p.Status = StatusFailed
			p.Error = "interrupted by restart"
		}
		m.profiles[p.SpeakerID] = p
	}
	m.mu.Unlock()

	m.writeMu.Lock()
	m.active.Store(&active)
	m.writeMu.Unlock()

	slog.Info("voice: profiles loaded", "profiles", len(profiles), "active", len(active))
	return nil
}

// ProcessSample reads the sample at samplePath and encodes it in the
// background. It returns false only if the request could not be queued. A
// sample identical to the one already ready or being encoded for speakerID is
// a no-op that returns true.
func (m *Manager) ProcessSample(samplePath, speakerID string) bool {
	if speakerID == "" {
		slog.Warn("voice: sample without speaker id", "path", samplePath)
		return false
	}
	wav, err := os.ReadFile(samplePath)
	if err != nil {
		slog.Warn("voice: cannot read sample", "path", samplePath, "speaker", speakerID, "err", err)
		return false
	}
	if len(wav) == 0 {
		slog.Warn("voice: empty sample", "path", samplePath, "speaker", speakerID)
		return false
	}
	if m.ctx.Err() != nil {
		return false
	}
	sum := sha256.Sum256(wav)
	hash := hex.EncodeToString(sum[:])

	m.mu.Lock()
	if m.inflight[speakerID] == hash {
		m.mu.Unlock()
		return true
	}
	prev, known := m.profiles[speakerID]
	if known && prev.Status == StatusReady && prev.SampleHash == hash {
		// Re-uploading the sample in use abandons a pending replacement.
		if prev.PendingHash != "" {
			delete(m.inflight, speakerID)
			prev.PendingHash = ""
			m.profiles[speakerID] = prev
		}
		m.mu.Unlock()
		return true
	}
	p := prev
	p.SpeakerID = speakerID
	p.UpdatedAt = m.now()
	if p.Ready() {
		p.PendingHash = hash
	} else {
		p.Status = StatusPending
		p.SampleHash = hash
		p.Error = ""
	}
	m.profiles[speakerID] = p
	m.inflight[speakerID] = hash
	m.mu.Unlock()

	m.persist(m.ctx, p)

	m.wg.Go(func() { m.encode(speakerID, hash, wav) })
	return true
}

func (m *Manager) encode(speakerID, hash string, wav []byte) {
	ctx, cancel := context.WithTimeout(m.ctx, m.encodeTimeout)
	defer cancel()

	start := m.now()
	var (
		emb tts.Embedding
		err error
	)
	if m.encoder == nil {
		err = errors.New("no voice encoder configured")
	} else {
		emb, err = m.encoder.Encode(ctx, wav)
	}
	if err == nil && len(emb.Data) == 0 {
		err = errors.New("encoder returned an empty embedding")
	}

	m.mu.Lock()
	if m.inflight[speakerID] != hash {
		// A newer sample superseded this one.
		m.mu.Unlock()
		return
	}
	delete(m.inflight, speakerID)
	p := m.profiles[speakerID]
	p.UpdatedAt = m.now()
	replacing := p.PendingHash == hash
	p.PendingHash = ""
	switch {
	case err != nil && replacing:
		// The previous embedding keeps serving.
		p.Error = err.Error()
	case err != nil:
		p.Status = StatusFailed
		p.Error = err.Error()
	default:
		p.Status = StatusReady
		p.SampleHash = hash
		p.Embedding = emb.Data
		p.Vector = emb.Vector
		p.Error = ""
	}
	m.profiles[speakerID] = p
	m.mu.Unlock()

	if err != nil {
		slog.Warn("voice: encoding failed", "speaker", speakerID, "replacement", replacing, "err", err)
	} else {
		slog.Info("voice: profile ready", "speaker", speakerID, "took", m.now().Sub(start))
	}
	// Persist with a fresh context so a shutdown does not lose the result.
	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pcancel()
	m.persist(pctx, p)
}

func (m *Manager) persist(ctx context.Context, p Profile) {
	if err := m.repo.SaveProfile(ctx, p); err != nil {
		slog.Error("voice: save profile", "speaker", p.SpeakerID, "err", err)
	}
}

// Embedding returns the embedding of a ready profile.
func (m *Manager) Embedding(speakerID string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[speakerID]
	if !ok || !p.Ready() {
		return nil, false
	}
	return p.Embedding, true
}

// Status returns the lifecycle state of speakerID.
func (m *Manager) Status(speakerID string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[speakerID]
	if !ok {
		return StatusNotFound
	}
	return p.Status
}

// Profile returns a copy of the profile for speakerID.
func (m *Manager) Profile(speakerID string) (Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[speakerID]
	return p, ok
}

// Profiles returns all known profiles without their embeddings.
func (m *Manager) Profiles() []Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		p.Embedding, p.Vector = nil, nil
		out = append(out, p)
	}
	return out
}

// SetActiveSpeaker makes speakerID the active speaker for lang. An empty
// speakerID clears the language. The map is copied, modified and swapped in
// one store; concurrent readers see either the old or the new map.
func (m *Manager) SetActiveSpeaker(ctx context.Context, lang, speakerID string) error {
	if lang == "" {
		return errors.New("voice: language must not be empty")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.repo.SaveActive(ctx, lang, speakerID); err != nil {
		return fmt.Errorf("voice: save active speaker: %w", err)
	}
	next := maps.Clone(*m.active.Load())
	if next == nil {
		next = map[string]string{}
	}
	if speakerID == "" {
		delete(next, lang)
	} else {
		next[lang] = speakerID
	}
	m.active.Store(&next)

	if speakerID != "" {
		m.mu.Lock()
		if p, ok := m.profiles[speakerID]; ok {
			p.Lang = lang
			m.profiles[speakerID] = p
			m.mu.Unlock()
			m.persist(ctx, p)
		} else {
			m.mu.Unlock()
		}
	}
	slog.Info("voice: active speaker set", "lang", lang, "speaker", speakerID)
	return nil
}

// ActiveSpeaker returns the active speaker for lang.
func (m *Manager) ActiveSpeaker(lang string) (string, bool) {
	id, ok := (*m.active.Load())[lang]
	return id, ok
}

// ActiveSpeakers returns a snapshot of the whole active map.
func (m *Manager) ActiveSpeakers() map[string]string {
	return maps.Clone(*m.active.Load())
}

// ActiveProfile returns the profile of the active speaker for lang. The
// returned profile may be pending or failed; callers check [Profile.Ready].
// A speaker without any profile yields StatusNotFound.
func (m *Manager) ActiveProfile(lang string) (Profile, bool) {
	id, ok := m.ActiveSpeaker(lang)
	if !ok {
		return Profile{}, false
	}
	p, ok := m.Profile(id)
	if !ok {
		return Profile{SpeakerID: id, Lang: lang, Status: StatusNotFound}, true
	}
	return p, true
}

// Similar returns up to k speakers whose vectors are closest to speakerID.
func (m *Manager) Similar(ctx context.Context, speakerID string, k int) ([]Match, error) {
	return m.repo.Similar(ctx, speakerID, k)
}

// Ping checks the repository.
func (m *Manager) Ping(ctx context.Context) error { return m.repo.Ping(ctx) }

// Close cancels running encodings and waits for them to finish.
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}
