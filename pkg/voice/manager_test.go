package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/pkg/provider/tts"
	ttsmock "github.com/MrWong99/babelcast/pkg/provider/tts/mock"
)

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.wav")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func waitStatus(t *testing.T, m *Manager, speaker string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status(speaker) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status of %q = %q, want %q", speaker, m.Status(speaker), want)
}

func TestManager_ProcessSampleBecomesReady(t *testing.T) {
	t.Parallel()

	enc := &ttsmock.Provider{EncodeResult: tts.Embedding{Data: []byte("latents"), Vector: []float32{1, 0}}}
	repo := NewMemoryRepository()
	m := NewManager(repo, enc)
	t.Cleanup(func() { _ = m.Close() })

	if got := m.Status("alice"); got != StatusNotFound {
		t.Errorf("unknown speaker status = %q, want not_found", got)
	}
	if !m.ProcessSample(writeSample(t, "RIFF-alice"), "alice") {
		t.Fatal("ProcessSample returned false")
	}
	waitStatus(t, m, "alice", StatusReady)

	emb, ok := m.Embedding("alice")
	if !ok || string(emb) != "latents" {
		t.Errorf("Embedding = %q, %v", emb, ok)
	}
	stored, err := repo.Profile(context.Background(), "alice")
	if err != nil || stored.Status != StatusReady {
		t.Errorf("persisted profile = %+v, %v", stored, err)
	}
}

func TestManager_ProcessSampleIsIdempotent(t *testing.T) {
	t.Parallel()

	enc := &ttsmock.Provider{EncodeResult: tts.Embedding{Data: []byte("x")}}
	m := NewManager(NewMemoryRepository(), enc)
	t.Cleanup(func() { _ = m.Close() })

	path := writeSample(t, "same bytes")
	m.ProcessSample(path, "bob")
	waitStatus(t, m, "bob", StatusReady)
	if !m.ProcessSample(path, "bob") {
		t.Fatal("second ProcessSample returned false")
	}
	_ = m.Close()
	if n := enc.EncodeCount(); n != 1 {
		t.Errorf("encoder called %d times, want 1", n)
	}
}

func TestManager_ProcessSampleRejects(t *testing.T) {
	t.Parallel()
	m := NewManager(NewMemoryRepository(), &ttsmock.Provider{})
	t.Cleanup(func() { _ = m.Close() })

	if m.ProcessSample(writeSample(t, "x"), "") {
		t.Error("empty speaker accepted")
	}
	if m.ProcessSample(filepath.Join(t.TempDir(), "missing.wav"), "carol") {
		t.Error("missing file accepted")
	}
	if got := m.Status("carol"); got != StatusNotFound {
		t.Errorf("status = %q, want not_found", got)
	}
}

func TestManager_EncoderFailure(t *testing.T) {
	t.Parallel()

	m := NewManager(NewMemoryRepository(), &ttsmock.Provider{EncodeErr: errors.New("gpu on fire")})
	t.Cleanup(func() { _ = m.Close() })

	m.ProcessSample(writeSample(t, "x"), "dave")
	waitStatus(t, m, "dave", StatusFailed)
	if _, ok := m.Embedding("dave"); ok {
		t.Error("failed profile exposes an embedding")
	}
	p, _ := m.Profile("dave")
	if p.Error == "" {
		t.Error("failure reason not recorded")
	}

	noEnc := NewManager(NewMemoryRepository(), nil)
	t.Cleanup(func() { _ = noEnc.Close() })
	noEnc.ProcessSample(writeSample(t, "y"), "erin")
	waitStatus(t, noEnc, "erin", StatusFailed)
}

// gatedEncoder returns result or err once release is closed.
type gatedEncoder struct {
	release chan struct{}
	result  tts.Embedding
	err     error
}

func (g *gatedEncoder) Encode(ctx context.Context, _ []byte) (tts.Embedding, error) {
	select {
	case <-g.release:
		return g.result, g.err
	case <-ctx.Done():
		return tts.Embedding{}, ctx.Err()
	}
}

func TestManager_ReplacementSampleKeepsReadyEmbedding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		encodeErr error
		wantEmb   string
		wantError bool
	}{
		{name: "replacement succeeds", wantEmb: "new-latents"},
		{name: "replacement fails", encodeErr: errors.New("bad sample"), wantEmb: "old-latents", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			first := make(chan struct{})
			close(first)
			enc := &gatedEncoder{release: first, result: tts.Embedding{Data: []byte("old-latents")}}
			m := NewManager(NewMemoryRepository(), enc)
			t.Cleanup(func() { _ = m.Close() })

			m.ProcessSample(writeSample(t, "first take"), "alice")
			waitStatus(t, m, "alice", StatusReady)

			// The first encoding has finished; the next one reads these.
			release := make(chan struct{})
			enc.release = release
			enc.result = tts.Embedding{Data: []byte("new-latents")}
			enc.err = tt.encodeErr

			if !m.ProcessSample(writeSample(t, "second take"), "alice") {
				t.Fatal("replacement sample rejected")
			}
			if got := m.Status("alice"); got != StatusReady {
				t.Errorf("status while re-encoding = %q, want ready", got)
			}
			if emb, ok := m.Embedding("alice"); !ok || string(emb) != "old-latents" {
				t.Errorf("embedding while re-encoding = %q, %v; want the previous one", emb, ok)
			}

			close(release)
			deadline := time.Now().Add(2 * time.Second)
			for {
				p, _ := m.Profile("alice")
				if p.PendingHash == "" {
					break
				}
				if time.Now().After(deadline) {
					t.Fatal("replacement never finished")
				}
				time.Sleep(5 * time.Millisecond)
			}

			p, _ := m.Profile("alice")
			if p.Status != StatusReady || string(p.Embedding) != tt.wantEmb {
				t.Errorf("profile = %q/%q, want ready/%q", p.Status, p.Embedding, tt.wantEmb)
			}
			if (p.Error != "") != tt.wantError {
				t.Errorf("error = %q, want error recorded: %v", p.Error, tt.wantError)
			}
		})
	}
}

func TestManager_SetActiveSpeakerBeforeUpload(t *testing.T) {
	t.Parallel()
	m := NewManager(NewMemoryRepository(), &ttsmock.Provider{})
	t.Cleanup(func() { _ = m.Close() })

	// Config may name a speaker whose sample is uploaded later.
	if err := m.SetActiveSpeaker(context.Background(), "en", "frank"); err != nil {
		t.Fatalf("SetActiveSpeaker: %v", err)
	}
	if id, ok := m.ActiveSpeaker("en"); !ok || id != "frank" {
		t.Errorf("active en = %q, %v", id, ok)
	}
	if got := m.Status("frank"); got != StatusNotFound {
		t.Errorf("status = %q, want not_found until a sample is processed", got)
	}
}

func TestManager_SetActiveSpeaker(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	m := NewManager(repo, &ttsmock.Provider{EncodeResult: tts.Embedding{Data: []byte("e")}})
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	if _, ok := m.ActiveProfile("ko"); ok {
		t.Error("ActiveProfile before any assignment")
	}
	if err := m.SetActiveSpeaker(ctx, "ko", "ghost"); err != nil {
		t.Fatalf("SetActiveSpeaker: %v", err)
	}
	if p, ok := m.ActiveProfile("ko"); !ok || p.Status != StatusNotFound {
		t.Errorf("ActiveProfile(ko) = %+v, %v; want not_found", p, ok)
	}

	before := m.ActiveSpeakers()
	m.ProcessSample(writeSample(t, "z"), "frank")
	waitStatus(t, m, "frank", StatusReady)
	if err := m.SetActiveSpeaker(ctx, "ko", "frank"); err != nil {
		t.Fatalf("SetActiveSpeaker: %v", err)
	}
	if before["ko"] != "ghost" {
		t.Error("earlier snapshot was mutated in place")
	}
	p, ok := m.ActiveProfile("ko")
	if !ok || !p.Ready() || p.Lang != "ko" {
		t.Errorf("ActiveProfile(ko) = %+v, %v", p, ok)
	}
	persisted, _ := repo.Active(ctx)
	if persisted["ko"] != "frank" {
		t.Errorf("persisted active = %v", persisted)
	}

	if err := m.SetActiveSpeaker(ctx, "ko", ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := m.ActiveSpeaker("ko"); ok {
		t.Error("language not cleared")
	}
	if err := m.SetActiveSpeaker(ctx, "", "frank"); err == nil {
		t.Error("empty language accepted")
	}
}

func TestManager_ConcurrentReadersDuringSwap(t *testing.T) {
	t.Parallel()

	m := NewManager(NewMemoryRepository(), nil)
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Go(func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				if id, ok := m.ActiveSpeaker("en"); ok && id != "a" && id != "b" {
					t.Errorf("torn read: %q", id)
					return
				}
			}
		})
	}
	for i := range 200 {
		id := "a"
		if i%2 == 1 {
			id = "b"
		}
		if err := m.SetActiveSpeaker(ctx, "en", id); err != nil {
			t.Fatalf("SetActiveSpeaker: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestManager_LoadMarksPendingFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.SaveProfile(ctx, Profile{SpeakerID: "gina", Status: StatusPending})
	_ = repo.SaveProfile(ctx, Profile{SpeakerID: "hank", Status: StatusReady, Embedding: []byte("e")})
	_ = repo.SaveActive(ctx, "th", "hank")

	m := NewManager(repo, nil)
	t.Cleanup(func() { _ = m.Close() })
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Status("gina"); got != StatusFailed {
		t.Errorf("gina = %q, want failed", got)
	}
	if p, ok := m.ActiveProfile("th"); !ok || !p.Ready() {
		t.Errorf("ActiveProfile(th) = %+v, %v", p, ok)
	}
}

func TestMemoryRepository_Similar(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.SaveProfile(ctx, Profile{SpeakerID: "q", Vector: []float32{1, 0}})
	_ = repo.SaveProfile(ctx, Profile{SpeakerID: "near", Vector: []float32{0.9, 0.1}})
	_ = repo.SaveProfile(ctx, Profile{SpeakerID: "far", Vector: []float32{0, 1}})
	_ = repo.SaveProfile(ctx, Profile{SpeakerID: "novec"})

	got, err := repo.Similar(ctx, "q", 5)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(got) != 2 || got[0].SpeakerID != "near" || got[1].SpeakerID != "far" {
		t.Errorf("Similar = %+v, want near then far", got)
	}
	if _, err := repo.Similar(ctx, "nobody", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown speaker err = %v, want ErrNotFound", err)
	}
}
