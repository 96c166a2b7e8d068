package wavfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
)

func writeWAV(t *testing.T, pcm []byte, f audio.Format) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, f), 0o600); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestSource_PlaysWholeFile(t *testing.T) {
	t.Parallel()

	// 50 ms of 16 kHz mono → 2 full 20 ms frames + one 10 ms tail.
	f := audio.Format{SampleRate: 16000, Channels: 1}
	path := writeWAV(t, make([]byte, f.Bytes(50*time.Millisecond)), f)

	ch, err := New(path, WithRealtime(false)).Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var durs []time.Duration
	var stamps []time.Duration
	for fr := range ch {
		durs = append(durs, fr.Duration())
		stamps = append(stamps, fr.Timestamp)
	}
	want := []time.Duration{20 * time.Millisecond, 20 * time.Millisecond, 10 * time.Millisecond}
	if len(durs) != len(want) {
		t.Fatalf("got %d frames, want %d", len(durs), len(want))
	}
	for i := range want {
		if durs[i] != want[i] {
			t.Errorf("frame %d duration = %v, want %v", i, durs[i], want[i])
		}
	}
	if stamps[2] != 40*time.Millisecond {
		t.Errorf("frame 2 timestamp = %v, want 40ms", stamps[2])
	}
}

func TestSource_ConvertsToTarget(t *testing.T) {
	t.Parallel()
	src := audio.Format{SampleRate: 48000, Channels: 2}
	path := writeWAV(t, make([]byte, src.Bytes(20*time.Millisecond)), src)

	target := audio.Format{SampleRate: 16000, Channels: 1}
	ch, err := New(path, WithRealtime(false), WithTarget(target)).Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	fr := <-ch
	if fr.Format() != target {
		t.Errorf("format = %s, want %s", fr.Format(), target)
	}
	if len(fr.Data) != target.Bytes(20*time.Millisecond) {
		t.Errorf("len(Data) = %d, want %d", len(fr.Data), target.Bytes(20*time.Millisecond))
	}
}

func TestSource_Loop(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 8000, Channels: 1}
	path := writeWAV(t, make([]byte, f.Bytes(20*time.Millisecond)), f)

	src := New(path, WithRealtime(false), WithLoop(true))
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := range 5 {
		if _, ok := <-ch; !ok {
			t.Fatalf("stream ended after %d frames in loop mode", i)
		}
	}
	_ = src.Close()
}

func TestSource_Errors(t *testing.T) {
	t.Parallel()
	if _, err := New(filepath.Join(t.TempDir(), "missing.wav")).Start(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.wav")
	_ = os.WriteFile(bad, []byte("not a wav"), 0o600)
	if _, err := New(bad).Start(context.Background()); err == nil {
		t.Error("expected error for invalid WAV")
	}
}
