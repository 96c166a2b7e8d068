package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
)

func TestSource_BurstsAndSilence(t *testing.T) {
	t.Parallel()

	// 100 ms frames, 1 s bursts, 1 s gaps.
	src := New(
		WithSampleRate(16000),
		WithFrameSize(1600),
		WithBurst(time.Second, time.Second),
		WithInterval(time.Second),
		WithSeed(42),
		WithRealtime(false),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := src.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var rms []float64
	var lastTS time.Duration = -1
	for f := range ch {
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Fatalf("format = %s, want 16000Hz mono", f.Format())
		}
		if f.Timestamp <= lastTS {
			t.Fatalf("timestamp %v not after %v", f.Timestamp, lastTS)
		}
		lastTS = f.Timestamp
		rms = append(rms, audio.RMS(f.Data))
		if len(rms) == 40 {
			break
		}
	}
	_ = src.Close()

	for i, v := range rms {
		voiced := (i/10)%2 == 0
		switch {
		case voiced && (v < 0.05 || v > 0.2):
			t.Errorf("frame %d: RMS %.3f, want noise around 0.1", i, v)
		case !voiced && v != 0:
			t.Errorf("frame %d: RMS %.3f, want silence", i, v)
		}
	}
}

func TestSource_Close(t *testing.T) {
	t.Parallel()
	src := New(WithRealtime(false))
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ch
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = src.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after Close")
		}
	}
}

func TestSource_RealtimePacing(t *testing.T) {
	t.Parallel()
	src := New(WithFrameSize(160)) // 10 ms frames
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, _ := src.Start(ctx)
	start := time.Now()
	for range 6 {
		<-ch
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("6 frames arrived after %v, want paced delivery", elapsed)
	}
	cancel()
}
