package discord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// Opus silence frame.
var silenceOpus = []byte{0xF8, 0xFF, 0xFE}

func newTestSource(t *testing.T, opts ...Option) (*Source, *discordgo.VoiceConnection) {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 16),
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	s := NewSource(nil, "guild-test", "chan-test", opts...)
	s.join = func() (*discordgo.VoiceConnection, error) { return vc, nil }
	t.Cleanup(func() { _ = s.Close() })
	return s, vc
}

func TestSource_DecodesAndConverts(t *testing.T) {
	t.Parallel()

	s, vc := newTestSource(t)
	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}

	select {
	case f := <-ch:
		if f.SampleRate != 16000 || f.Channels != 1 {
			t.Errorf("format = %s, want 16000Hz mono", f.Format())
		}
		// 20 ms at 16 kHz mono.
		if len(f.Data) != 640 {
			t.Errorf("len(Data) = %d, want 640", len(f.Data))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestSource_FollowsFirstSpeaker(t *testing.T) {
	t.Parallel()

	s, vc := newTestSource(t)
	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}
	vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}

	got := 0
	timeout := time.After(300 * time.Millisecond)
	for got < 3 {
		select {
		case <-ch:
			got++
		case <-timeout:
			if got != 2 {
				t.Fatalf("got %d frames, want 2 (second speaker ignored)", got)
			}
			return
		}
	}
	t.Fatal("frames from a second concurrent speaker were not filtered")
}

func TestSource_UserFilter(t *testing.T) {
	t.Parallel()

	s, vc := newTestSource(t, WithUserID("alice"))
	s.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 7})
	s.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "bob", SSRC: 8})

	ch, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	vc.OpusRecv <- &discordgo.Packet{SSRC: 8, Opus: silenceOpus}
	vc.OpusRecv <- &discordgo.Packet{SSRC: 7, Opus: silenceOpus}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alice's frame")
	}
	select {
	case <-ch:
		t.Fatal("received a frame from a filtered user")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSource_JoinError(t *testing.T) {
	t.Parallel()
	s := NewSource(nil, "g", "c")
	s.join = func() (*discordgo.VoiceConnection, error) { return nil, errors.New("no permission") }
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected join error")
	}
}

func TestOpusEncoder_FramesAndFlush(t *testing.T) {
	t.Parallel()

	enc, err := NewOpusEncoder()
	if err != nil {
		t.Fatalf("NewOpusEncoder: %v", err)
	}
	// 50 ms of 16 kHz mono → two full 20 ms packets, 10 ms buffered.
	src := audio.Format{SampleRate: 16000, Channels: 1}
	pkts, err := enc.EncodePCM(make([]byte, src.Bytes(50*time.Millisecond)), src)
	if err != nil {
		t.Fatalf("EncodePCM: %v", err)
	}
	if len(pkts) != 2 {
		t.Fatalf("packets = %d, want 2", len(pkts))
	}
	tail, err := enc.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(tail) == 0 {
		t.Error("Flush returned no packet for a buffered partial frame")
	}
	if again, _ := enc.Flush(); again != nil {
		t.Error("second Flush should return nil")
	}
}
