// Package discord bridges Discord voice with the pipeline's PCM frames. The
// [Source] captures a speaker from a voice channel; the Opus helpers are shared
// with the Discord publisher, which plays synthesized speech back into
// per-language channels.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/babelcast/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

const (
	outputBuffer = 64

	// speakerIdle is how long the locked speaker may be silent before another
	// SSRC can take over the capture.
	speakerIdle = time.Second
)

// Option is a functional option for [NewSource].
type Option func(*Source)

// WithUserID restricts capture to one Discord user. Without it the source
// follows whoever speaks first and switches only after they go quiet.
func WithUserID(id string) Option {
	return func(s *Source) { s.userID = id }
}

// WithTarget sets the PCM format frames are converted to (default 16 kHz mono).
func WithTarget(f audio.Format) Option {
	return func(s *Source) { s.target = f }
}

// Source captures audio from one Discord voice channel.
type Source struct {
	session   *discordgo.Session
	guildID   string
	channelID string
	userID    string
	target    audio.Format

	// join is swapped in tests.
	join func() (*discordgo.VoiceConnection, error)

	mu       sync.Mutex
	vc       *discordgo.VoiceConnection
	ssrcUser map[uint32]string

	done      chan struct{}
	closeOnce sync.Once
}

// NewSource creates a Source that joins channelID in guildID on Start. The
// session must already be open.
func NewSource(session *discordgo.Session, guildID, channelID string, opts ...Option) *Source {
	s := &Source{
		session:   session,
		guildID:   guildID,
		channelID: channelID,
		target:    audio.Format{SampleRate: 16000, Channels: 1},
		ssrcUser:  make(map[uint32]string),
		done:      make(chan struct{}),
	}
	s.join = func() (*discordgo.VoiceConnection, error) {
		// mute=true: the capture connection never sends audio.
		return s.session.ChannelVoiceJoin(s.guildID, s.channelID, true, false)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start joins the voice channel and begins decoding received packets.
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	vc, err := s.join()
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", s.channelID, err)
	}
	s.mu.Lock()
	s.vc = vc
	s.mu.Unlock()

	vc.AddHandler(s.handleSpeakingUpdate)

	out := make(chan audio.AudioFrame, outputBuffer)
	go s.recvLoop(ctx, vc, out)
	return out, nil
}

// Close leaves the voice channel. Safe to call more than once.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		vc := s.vc
		s.mu.Unlock()
		if vc != nil && s.session != nil {
			err = vc.Disconnect()
		}
	})
	return err
}

func (s *Source) handleSpeakingUpdate(_ *discordgo.VoiceConnection, v *discordgo.VoiceSpeakingUpdate) {
	s.mu.Lock()
	s.ssrcUser[uint32(v.SSRC)] = v.UserID
	s.mu.Unlock()
}

// accept reports whether a packet from ssrc belongs to the captured speaker.
func (s *Source) accept(ssrc uint32, locked *uint32, lastHeard time.Time, now time.Time) bool {
	if s.userID != "" {
		s.mu.Lock()
		uid := s.ssrcUser[ssrc]
		s.mu.Unlock()
		return uid == s.userID
	}
	if *locked == 0 || *locked == ssrc || now.Sub(lastHeard) > speakerIdle {
		if *locked != ssrc {
			slog.Debug("discord source: following speaker", "ssrc", ssrc)
		}
		*locked = ssrc
		return true
	}
	return false
}

func (s *Source) recvLoop(ctx context.Context, vc *discordgo.VoiceConnection, out chan<- audio.AudioFrame) {
	defer close(out)

	decoders := make(map[uint32]*OpusDecoder)
	conv := audio.FormatConverter{Target: s.target}
	start := time.Now()

	var (
		locked    uint32
		lastHeard time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case pkt, ok := <-vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			now := time.Now()
			if !s.accept(pkt.SSRC, &locked, lastHeard, now) {
				continue
			}
			lastHeard = now

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				if dec, err = NewOpusDecoder(); err != nil {
					slog.Error("discord source: create decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}
			pcm, err := dec.Decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord source: decode", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			frame := conv.Convert(audio.AudioFrame{
				Data:       pcm,
				SampleRate: OpusSampleRate,
				Channels:   OpusChannels,
				Timestamp:  now.Sub(start),
			})
			if len(frame.Data) == 0 {
				continue
			}
			select {
			case out <- frame:
			default:
				// Consumer behind; the frame queue counts drops downstream.
			}
		}
	}
}
