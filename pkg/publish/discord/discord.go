// Package discord publishes language channels into Discord. Synthesized
// speech is played into a voice channel and the translated text is posted
// to a text channel.
//
// A Discord session can be in only one voice channel per guild, so every
// language that needs voice uses its own bot session or its own guild.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/babelcast/pkg/audio"
	discordaudio "github.com/MrWong99/babelcast/pkg/audio/discord"
	"github.com/MrWong99/babelcast/pkg/publish"
)

var _ publish.Dialer = (*Dialer)(nil)

// Channel routes one language.
type Channel struct {
	// Session is an open bot session.
	Session *discordgo.Session

	GuildID string

	// VoiceChannelID receives audio payloads. Empty disables voice.
	VoiceChannelID string

	// TextChannelID receives text payloads. Empty disables text.
	TextChannelID string
}

// Dialer joins per-language Discord channels.
type Dialer struct {
	channels map[string]Channel

	// join, leave and post are swapped in tests.
	join  func(ch Channel) (*discordgo.VoiceConnection, error)
	leave func(vc *discordgo.VoiceConnection) error
	post  func(ch Channel, text string) error
}

// New creates a Dialer for the given language routes.
func New(channels map[string]Channel) *Dialer {
	return &Dialer{
		channels: channels,
		join: func(ch Channel) (*discordgo.VoiceConnection, error) {
			// deaf=true: publishing connections never receive audio.
			return ch.Session.ChannelVoiceJoin(ch.GuildID, ch.VoiceChannelID, false, true)
		},
		leave: func(vc *discordgo.VoiceConnection) error { return vc.Disconnect() },
		post: func(ch Channel, text string) error {
			_, err := ch.Session.ChannelMessageSend(ch.TextChannelID, text)
			return err
		},
	}
}

// Dial implements [publish.Dialer].
func (d *Dialer) Dial(_ context.Context, t publish.Target) (publish.Conn, error) {
	ch, ok := d.channels[t.Lang]
	if !ok {
		return nil, fmt.Errorf("discord: no channel configured for %q", t.Lang)
	}
	c := &conn{d: d, ch: ch}
	if ch.VoiceChannelID != "" {
		vc, err := d.join(ch)
		if err != nil {
			return nil, fmt.Errorf("discord: join voice channel %s: %w", ch.VoiceChannelID, err)
		}
		enc, err := discordaudio.NewOpusEncoder()
		if err != nil {
			_ = d.leave(vc)
			return nil, err
		}
		c.vc, c.enc = vc, enc
	}
	return c, nil
}

type conn struct {
	d   *Dialer
	ch  Channel
	vc  *discordgo.VoiceConnection
	enc *discordaudio.OpusEncoder

	closeOnce sync.Once
}

func (c *conn) Send(ctx context.Context, p publish.Payload) error {
	switch p.Kind {
	case publish.KindText:
		if c.ch.TextChannelID == "" || p.Text == "" {
			return nil
		}
		if err := c.d.post(c.ch, p.Text); err != nil {
			return fmt.Errorf("discord: post message: %w", err)
		}
		return nil
	case publish.KindAudio:
		if c.vc == nil || len(p.PCM) == 0 {
			return nil
		}
		return c.play(ctx, p)
	default:
		return fmt.Errorf("discord: unknown payload kind %q", p.Kind)
	}
}

// play encodes p to Opus and queues every packet on the voice connection,
// bracketed by speaking notifications.
func (c *conn) play(ctx context.Context, p publish.Payload) error {
	packets, err := c.enc.EncodePCM(p.PCM, audio.Format{SampleRate: p.SampleRate, Channels: p.Channels})
	if err != nil {
		return err
	}
	last, err := c.enc.Flush()
	if err != nil {
		return err
	}
	if last != nil {
		packets = append(packets, last)
	}

	c.setSpeaking(true)
	defer c.setSpeaking(false)
	for _, pkt := range packets {
		select {
		case c.vc.OpusSend <- pkt:
		case <-ctx.Done():
			return fmt.Errorf("discord: play: %w", ctx.Err())
		}
	}
	return nil
}

func (c *conn) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Debug("discord: speaking notification error", "speaking", b, "err", err)
	}
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.vc != nil {
			err = c.d.leave(c.vc)
		}
	})
	if err != nil {
		return fmt.Errorf("discord: disconnect: %w", err)
	}
	return nil
}
