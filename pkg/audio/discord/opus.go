package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	OpusSampleRate = 48000
	OpusChannels   = 2
	opusFrameMs    = 20

	// OpusFrameSize is the number of samples per channel per 20 ms frame.
	OpusFrameSize = OpusSampleRate * opusFrameMs / 1000 // 960

	// OpusFrameBytes is the PCM byte size of one Opus frame:
	// 960 samples × 2 channels × 2 bytes.
	OpusFrameBytes = OpusFrameSize * OpusChannels * 2
)

// OpusFormat is the PCM format Discord voice expects on both directions.
var OpusFormat = audio.Format{SampleRate: OpusSampleRate, Channels: OpusChannels}

// OpusDecoder decodes one speaker's Opus stream. Decoder state carries across
// packets, so each SSRC needs its own instance.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates a decoder for Discord voice packets.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(OpusSampleRate, OpusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode returns interleaved 48 kHz stereo PCM for one Opus packet.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, OpusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}

// OpusEncoder turns 48 kHz stereo PCM into Discord voice packets.
type OpusEncoder struct {
	enc *gopus.Encoder
	buf []byte
}

// NewOpusEncoder creates an encoder for Discord voice.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(OpusSampleRate, OpusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// EncodePCM converts pcm (in format f) to Discord's format, appends it to
// the internal buffer and returns one Opus packet per complete 20 ms frame.
// A trailing partial frame stays buffered until the next call or [Flush].
func (e *OpusEncoder) EncodePCM(pcm []byte, f audio.Format) ([][]byte, error) {
	e.buf = append(e.buf, audio.ConvertPCM(pcm, f, OpusFormat)...)

	var packets [][]byte
	for len(e.buf) >= OpusFrameBytes {
		pkt, err := e.enc.Encode(audio.BytesToInt16s(e.buf[:OpusFrameBytes]), OpusFrameSize, OpusFrameBytes)
		e.buf = e.buf[OpusFrameBytes:]
		if err != nil {
			return packets, fmt.Errorf("discord: opus encode: %w", err)
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// Flush pads any buffered partial frame with silence and encodes it.
func (e *OpusEncoder) Flush() ([]byte, error) {
	if len(e.buf) == 0 {
		return nil, nil
	}
	frame := make([]byte, OpusFrameBytes)
	copy(frame, e.buf)
	e.buf = e.buf[:0]
	pkt, err := e.enc.Encode(audio.BytesToInt16s(frame), OpusFrameSize, OpusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return pkt, nil
}
