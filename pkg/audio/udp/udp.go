// Package udp provides an [audio.Source] that receives raw 16-bit PCM over
// UDP, one datagram per frame. It is meant for feeding the pipeline from a
// mixing desk, a SIP bridge or `ffmpeg -f s16le udp://host:port`.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

const (
	defaultSampleRate   = 16000
	defaultReadBuffer   = 1 << 20
	defaultMaxDatagram  = 65507
	defaultOutputBuffer = 256
	readPollInterval    = time.Second

	// Consecutive read errors back off from minReadBackoff up to
	// maxReadBackoff; after maxReadErrors in a row the source ends.
	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
	maxReadErrors  = 20
)

// packetConn is the part of *net.UDPConn the receive loop uses.
type packetConn interface {
	SetReadDeadline(t time.Time) error
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	Close() error
}

// Option is a functional option for [New].
type Option func(*Source)

// WithFormat sets the PCM format of incoming datagrams (default 16 kHz mono).
func WithFormat(f audio.Format) Option {
	return func(s *Source) { s.format = f }
}

// WithReadBuffer sets the socket receive buffer size in bytes.
func WithReadBuffer(n int) Option {
	return func(s *Source) { s.readBuffer = n }
}

// Source listens on a UDP address. Create with [New].
type Source struct {
	addr       string
	format     audio.Format
	readBuffer int

	minBackoff, maxBackoff time.Duration

	mu   sync.Mutex
	conn *net.UDPConn

	received atomic.Uint64
	dropped  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Source that will listen on addr (e.g. ":5004") once started.
func New(addr string, opts ...Option) *Source {
	s := &Source{
		addr:       addr,
		format:     audio.Format{SampleRate: defaultSampleRate, Channels: 1},
		readBuffer: defaultReadBuffer,
		minBackoff: minReadBackoff,
		maxBackoff: maxReadBackoff,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start binds the socket and begins receiving.
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("udp source: resolve %q: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("udp source: listen %q: %w", s.addr, err)
	}
	if err := conn.SetReadBuffer(s.readBuffer); err != nil {
		slog.Warn("udp source: failed to set read buffer", "size", s.readBuffer, "err", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	slog.Info("udp source listening", "addr", conn.LocalAddr().String(), "format", s.format.String())

	out := make(chan audio.AudioFrame, defaultOutputBuffer)
	go s.receiveLoop(ctx, conn, out)
	return out, nil
}

// Addr returns the bound local address, or nil before Start.
func (s *Source) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close stops receiving and releases the socket.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.conn != nil {
			err = s.conn.Close()
		}
		s.mu.Unlock()
	})
	return err
}

// Stats returns the number of datagrams received and dropped.
func (s *Source) Stats() (received, dropped uint64) {
	return s.received.Load(), s.dropped.Load()
}

func (s *Source) receiveLoop(ctx context.Context, conn packetConn, out chan<- audio.AudioFrame) {
	defer close(out)
	defer conn.Close()

	buf := make([]byte, defaultMaxDatagram)
	start := time.Now()
	frameBytes := s.format.Channels * 2
	backoff := s.minBackoff
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		// Poll with a deadline so cancellation is observed without traffic.
		if err := conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			slog.Error("udp source: set read deadline", "err", err)
			return
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			failures++
			if failures >= maxReadErrors {
				slog.Error("udp source: giving up after repeated read errors", "errors", failures, "err", err)
				return
			}
			slog.Warn("udp source: read failed", "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.maxBackoff)
			continue
		}
		failures, backoff = 0, s.minBackoff
		s.received.Add(1)

		n -= n % frameBytes
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		frame := audio.AudioFrame{
			Data:       data,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Since(start),
		}
		select {
		case out <- frame:
		default:
			if s.dropped.Add(1)%100 == 1 {
				slog.Warn("udp source: output full, dropping datagram", "dropped", s.dropped.Load())
			}
		}
	}
}
