// Package mock provides an in-memory [audio.Source] for unit tests.
//
// Typical usage:
//
//	src := &mock.Source{Frames: frames}
//	ch, err := src.Start(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcast/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Source replays a fixed list of frames and then closes its channel, unless
// Hold is set, in which case the channel stays open until ctx is cancelled or
// Close is called.
type Source struct {
	mu sync.Mutex

	// Frames is replayed in order by Start.
	Frames []audio.AudioFrame

	// StartErr is returned by Start when non-nil.
	StartErr error

	// Hold keeps the channel open after all frames have been delivered.
	Hold bool

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// Closed reports whether Close was called.
	Closed bool

	done chan struct{}
}

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	s.CallCountStart++
	if s.StartErr != nil {
		s.mu.Unlock()
		return nil, s.StartErr
	}
	if s.done == nil {
		s.done = make(chan struct{})
	}
	frames := append([]audio.AudioFrame(nil), s.Frames...)
	done, hold := s.done, s.Hold
	s.mu.Unlock()

	out := make(chan audio.AudioFrame)
	go func() {
		defer close(out)
		for _, f := range frames {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
		if hold {
			select {
			case <-ctx.Done():
			case <-done:
			}
		}
	}()
	return out, nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed {
		return nil
	}
	s.Closed = true
	if s.done == nil {
		s.done = make(chan struct{})
	}
	close(s.done)
	return nil
}
