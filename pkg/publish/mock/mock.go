// Package mock provides an in-memory publish.Dialer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcast/pkg/publish"
)

// Dialer records dials and hands out [Conn] values that store every payload.
type Dialer struct {
	mu sync.Mutex

	// DialErr fails every Dial while set.
	DialErr error

	// SendErr, when set, is returned by Send for matching payloads.
	SendErr func(p publish.Payload) error

	Dials []publish.Target
	Conns []*Conn
}

var _ publish.Dialer = (*Dialer)(nil)

// Dial implements publish.Dialer.
func (d *Dialer) Dial(_ context.Context, t publish.Target) (publish.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Dials = append(d.Dials, t)
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	c := &Conn{Target: t, dialer: d}
	d.Conns = append(d.Conns, c)
	return c, nil
}

// SetDialErr changes DialErr safely.
func (d *Dialer) SetDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialErr = err
}

// DialCount returns the number of Dial calls.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Dials)
}

// Sent returns every payload delivered on any connection for lang, in
// delivery order.
func (d *Dialer) Sent(lang string) []publish.Payload {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []publish.Payload
	for _, c := range d.Conns {
		if c.Target.Lang == lang {
			out = append(out, c.Payloads...)
		}
	}
	return out
}

// Conn stores sent payloads.
type Conn struct {
	Target   publish.Target
	Payloads []publish.Payload
	Closed   bool

	dialer *Dialer
}

// Send implements publish.Conn.
func (c *Conn) Send(_ context.Context, p publish.Payload) error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	if c.dialer.SendErr != nil {
		if err := c.dialer.SendErr(p); err != nil {
			return err
		}
	}
	c.Payloads = append(c.Payloads, p)
	return nil
}

// Close implements publish.Conn.
func (c *Conn) Close() error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	c.Closed = true
	return nil
}
