// Package token issues and verifies HS256 room access tokens. The claim
// layout follows LiveKit access tokens, so a LiveKit server configured
// with the same key pair accepts them too.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the token lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// ErrForbidden is returned by [Claims.Allow] when a grant is missing.
var ErrForbidden = errors.New("token: operation not granted")

// VideoGrant carries room permissions.
type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	CanPublish   bool   `json:"canPublish,omitempty"`
	CanSubscribe bool   `json:"canSubscribe,omitempty"`
}

// Claims is the token payload. Subject holds the participant identity and
// Issuer the API key.
type Claims struct {
	jwt.RegisteredClaims
	Video VideoGrant `json:"video"`
}

// Identity returns the participant identity.
func (c *Claims) Identity() string { return c.Subject }

// Allow checks that c may join room and, when publish is set, publish to it
// or otherwise subscribe.
func (c *Claims) Allow(room string, publish bool) error {
	v := c.Video
	if !v.RoomJoin || v.Room != room {
		return fmt.Errorf("%w: join %q", ErrForbidden, room)
	}
	if publish && !v.CanPublish {
		return fmt.Errorf("%w: publish to %q", ErrForbidden, room)
	}
	if !publish && !v.CanSubscribe {
		return fmt.Errorf("%w: subscribe to %q", ErrForbidden, room)
	}
	return nil
}

// Option configures an [Issuer].
type Option func(*Issuer)

// WithTTL sets the token lifetime.
func WithTTL(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.ttl = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// Issuer mints and verifies tokens with one API key pair.
type Issuer struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. Both apiKey and secret are required.
func NewIssuer(apiKey, secret string, opts ...Option) (*Issuer, error) {
	if apiKey == "" || secret == "" {
		return nil, errors.New("token: api key and secret must not be empty")
	}
	i := &Issuer{apiKey: apiKey, secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// Publisher returns a publish-only token for identity in room.
func (i *Issuer) Publisher(identity, room string) (string, error) {
	return i.Issue(identity, VideoGrant{Room: room, RoomJoin: true, CanPublish: true})
}

// Listener returns a subscribe-only token for identity in room.
func (i *Issuer) Listener(identity, room string) (string, error) {
	return i.Issue(identity, VideoGrant{Room: room, RoomJoin: true, CanSubscribe: true})
}

// Issue signs a token for identity with grant.
func (i *Issuer) Issue(identity string, grant VideoGrant) (string, error) {
	if identity == "" {
		return "", errors.New("token: identity must not be empty")
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Video: grant,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token issued with this key pair.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.apiKey),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("token: verify: %w", err)
	}
	return claims, nil
}
