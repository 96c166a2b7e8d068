// Package discord owns the discordgo.Session lifecycle for the Discord audio
// source and publisher. Both may use the same bot, so sessions are shared per
// token and opened lazily.
package discord

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Sessions opens at most one gateway session per bot token.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*discordgo.Session
	closed   bool

	// open and close are swapped in tests.
	open  func(token string) (*discordgo.Session, error)
	close func(s *discordgo.Session) error
}

// NewSessions creates an empty pool.
func NewSessions() *Sessions {
	return &Sessions{
		sessions: make(map[string]*discordgo.Session),
		open:     openSession,
		close:    func(s *discordgo.Session) error { return s.Close() },
	}
}

func openSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return session, nil
}

// Get returns the open session for token, connecting on first use.
func (p *Sessions) Get(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord: bot token must not be empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("discord: session pool is closed")
	}
	if s, ok := p.sessions[token]; ok {
		return s, nil
	}
	s, err := p.open(token)
	if err != nil {
		return nil, err
	}
	p.sessions[token] = s
	slog.Info("discord: session opened", "sessions", len(p.sessions))
	return s, nil
}

// Len reports the number of open sessions.
func (p *Sessions) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close disconnects every session. Safe to call more than once.
func (p *Sessions) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	for token, s := range p.sessions {
		if err := p.close(s); err != nil {
			errs = append(errs, fmt.Errorf("discord: close session: %w", err))
		}
		delete(p.sessions, token)
	}
	return errors.Join(errs...)
}
