// Package pool owns one live connection per profile and serializes the
// operations that use it. Callers never hold a connection directly; they
// hand the pool a function and the pool runs it under the profile's lock.
package pool

import (
	"context"
	"fmt"
	"sync"

	"tgdog/internal/config"
	"tgdog/internal/logger"
	"tgdog/internal/telegram"
)

// ErrNotAuthorized reports a profile whose stored session cannot authorize
// without user interaction.
type ErrNotAuthorized struct {
	Profile string
}

func (e *ErrNotAuthorized) Error() string {
	return fmt.Sprintf("profile %q is not authorized; run an interactive login first", e.Profile)
}

// entry pairs a connection with the lock that serializes its use.
type entry struct {
	mu   sync.Mutex
	conn telegram.Conn
}

// Pool lazily dials connections and caches them for the daemon's lifetime.
type Pool struct {
	cfg    *config.Config
	dialer telegram.Dialer
	logger *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New builds an empty pool. Connections are dialed on first use.
func New(cfg *config.Config, dialer telegram.Dialer, log *logger.Logger) *Pool {
	if log == nil {
		log = logger.NewNop()
	}
	return &Pool{
		cfg:     cfg,
		dialer:  dialer,
		logger:  log,
		entries: make(map[string]*entry),
	}
}

// Run resolves profileName, takes the profile's lock and invokes fn with a
// connected, authorized connection. The lock is released when fn returns,
// so operations on the same profile never overlap while different profiles
// proceed in parallel.
//
// An empty profileName selects the configured default profile.
func (p *Pool) Run(ctx context.Context, profileName string, fn func(conn telegram.Conn) error) error {
	key, profile, err := p.cfg.ResolveProfile(profileName)
	if err != nil {
		return err
	}

	ent, err := p.entry(key, profile)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if err := p.ensureReady(ctx, key, ent.conn); err != nil {
		return err
	}
	return fn(ent.conn)
}

func (p *Pool) entry(key string, profile config.Profile) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("connection pool is closed")
	}

	ent, ok := p.entries[key]
	if !ok {
		ent = &entry{conn: p.dialer.Dial(key, profile)}
		p.entries[key] = ent
		p.logger.Debug("profile connection created",
			logger.Field{Key: "profile", Value: key})
	}
	return ent, nil
}

// ensureReady connects (or reconnects after a drop) and verifies the
// session authorizes. Called with the entry lock held.
func (p *Pool) ensureReady(ctx context.Context, key string, conn telegram.Conn) error {
	if !conn.Connected() {
		if err := conn.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect profile %q: %w", key, err)
		}
	}

	authorized, err := conn.Authorized(ctx)
	if err != nil {
		return fmt.Errorf("failed to check authorization for profile %q: %w", key, err)
	}
	if !authorized {
		return &ErrNotAuthorized{Profile: key}
	}
	return nil
}

// Close disconnects every cached connection. Errors are logged and
// swallowed; shutdown proceeds regardless.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for key, ent := range entries {
		ent.mu.Lock()
		if err := ent.conn.Disconnect(); err != nil {
			p.logger.Warn("failed to disconnect profile",
				logger.Field{Key: "profile", Value: key},
				logger.Field{Key: "error", Value: err})
		}
		ent.mu.Unlock()
	}
}
