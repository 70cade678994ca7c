// Package security implements the per-phone screening layer: failed-auth
// blocking, fixed-window rate limiting, bearer-style session tokens, and
// payload encryption. All state is in memory and keyed by phone number.
package security

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"wabot/core/config"
	"wabot/core/logger"
)

type attemptState struct {
	count        int
	blockedUntil time.Time
}

type rateState struct {
	count       int
	windowStart time.Time
}

type tokenSession struct {
	phone        string
	createdAt    time.Time
	lastActivity time.Time
	expiresAt    time.Time
}

// RateResult reports the outcome of a rate-limit check.
type RateResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Gate screens every inbound message before it reaches the orchestrator.
type Gate struct {
	mu       sync.Mutex
	attempts map[string]*attemptState
	rates    map[string]*rateState
	sessions map[string]*tokenSession

	cfg config.SecurityConfig
	key []byte

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

// NewGate derives the encryption key up front and starts the periodic
// cleanup sweep when CleanupInterval is positive.
func NewGate(cfg config.SecurityConfig) (*Gate, error) {
	key, err := deriveKey(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}
	g := &Gate{
		attempts: make(map[string]*attemptState),
		rates:    make(map[string]*rateState),
		sessions: make(map[string]*tokenSession),
		cfg:      cfg,
		key:      key,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go g.sweepLoop(cfg.CleanupInterval)
	}
	return g, nil
}

// Close stops the cleanup sweep.
func (g *Gate) Close() {
	g.once.Do(func() { close(g.done) })
}

// RecordAttempt registers one failed authentication. On reaching the
// configured limit the phone is blocked and the counter resets so a
// fresh cycle starts after the block lapses.
func (g *Gate) RecordAttempt(ctx context.Context, phone string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.attempts[phone]
	if st == nil {
		st = &attemptState{}
		g.attempts[phone] = st
	}
	if !st.blockedUntil.IsZero() && g.now().Before(st.blockedUntil) {
		// Already blocked; the counter stays at its reset value.
		return
	}
	st.count++
	if st.count >= g.cfg.MaxAuthAttempts {
		st.blockedUntil = g.now().Add(g.cfg.BlockDuration)
		st.count = 0
		logger.Warn(ctx, "security", "phone.blocked",
			slog.String("phone", logger.Sanitize(phone)),
			slog.Duration("duration", g.cfg.BlockDuration))
	}
}

// ClearAttempts resets the failed-auth counter after a success.
func (g *Gate) ClearAttempts(phone string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attempts, phone)
}

// RemainingAttempts returns how many failures are left before a block.
func (g *Gate) RemainingAttempts(phone string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.attempts[phone]
	if st == nil {
		return g.cfg.MaxAuthAttempts
	}
	n := g.cfg.MaxAuthAttempts - st.count
	if n < 0 {
		return 0
	}
	return n
}

// IsBlocked reports whether the phone is inside a block window and, if
// so, the remaining time rounded up to whole minutes for user display.
func (g *Gate) IsBlocked(phone string) (bool, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.attempts[phone]
	if st == nil || st.blockedUntil.IsZero() {
		return false, 0
	}
	now := g.now()
	if !now.Before(st.blockedUntil) {
		delete(g.attempts, phone)
		return false, 0
	}
	mins := int(math.Ceil(st.blockedUntil.Sub(now).Minutes()))
	return true, mins
}

// CheckRateLimit applies a fixed window per phone. A lapsed window
// restarts with the current request already counted.
func (g *Gate) CheckRateLimit(phone string) RateResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := g.rates[phone]
	if st == nil || now.Sub(st.windowStart) >= g.cfg.RateLimitWindow {
		g.rates[phone] = &rateState{count: 1, windowStart: now}
		return RateResult{
			Allowed:   true,
			Remaining: g.cfg.RateLimitMax - 1,
			ResetAt:   now.Add(g.cfg.RateLimitWindow),
		}
	}

	resetAt := st.windowStart.Add(g.cfg.RateLimitWindow)
	if st.count >= g.cfg.RateLimitMax {
		return RateResult{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	st.count++
	return RateResult{
		Allowed:   true,
		Remaining: g.cfg.RateLimitMax - st.count,
		ResetAt:   resetAt,
	}
}

// CreateSession mints a bearer token with an absolute expiry.
func (g *Gate) CreateSession(phone string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: token: %w", err)
	}
	token := hex.EncodeToString(buf)

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.sessions[token] = &tokenSession{
		phone:        phone,
		createdAt:    now,
		lastActivity: now,
		expiresAt:    now.Add(g.cfg.SessionDuration),
	}
	return token, nil
}

// ValidateSession checks the token against its absolute expiry. A valid
// check refreshes lastActivity but never pushes the expiry out.
func (g *Gate) ValidateSession(token, phone string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.sessions[token]
	if s == nil || s.phone != phone {
		return false
	}
	now := g.now()
	if !now.Before(s.expiresAt) {
		delete(g.sessions, token)
		return false
	}
	s.lastActivity = now
	return true
}

// ExtendSession pushes the absolute expiry out by the session duration.
func (g *Gate) ExtendSession(token string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.sessions[token]
	if s == nil {
		return false
	}
	now := g.now()
	if !now.Before(s.expiresAt) {
		delete(g.sessions, token)
		return false
	}
	s.expiresAt = now.Add(g.cfg.SessionDuration)
	return true
}

// InvalidateSession removes the token immediately.
func (g *Gate) InvalidateSession(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, token)
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	BlockedPhones  int
	ActiveSessions int
	TrackedRates   int
}

// Snapshot counts live security state.
func (g *Gate) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	blocked := 0
	for _, st := range g.attempts {
		if !st.blockedUntil.IsZero() && now.Before(st.blockedUntil) {
			blocked++
		}
	}
	active := 0
	for _, s := range g.sessions {
		if now.Before(s.expiresAt) {
			active++
		}
	}
	return Stats{BlockedPhones: blocked, ActiveSessions: active, TrackedRates: len(g.rates)}
}

func (g *Gate) sweepLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-t.C:
			g.sweep()
		}
	}
}

// sweep drops expired blocks, stale rate windows, and lapsed sessions.
func (g *Gate) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for phone, st := range g.attempts {
		if st.count == 0 && (st.blockedUntil.IsZero() || !now.Before(st.blockedUntil)) {
			delete(g.attempts, phone)
		}
	}
	for phone, st := range g.rates {
		if now.Sub(st.windowStart) >= g.cfg.RateLimitWindow {
			delete(g.rates, phone)
		}
	}
	for token, s := range g.sessions {
		if !now.Before(s.expiresAt) {
			delete(g.sessions, token)
		}
	}
}
