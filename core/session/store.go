package session

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"wabot/core/logger"

	"log/slog"
)

const defaultIdleTimeout = 10 * time.Minute

// Notifier delivers the session-expired notice. Satisfied by the outbound
// sender.
type Notifier interface {
	SendText(ctx context.Context, phone, text string) error
}

const expiredNotice = "⏰ *Sesión Expirada*\n\n" +
	"Tu sesión ha caducado por inactividad.\n\n" +
	"¡Vuelve a escribir cuando necesites ayuda!\n\n" +
	"🔐 Por seguridad, deberás autenticarte nuevamente para acceder a los servicios."

// deadlineEntry is a scheduled idle expiry. Entries are never removed from
// the heap eagerly; stale ones are recognized by generation mismatch when
// they surface.
type deadlineEntry struct {
	phone string
	at    time.Time
	gen   uint64
}

type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(deadlineEntry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Store keeps one Data record per phone number with idle-timeout
// eviction. Instead of one timer handle per session, expiries live in a
// single min-heap swept by one periodic task; rescheduling bumps a
// per-phone generation so stale heap entries are ignored when they
// surface. At most one expiry notice is ever sent per idle period.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*Data
	gens      map[string]uint64
	deadlines deadlineHeap

	idleTimeout time.Duration
	notifier    Notifier
	now         func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Options configures a Store.
type Options struct {
	IdleTimeout time.Duration
	// SweepInterval controls how often expired deadlines are collected.
	// Zero disables the background sweeper (tests drive sweeps manually).
	SweepInterval time.Duration
	Notifier      Notifier
}

// NewStore builds a session store and starts its sweeper when a sweep
// interval is configured.
func NewStore(opts Options) *Store {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	s := &Store{
		sessions:    make(map[string]*Data),
		gens:        make(map[string]uint64),
		idleTimeout: opts.IdleTimeout,
		notifier:    opts.Notifier,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	heap.Init(&s.deadlines)
	if opts.SweepInterval > 0 {
		go s.sweepLoop(opts.SweepInterval)
	}
	return s
}

// Get returns the session for a phone, creating an empty one on first
// access. Every call refreshes the idle deadline.
func (s *Store) Get(phone string) *Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.sessions[phone]
	if !ok {
		data = &Data{LastActivity: s.now()}
		s.sessions[phone] = data
	}
	s.touchLocked(phone, data)
	return data
}

// Touch refreshes the idle deadline for an existing session without
// creating one.
func (s *Store) Touch(phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.sessions[phone]; ok {
		s.touchLocked(phone, data)
	}
}

func (s *Store) touchLocked(phone string, data *Data) {
	data.LastActivity = s.now()
	s.gens[phone]++
	heap.Push(&s.deadlines, deadlineEntry{
		phone: phone,
		at:    s.now().Add(s.idleTimeout),
		gen:   s.gens[phone],
	})
}

// Clear removes the session and invalidates any pending deadline.
func (s *Store) Clear(phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(phone)
}

func (s *Store) clearLocked(phone string) {
	delete(s.sessions, phone)
	// Bumping the generation invalidates heap entries without touching
	// the heap itself.
	s.gens[phone]++
}

// ClearAll removes every session.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for phone := range s.sessions {
		s.clearLocked(phone)
	}
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops the background sweeper.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep pops due deadlines and evicts the sessions they belong to. Stale
// entries (generation mismatch, meaning activity happened after they were
// scheduled) are discarded silently.
func (s *Store) sweep() {
	type eviction struct{ phone string }
	var evicted []eviction

	s.mu.Lock()
	now := s.now()
	for s.deadlines.Len() > 0 {
		next := s.deadlines[0]
		if next.at.After(now) {
			break
		}
		heap.Pop(&s.deadlines)
		if s.gens[next.phone] != next.gen {
			continue
		}
		if _, ok := s.sessions[next.phone]; !ok {
			continue
		}
		s.clearLocked(next.phone)
		evicted = append(evicted, eviction{phone: next.phone})
	}
	s.mu.Unlock()

	for _, ev := range evicted {
		ctx := logger.WithPhone(context.Background(), ev.phone)
		logger.Info(ctx, "session", "session.expired",
			slog.String("status", "ok"),
		)
		if s.notifier == nil {
			continue
		}
		if err := s.notifier.SendText(ctx, ev.phone, expiredNotice); err != nil {
			logger.Warn(ctx, "session", "session.expired.notify",
				slog.String("err", err.Error()),
			)
		}
	}
}
