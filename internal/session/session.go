// Package session holds the per-user server state: one search engine,
// one recommendation builder and one detail-history trail per session,
// keyed by an opaque id and evicted after idle timeout.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/history"
	"github.com/kikidoko/kikidoko-go/internal/logger"
	"github.com/kikidoko/kikidoko-go/internal/metrics"
	"github.com/kikidoko/kikidoko-go/internal/recommend"
	"github.com/kikidoko/kikidoko-go/internal/search"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

// Session bundles the stateful components serving one user.
type Session struct {
	ID        string
	Search    *search.Engine
	Recommend *recommend.Builder

	mu       sync.Mutex
	trail    *history.Session
	origin   *equipment.Coordinate
	lastSeen time.Time
}

// History returns the detail trail, starting one rooted at rootID when
// none exists yet.
func (s *Session) History(rootID string) *history.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trail == nil {
		s.trail = history.NewSession(rootID)
	}
	return s.trail
}

// CurrentHistory returns the trail without creating one.
func (s *Session) CurrentHistory() *history.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trail
}

// ResetHistory restarts the trail at rootID. Called when the user opens
// a record from the main list rather than from a recommendation. The
// abandoned trail's recommendation pools are dropped with it.
func (s *Session) ResetHistory(rootID string) *history.Session {
	s.mu.Lock()
	old := s.trail
	s.trail = history.NewSession(rootID)
	trail := s.trail
	s.mu.Unlock()

	if old != nil {
		for _, id := range old.Visited() {
			if id != rootID {
				s.Recommend.Forget(id)
			}
		}
	}
	return trail
}

// Origin returns the user coordinate the session was created with.
func (s *Session) Origin() *equipment.Coordinate {
	return s.origin
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// Manager creates, resolves and expires sessions.
type Manager struct {
	reader   store.Reader
	log      *logger.Logger
	metrics  *metrics.Metrics
	pageSize int
	ttl      time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a session manager sweeping idle sessions every
// sweep interval.
func NewManager(reader store.Reader, log *logger.Logger, m *metrics.Metrics, pageSize int, ttl, sweep time.Duration) *Manager {
	mgr := &Manager{
		reader:   reader,
		log:      log.WithModule("session"),
		metrics:  m,
		pageSize: pageSize,
		ttl:      ttl,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	if sweep > 0 {
		go mgr.sweepLoop(sweep)
	}
	return mgr
}

// Create starts a new session. origin is the user's coordinate when the
// client shared one.
func (m *Manager) Create(origin *equipment.Coordinate) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		Search:    search.NewEngine(m.reader, m.log, m.metrics, m.pageSize, origin),
		Recommend: recommend.New(m.reader, m.log, m.metrics, origin),
		origin:    origin,
		lastSeen:  time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetSessionsActive(count)
	return s
}

// Get resolves a session id, refreshing its idle timer.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.touch(time.Now())
	return s, true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop terminates the sweep goroutine. Safe to call multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	expired := 0
	for id, s := range m.sessions {
		if s.idleSince(now) > m.ttl {
			delete(m.sessions, id)
			expired++
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetSessionsActive(count)
	if expired > 0 {
		m.log.WithField("expired", expired).WithField("active", count).Debug("idle sessions swept")
	}
}

// Ready reports whether the backing store answers queries, used by the
// readiness probe.
func (m *Manager) Ready(ctx context.Context) error {
	_, err := m.reader.Query(ctx, store.Query{
		Collection: store.CollectionEquipment,
		Limit:      1,
	})
	return err
}
