package simulator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/tx-simulator/pkg/common/metrics"
	"github.com/ethsim/tx-simulator/pkg/engine"
)

// session pairs an engine with its exclusivity lock. Everything besides id
// and createdAt is accessed under mu.
type session struct {
	id        string
	eng       engine.Engine
	createdAt time.Time

	mu        sync.Mutex
	destroyed bool
	lastUsed  time.Time
}

// registry tracks live sessions by id. The map itself is concurrent;
// exclusivity is per entry, so distinct sessions never contend.
type registry struct {
	log      logrus.FieldLogger
	sessions *xsync.MapOf[string, *session]
}

func newRegistry(log logrus.FieldLogger) *registry {
	return &registry{
		log:      log.WithField("component", "sessions"),
		sessions: xsync.NewMapOf[string, *session](),
	}
}

// add registers an engine under a fresh id.
func (r *registry) add(eng engine.Engine) string {
	now := time.Now()
	s := &session{
		id:        uuid.New().String(),
		eng:       eng,
		createdAt: now,
		lastUsed:  now,
	}

	r.sessions.Store(s.id, s)
	metrics.ActiveSessions.Inc()
	r.log.WithField("session", s.id).Debug("Session created")

	return s.id
}

// acquire locks the session for exclusive use. The caller must release it on
// every return path.
func (r *registry) acquire(id string) (*session, error) {
	s, ok := r.sessions.Load(id)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()

	// Lost a race with destroy after the map lookup.
	if s.destroyed {
		s.mu.Unlock()

		return nil, ErrSessionNotFound
	}

	return s, nil
}

// release unlocks an acquired session and stamps its idle clock.
func (r *registry) release(s *session) {
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// destroy removes the session and closes its engine. Exactly one caller
// wins; later calls and racing acquires get ErrSessionNotFound.
func (r *registry) destroy(id string) error {
	s, err := r.acquire(id)
	if err != nil {
		return err
	}

	r.remove(s)
	s.mu.Unlock()

	return nil
}

// remove finalizes a session. The caller holds s.mu.
func (r *registry) remove(s *session) {
	s.destroyed = true
	r.sessions.Delete(s.id)
	s.eng.Close()

	metrics.ActiveSessions.Dec()
	metrics.SessionLifetime.Observe(time.Since(s.createdAt).Seconds())
	r.log.WithField("session", s.id).Debug("Session destroyed")
}

// sweep destroys sessions idle past ttl. Sessions currently held are in use
// and skipped.
func (r *registry) sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-ttl)
	swept := 0

	r.sessions.Range(func(_ string, s *session) bool {
		if !s.mu.TryLock() {
			return true
		}

		if !s.destroyed && s.lastUsed.Before(cutoff) {
			r.remove(s)
			swept++
		}

		s.mu.Unlock()

		return true
	})

	if swept > 0 {
		r.log.WithField("count", swept).Info("Swept expired sessions")
	}

	return swept
}

// shutdown destroys every remaining session.
func (r *registry) shutdown() {
	r.sessions.Range(func(_ string, s *session) bool {
		s.mu.Lock()

		if !s.destroyed {
			r.remove(s)
		}

		s.mu.Unlock()

		return true
	})
}

func (r *registry) size() int {
	return r.sessions.Size()
}
