package conversation

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/catalog"
)

// DefaultCooldown is the idle time after which a session ends.
const DefaultCooldown = 15 * time.Minute

// Ended describes a session that was closed, explicitly or by cooldown.
type Ended struct {
	SessionID  string
	StartedAt  time.Time
	LastActive time.Time
	Context    Context
}

type session struct {
	selector   *Selector
	startedAt  time.Time
	lastActive time.Time
}

// Sessions keeps one Selector per active session. It is safe for concurrent
// use; all selectors share one random source under the registry lock.
type Sessions struct {
	mu       sync.Mutex
	catalog  *catalog.Catalog
	rng      Source
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time
	sessions map[string]*session
}

// NewSessions creates an empty registry. A non-positive cooldown means
// DefaultCooldown. If logger is nil, the default slog logger is used.
func NewSessions(c *catalog.Catalog, rng Source, cooldown time.Duration, logger *slog.Logger) *Sessions {
	if rng == nil {
		rng = NewSource(0)
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		catalog:  c,
		rng:      rng,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// WithClock replaces the clock used to stamp session activity.
func (s *Sessions) WithClock(now func() time.Time) *Sessions {
	if now != nil {
		s.now = now
	}
	return s
}

// Respond answers a card selection within the session, starting the
// session on first use. A session idle past the cooldown is ended and a
// fresh context started before answering.
func (s *Sessions) Respond(sessionID, cardID string, cat interaction.Category) Response {
	return s.respondAt(sessionID, cardID, cat, s.now())
}

func (s *Sessions) respondAt(sessionID, cardID string, cat interaction.Category, now time.Time) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionAt(sessionID, now)
	resp := sess.selector.Respond(cardID, cat)
	sess.lastActive = now

	s.logger.Debug("conversation: replied",
		"session_id", sessionID,
		"card_id", cardID,
		"category", cat,
		"interaction_count", sess.selector.ctx.InteractionCount,
		"follow_up", resp.HasFollowUp(),
	)
	return resp
}

// Greeting picks a greeting for the session. The session is started if
// needed but its context is left untouched.
func (s *Sessions) Greeting(sessionID string) string {
	return s.greetingAt(sessionID, s.now())
}

func (s *Sessions) greetingAt(sessionID string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessionAt(sessionID, now)
	sess.lastActive = now
	return sess.selector.Greeting()
}

// AnyGreeting picks a greeting without opening a session. The shared
// random source is drawn under the registry lock.
func (s *Sessions) AnyGreeting() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewSelector(s.catalog, s.rng).Greeting()
}

// Context returns a snapshot of the session context.
func (s *Sessions) Context(sessionID string) (Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Context{}, false
	}
	return sess.selector.Context(), true
}

// End discards the session and returns its final state.
func (s *Sessions) End(sessionID string) (Ended, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Ended{}, false
	}
	delete(s.sessions, sessionID)
	return ended(sessionID, sess), true
}

// EndExpired ends every session idle for longer than the cooldown relative
// to now. Results are ordered by session ID.
func (s *Sessions) EndExpired(now time.Time) []Ended {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Ended
	for id, sess := range s.sessions {
		if now.Sub(sess.lastActive) > s.cooldown {
			out = append(out, ended(id, sess))
			delete(s.sessions, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Snapshot is the saved state of one session, taken before a turn the
// caller may need to undo.
type Snapshot struct {
	id   string
	sess *session
}

// Snapshot captures the session's current state, including its absence.
func (s *Sessions) Snapshot(sessionID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{id: sessionID}
	if sess, ok := s.sessions[sessionID]; ok {
		snap.sess = sess.clone()
	}
	return snap
}

// Rewind puts the session back to the captured state. A session that did
// not exist at the snapshot is removed. Draws already taken from the random
// source are not returned.
func (s *Sessions) Rewind(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.sess == nil {
		delete(s.sessions, snap.id)
		return
	}
	s.sessions[snap.id] = snap.sess.clone()
}

// Active returns the number of open sessions.
func (s *Sessions) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// sessionAt returns the live session for id, replacing a stale one. Must be
// called with mu held.
func (s *Sessions) sessionAt(id string, now time.Time) *session {
	sess, ok := s.sessions[id]
	if ok && now.Sub(sess.lastActive) > s.cooldown {
		s.logger.Info("conversation: session expired, starting a new one",
			"session_id", id,
			"interaction_count", sess.selector.ctx.InteractionCount,
			"idle", now.Sub(sess.lastActive).Round(time.Second),
		)
		ok = false
	}
	if !ok {
		sess = &session{
			selector:   NewSelector(s.catalog, s.rng),
			startedAt:  now,
			lastActive: now,
		}
		s.sessions[id] = sess
	}
	return sess
}

func (sess *session) clone() *session {
	sel := *sess.selector
	sel.ctx = sel.ctx.clone()
	return &session{
		selector:   &sel,
		startedAt:  sess.startedAt,
		lastActive: sess.lastActive,
	}
}

func ended(id string, sess *session) Ended {
	return Ended{
		SessionID:  id,
		StartedAt:  sess.startedAt,
		LastActive: sess.lastActive,
		Context:    sess.selector.Context(),
	}
}
