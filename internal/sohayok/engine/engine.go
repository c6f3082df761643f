// Package engine is the boundary of the interaction and progress engine. An
// Engine owns the session registry and the progress tracker; it performs no
// I/O and returns no errors. Unknown cards and categories degrade to
// fallback content and unknown users degrade to absent results.
package engine

import (
	"log/slog"
	"slices"
	"time"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/analytics"
	"github.com/bdobrica/Sohayok/internal/sohayok/catalog"
	"github.com/bdobrica/Sohayok/internal/sohayok/conversation"
	"github.com/bdobrica/Sohayok/internal/sohayok/progress"
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Catalog         *catalog.Catalog
	Rand            conversation.Source
	Clock           func() time.Time
	SessionCooldown time.Duration
	Logger          *slog.Logger
}

// Engine is the synchronous entry point used by the host application.
type Engine struct {
	catalog  *catalog.Catalog
	now      func() time.Time
	sessions *conversation.Sessions
	tracker  *progress.Tracker
	logger   *slog.Logger
}

// Export bundles everything known about one user.
type Export struct {
	UserID     string              `json:"user_id"`
	Events     []interaction.Event `json:"events"`
	Progress   *progress.Record    `json:"progress,omitempty"`
	Summary    *analytics.Summary  `json:"analytics,omitempty"`
	ExportedAt time.Time           `json:"exported_at"`
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Rand == nil {
		opts.Rand = conversation.NewSource(0)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		catalog:  opts.Catalog,
		now:      opts.Clock,
		sessions: conversation.NewSessions(opts.Catalog, opts.Rand, opts.SessionCooldown, opts.Logger).WithClock(opts.Clock),
		tracker:  progress.NewTracker(opts.Logger),
		logger:   opts.Logger,
	}
}

// Catalog returns the vocabulary the engine answers from.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// GenerateGreeting picks a session-opening greeting. It does not touch any
// session context.
func (e *Engine) GenerateGreeting() string {
	return e.GreetSession("")
}

// GreetSession picks a greeting and, for a non-empty sessionID, opens the
// session so the cooldown starts counting.
func (e *Engine) GreetSession(sessionID string) string {
	if sessionID == "" {
		return e.sessions.AnyGreeting()
	}
	return e.sessions.Greeting(sessionID)
}

// GenerateResponse answers a card selection within a session. The session
// is created on first use.
func (e *Engine) GenerateResponse(sessionID, cardID string, cat interaction.Category) conversation.Response {
	return e.sessions.Respond(sessionID, cardID, cat)
}

// SessionContext returns a snapshot of a session's context.
func (e *Engine) SessionContext(sessionID string) (conversation.Context, bool) {
	return e.sessions.Context(sessionID)
}

// EndSession discards the session context.
func (e *Engine) EndSession(sessionID string) (conversation.Ended, bool) {
	ended, ok := e.sessions.End(sessionID)
	if ok {
		e.logger.Info("engine: session ended",
			"session_id", sessionID,
			"interaction_count", ended.Context.InteractionCount,
		)
	}
	return ended, ok
}

// EndIdleSessions ends every session idle past the cooldown.
func (e *Engine) EndIdleSessions() []conversation.Ended {
	return e.sessions.EndExpired(e.now())
}

// SnapshotSession captures a session before a turn that may be undone.
func (e *Engine) SnapshotSession(sessionID string) conversation.Snapshot {
	return e.sessions.Snapshot(sessionID)
}

// RewindSession restores a session captured by SnapshotSession.
func (e *Engine) RewindSession(snap conversation.Snapshot) {
	e.sessions.Rewind(snap)
}

// ActiveSessions returns the number of open sessions.
func (e *Engine) ActiveSessions() int {
	return e.sessions.Active()
}

// RecordInteraction updates the user's progress for one genuine user
// action. It is not idempotent.
func (e *Engine) RecordInteraction(userID string, cat interaction.Category, cardID string, ts time.Time) progress.Record {
	if ts.IsZero() {
		ts = e.now()
	}
	return e.tracker.Record(userID, cat, cardID, ts)
}

// PlanInteraction returns the record RecordInteraction would produce,
// leaving the tracker untouched. CommitProgress applies it.
func (e *Engine) PlanInteraction(userID string, cat interaction.Category, cardID string, ts time.Time) progress.Record {
	if ts.IsZero() {
		ts = e.now()
	}
	return e.tracker.Preview(userID, cat, cardID, ts)
}

// PlanLearningGoals is the uncommitted form of SetLearningGoals.
func (e *Engine) PlanLearningGoals(userID string, goals []string, ts time.Time) (progress.Record, bool) {
	if ts.IsZero() {
		ts = e.now()
	}
	return e.tracker.PreviewLearningGoals(userID, goals, ts)
}

// CommitProgress stores a planned record. Plan and commit for one user must
// not interleave with other updates of that user.
func (e *Engine) CommitProgress(rec progress.Record) {
	e.tracker.Put(rec)
}

// GetProgress returns the user's record, or a fresh empty record that is
// not stored.
func (e *Engine) GetProgress(userID string) progress.Record {
	return e.tracker.GetOrEmpty(userID, e.now())
}

// HasProgress reports whether a record exists for userID.
func (e *Engine) HasProgress(userID string) bool {
	_, ok := e.tracker.Get(userID)
	return ok
}

// SetLearningGoals overwrites the goals of an existing record. It is a
// no-op returning false for unknown users.
func (e *Engine) SetLearningGoals(userID string, goals []string, ts time.Time) (progress.Record, bool) {
	if ts.IsZero() {
		ts = e.now()
	}
	return e.tracker.SetLearningGoals(userID, goals, ts)
}

// Summarize derives the analytics summary of a user from their record and
// the supplied event log.
func (e *Engine) Summarize(userID string, events []interaction.Event) (*analytics.Summary, bool) {
	rec, ok := e.tracker.Get(userID)
	if !ok {
		return nil, false
	}
	return analytics.Summarize(userID, &rec, events)
}

// ExportUser bundles the user's events, record and summary. Progress and
// Summary are nil for users without a record.
func (e *Engine) ExportUser(userID string, events []interaction.Event) Export {
	out := Export{
		UserID:     userID,
		Events:     slices.Clone(events),
		ExportedAt: e.now().UTC(),
	}
	if out.Events == nil {
		out.Events = []interaction.Event{}
	}
	if rec, ok := e.tracker.Get(userID); ok {
		out.Progress = &rec
		out.Summary, _ = analytics.Summarize(userID, &rec, events)
	}
	return out
}

// Restore hydrates the tracker with stored records.
func (e *Engine) Restore(records ...progress.Record) {
	e.tracker.Restore(records...)
}

// Users lists users with a progress record.
func (e *Engine) Users() []string {
	return e.tracker.Users()
}
