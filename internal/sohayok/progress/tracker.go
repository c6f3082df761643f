package progress

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
)

type entry struct {
	mu  sync.Mutex
	rec Record
}

// Tracker owns the progress records of all users. It is safe for concurrent
// use: the user map has its own lock and every record is guarded separately,
// so calls for different users do not contend.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewTracker creates an empty tracker. If logger is nil, the default slog
// logger is used.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Record applies one user action and returns a copy of the updated record.
// The record is created on first use. Call it once per genuine action: the
// update is not idempotent.
func (t *Tracker) Record(userID string, cat interaction.Category, cardID string, at time.Time) Record {
	e, created := t.entry(userID, at)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Apply(cat, cardID, at)

	if created {
		t.logger.Info("progress: tracking new user", "user_id", userID)
	}
	t.logger.Debug("progress: recorded interaction",
		"user_id", userID,
		"category", cat,
		"card_id", cardID,
		"total", e.rec.TotalInteractions,
	)
	return e.rec.Clone()
}

// Observe records a user event. Robot events are ignored and reported as
// not applied.
func (t *Tracker) Observe(evt interaction.Event) (Record, bool) {
	if !evt.IsUser() || evt.User == nil {
		return Record{}, false
	}
	return t.Record(evt.UserID, evt.User.Category, evt.User.CardID, evt.TS), true
}

// Get returns a copy of the stored record.
func (t *Tracker) Get(userID string) (Record, bool) {
	t.mu.RLock()
	e, ok := t.entries[userID]
	t.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), true
}

// GetOrEmpty returns the stored record, or a fresh empty one that is not
// stored.
func (t *Tracker) GetOrEmpty(userID string, now time.Time) Record {
	if rec, ok := t.Get(userID); ok {
		return rec
	}
	return New(userID, now)
}

// SetLearningGoals overwrites the goals of an existing record and refreshes
// its LastActive. Unknown users are left alone and false is returned.
func (t *Tracker) SetLearningGoals(userID string, goals []string, at time.Time) (Record, bool) {
	t.mu.RLock()
	e, ok := t.entries[userID]
	t.mu.RUnlock()
	if !ok {
		t.logger.Debug("progress: goals ignored for unknown user", "user_id", userID)
		return Record{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.SetLearningGoals(goals, at)
	return e.rec.Clone(), true
}

// Preview returns the record Record would produce for the action without
// storing anything. Put commits it.
func (t *Tracker) Preview(userID string, cat interaction.Category, cardID string, at time.Time) Record {
	rec := t.GetOrEmpty(userID, at)
	rec.Apply(cat, cardID, at)
	return rec
}

// PreviewLearningGoals is the uncommitted form of SetLearningGoals.
func (t *Tracker) PreviewLearningGoals(userID string, goals []string, at time.Time) (Record, bool) {
	rec, ok := t.Get(userID)
	if !ok {
		return Record{}, false
	}
	rec.SetLearningGoals(goals, at)
	return rec, true
}

// Put stores a copy of rec, replacing the user's current record. Callers
// pairing Preview with Put must serialize calls for the same user.
func (t *Tracker) Put(rec Record) {
	e, created := t.entry(rec.UserID, rec.LastActive)
	e.mu.Lock()
	e.rec = rec.Clone()
	e.mu.Unlock()

	if created {
		t.logger.Info("progress: tracking new user", "user_id", rec.UserID)
	}
}

// Restore loads records into the tracker, replacing any held for the same
// users.
func (t *Tracker) Restore(records ...Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range records {
		t.entries[rec.UserID] = &entry{rec: rec.Clone()}
	}
	if len(records) > 0 {
		t.logger.Info("progress: restored records", "count", len(records))
	}
}

// Users lists tracked user IDs in sorted order.
func (t *Tracker) Users() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.entries))
	for id := range t.entries {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (t *Tracker) entry(userID string, at time.Time) (*entry, bool) {
	t.mu.RLock()
	e, ok := t.entries[userID]
	t.mu.RUnlock()
	if ok {
		return e, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[userID]; ok {
		return e, false
	}
	rec := New(userID, at)
	e = &entry{rec: rec}
	t.entries[userID] = e
	return e, true
}
