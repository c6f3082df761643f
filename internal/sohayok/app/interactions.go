package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/analytics"
	"github.com/bdobrica/Sohayok/internal/sohayok/conversation"
	"github.com/bdobrica/Sohayok/internal/sohayok/engine"
	"github.com/bdobrica/Sohayok/internal/sohayok/logging"
	"github.com/bdobrica/Sohayok/internal/sohayok/progress"
)

// SuggestionCardID stands in for the card of a suggestion tap. No catalog
// card carries it, so replies come from the encouragement pool.
const SuggestionCardID = "suggestion"

// Turn is the outcome of one child action: the logged user event, the
// robot's reply and the updated progress.
type Turn struct {
	Response   conversation.Response `json:"response"`
	UserEvent  interaction.Event     `json:"user_event"`
	RobotEvent interaction.Event     `json:"robot_event"`
	Progress   progress.Record       `json:"progress"`
}

// Greet opens a session with a greeting and logs it as a robot event. The
// session is not opened when the event cannot be stored.
func (a *App) Greet(ctx context.Context, userID, sessionID string) (interaction.Event, error) {
	if userID == "" {
		return interaction.Event{}, fmt.Errorf("app: greet: user id must not be empty")
	}
	unlock := a.locks.lock(userID)
	defer unlock()

	sid := sessionOf(userID, sessionID)
	snap := a.engine.SnapshotSession(sid)
	text := a.engine.GreetSession(sid)
	evt := interaction.NewRobotEvent(userID, a.now(), interaction.RobotReply{Text: text})
	if err := a.appendEvent(ctx, evt); err != nil {
		a.engine.RewindSession(snap)
		return interaction.Event{}, err
	}
	a.logger.Debug("app: greeted", "user_id", userID, "session_id", sessionID)
	return evt, nil
}

// TapCard runs the card pipeline: log the child's selection, answer it,
// log the answer and record progress.
func (a *App) TapCard(ctx context.Context, userID, sessionID string, cat interaction.Category, cardID string) (*Turn, error) {
	if userID == "" || cardID == "" {
		return nil, fmt.Errorf("app: tap card: user id and card id must not be empty")
	}
	text := cardID
	if card, ok := a.engine.Catalog().Card(cat, cardID); ok {
		text = card.SpokenText()
	}
	return a.turn(ctx, userID, sessionID, interaction.UserAction{CardID: cardID, Category: cat, Text: text}, cardID)
}

// TapSuggestion runs the pipeline for a suggestion chip. The chip text is
// logged as said by the child; progress records the category only.
func (a *App) TapSuggestion(ctx context.Context, userID, sessionID string, cat interaction.Category, text string) (*Turn, error) {
	if userID == "" || text == "" {
		return nil, fmt.Errorf("app: tap suggestion: user id and text must not be empty")
	}
	return a.turn(ctx, userID, sessionID, interaction.UserAction{Category: cat, Text: text}, SuggestionCardID)
}

// turn stores both events and the new progress record in one transaction
// and only then commits the record and the session context in memory. On
// failure nothing is stored or kept, so the caller may retry the action.
func (a *App) turn(ctx context.Context, userID, sessionID string, action interaction.UserAction, replyCard string) (*Turn, error) {
	unlock := a.locks.lock(userID)
	defer unlock()

	sid := sessionOf(userID, sessionID)
	userEvt := interaction.NewUserEvent(userID, a.now(), action)

	snap := a.engine.SnapshotSession(sid)
	resp := a.engine.GenerateResponse(sid, replyCard, action.Category)
	robotEvt := interaction.NewRobotEvent(userID, a.now(), interaction.RobotReply{
		Text:        resp.Text,
		FollowUp:    resp.FollowUp,
		Suggestions: resp.Suggestions,
		Category:    action.Category,
		InReplyTo:   action.CardID,
	})

	rec, err := a.track(ctx, userEvt, robotEvt)
	if err != nil {
		a.engine.RewindSession(snap)
		return nil, err
	}
	return &Turn{Response: resp, UserEvent: userEvt, RobotEvent: robotEvt, Progress: rec}, nil
}

// LogEvent appends a host-produced event. User events update progress;
// robot events are only logged.
func (a *App) LogEvent(ctx context.Context, evt interaction.Event) (interaction.Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	evt.TS = evt.TS.UTC()
	if err := evt.Validate(); err != nil {
		return interaction.Event{}, fmt.Errorf("app: log event: %w", err)
	}

	unlock := a.locks.lock(evt.UserID)
	defer unlock()

	if !evt.IsUser() {
		if err := a.appendEvent(ctx, evt); err != nil {
			return interaction.Event{}, err
		}
		return evt, nil
	}
	if _, err := a.track(ctx, evt); err != nil {
		return interaction.Event{}, err
	}
	return evt, nil
}

// track stores userEvt, any further events and the progress record it
// produces, then commits the record to the engine. Must be called with the
// user's lock held.
func (a *App) track(ctx context.Context, userEvt interaction.Event, more ...interaction.Event) (progress.Record, error) {
	before := a.engine.GetProgress(userEvt.UserID)
	rec := a.engine.PlanInteraction(userEvt.UserID, userEvt.User.Category, userEvt.User.CardID, userEvt.TS)

	events := append([]interaction.Event{userEvt}, more...)
	if err := a.write(ctx, func() error { return a.store.SaveTurn(ctx, rec, events...) }); err != nil {
		return progress.Record{}, fmt.Errorf("app: save turn: %w", err)
	}
	a.engine.CommitProgress(rec)

	if cat := userEvt.User.Category; cat != "" && !slices.Contains(before.CategoriesUsed, cat) {
		a.logger.Info("app: child used a new category",
			"user_id", userEvt.UserID,
			"category", cat,
			"total_interactions", rec.TotalInteractions,
			logging.Notify(),
		)
	}
	return rec, nil
}

// Ingest logs events in bulk. Users are processed in parallel; the events
// of one user keep their order.
func (a *App) Ingest(ctx context.Context, events []interaction.Event) (int, error) {
	byUser := map[string][]interaction.Event{}
	var order []string
	for _, evt := range events {
		if _, ok := byUser[evt.UserID]; !ok {
			order = append(order, evt.UserID)
		}
		byUser[evt.UserID] = append(byUser[evt.UserID], evt)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, userID := range order {
		batch := byUser[userID]
		g.Go(func() error {
			for i, evt := range batch {
				if _, err := a.LogEvent(gctx, evt); err != nil {
					return fmt.Errorf("user %s event %d: %w", userID, i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("app: ingest: %w", err)
	}
	a.logger.Info("app: ingested events", "events", len(events), "users", len(order))
	return len(events), nil
}

// History returns the most recent events of a user, oldest first. A
// non-positive limit uses the configured default.
func (a *App) History(ctx context.Context, userID string, limit int) ([]interaction.Event, error) {
	if limit <= 0 {
		limit = a.cfg.History.DefaultLimit
	}
	events, err := a.store.ListEvents(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("app: history: %w", err)
	}
	return events, nil
}

// Progress returns the user's record, or an empty one for unknown users.
func (a *App) Progress(userID string) progress.Record {
	return a.engine.GetProgress(userID)
}

// SetLearningGoals replaces the goals of a known user and persists them.
// Unknown users are left alone and false is returned.
func (a *App) SetLearningGoals(ctx context.Context, userID string, goals []string) (progress.Record, bool, error) {
	unlock := a.locks.lock(userID)
	defer unlock()

	rec, ok := a.engine.PlanLearningGoals(userID, goals, a.now())
	if !ok {
		return progress.Record{}, false, nil
	}
	if err := a.write(ctx, func() error { return a.store.SaveProgress(ctx, rec) }); err != nil {
		return progress.Record{}, false, fmt.Errorf("app: save goals: %w", err)
	}
	a.engine.CommitProgress(rec)
	a.logger.Info("app: learning goals updated", "user_id", userID, "goals", len(goals))
	return rec, true, nil
}

// Analytics summarizes the user's whole log.
func (a *App) Analytics(ctx context.Context, userID string) (*analytics.Summary, bool, error) {
	if !a.engine.HasProgress(userID) {
		return nil, false, nil
	}
	events, err := a.store.ListEvents(ctx, userID, 0)
	if err != nil {
		return nil, false, fmt.Errorf("app: analytics: %w", err)
	}
	s, ok := a.engine.Summarize(userID, events)
	return s, ok, nil
}

// Export bundles the user's most recent events, progress and analytics.
// The analytics cover the whole log; the event list is capped at the
// configured export limit.
func (a *App) Export(ctx context.Context, userID string) (engine.Export, error) {
	all, err := a.store.ListEvents(ctx, userID, 0)
	if err != nil {
		return engine.Export{}, fmt.Errorf("app: export: %w", err)
	}
	out := a.engine.ExportUser(userID, all)
	if n := len(out.Events); n > a.cfg.History.ExportLimit {
		out.Events = out.Events[n-a.cfg.History.ExportLimit:]
	}
	return out, nil
}

// EndSession closes a session and returns its final context.
func (a *App) EndSession(sessionID string) (conversation.Ended, bool) {
	return a.engine.EndSession(sessionID)
}

// sessionOf defaults the session to the user when the host has none.
func sessionOf(userID, sessionID string) string {
	if sessionID == "" {
		return userID
	}
	return sessionID
}
