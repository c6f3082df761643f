package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/internal/sohayok/progress"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppendEvent adds an event to the interaction log.
func (s *Store) AppendEvent(ctx context.Context, evt interaction.Event) error {
	return appendEvent(ctx, s.db, evt)
}

// SaveTurn appends events and saves the progress record they produced in
// one transaction. Either everything is stored or nothing is.
func (s *Store) SaveTurn(ctx context.Context, rec progress.Record, events ...interaction.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, evt := range events {
		if err := appendEvent(ctx, tx, evt); err != nil {
			return err
		}
	}
	if err := saveProgress(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

func appendEvent(ctx context.Context, db execer, evt interaction.Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if evt.ID == "" {
		return fmt.Errorf("invalid event: id must not be empty")
	}

	var (
		cardID, text, followUp, inReplyTo string
		category                          interaction.Category
		suggestions                       []string
	)
	switch {
	case evt.User != nil:
		cardID, category, text = evt.User.CardID, evt.User.Category, evt.User.Text
	case evt.Robot != nil:
		text, followUp, category, inReplyTo = evt.Robot.Text, evt.Robot.FollowUp, evt.Robot.Category, evt.Robot.InReplyTo
		suggestions = evt.Robot.Suggestions
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	sugJSON, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("failed to encode suggestions: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO interaction_events
			(id, user_id, ts, kind, card_id, category, text, follow_up, suggestions, in_reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.ID, evt.UserID, formatTime(evt.TS), string(evt.Kind), cardID, string(category),
		text, followUp, string(sugJSON), inReplyTo, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events of a user, oldest first. A
// non-positive limit returns the whole log.
func (s *Store) ListEvents(ctx context.Context, userID string, limit int) ([]interaction.Event, error) {
	query := `
		SELECT id, user_id, ts, kind, card_id, category, text, follow_up, suggestions, in_reply_to
		FROM interaction_events
		WHERE user_id = ?
		ORDER BY ts DESC, seq DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(events)
	return events, nil
}

// CountEvents returns the number of logged events of a user.
func (s *Store) CountEvents(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM interaction_events WHERE user_id = ?", userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]interaction.Event, error) {
	events := []interaction.Event{}
	for rows.Next() {
		var (
			evt                                                     interaction.Event
			ts, kind, cardID, category, text, followUp, sugJSON, re string
		)
		if err := rows.Scan(&evt.ID, &evt.UserID, &ts, &kind, &cardID, &category, &text, &followUp, &sugJSON, &re); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		evt.TS = t
		evt.Kind = interaction.Kind(kind)

		switch evt.Kind {
		case interaction.KindUser:
			evt.User = &interaction.UserAction{
				CardID:   cardID,
				Category: interaction.Category(category),
				Text:     text,
			}
		case interaction.KindRobot:
			var suggestions []string
			if err := json.Unmarshal([]byte(sugJSON), &suggestions); err != nil {
				return nil, fmt.Errorf("failed to decode suggestions of event %s: %w", evt.ID, err)
			}
			evt.Robot = &interaction.RobotReply{
				Text:        text,
				FollowUp:    followUp,
				Suggestions: suggestions,
				Category:    interaction.Category(category),
				InReplyTo:   re,
			}
		default:
			return nil, fmt.Errorf("event %s has unknown kind %q", evt.ID, kind)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
