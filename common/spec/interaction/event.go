// Package interaction defines the interaction event log entries exchanged
// between the host application and the engine.
//
// An Event is a tagged variant: every entry shares the envelope (ID, UserID,
// TS, Kind) and carries exactly one payload matching its Kind. A card tap by
// the child produces a user event; every generated reply (including the
// session greeting) produces a robot event.
package interaction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category groups communication cards and selects the response pool.
type Category string

// Built-in categories. Catalog overlays and custom content may add more.
const (
	CategoryBasicNeeds  Category = "basic-needs"
	CategoryEmotions    Category = "emotions"
	CategoryActivities  Category = "activities"
	CategoryEducational Category = "educational"
)

// Kind tags the originator of an event.
type Kind string

const (
	KindUser  Kind = "user"
	KindRobot Kind = "robot"
)

// Event is one immutable entry of the interaction log.
type Event struct {
	ID     string    `json:"id,omitempty"`
	UserID string    `json:"user_id"`
	TS     time.Time `json:"ts"`
	Kind   Kind      `json:"kind"`

	User  *UserAction `json:"user,omitempty"`
	Robot *RobotReply `json:"robot,omitempty"`
}

// UserAction is the payload of a user event. CardID is empty for free-form
// actions such as tapping a suggestion chip.
type UserAction struct {
	CardID   string   `json:"card_id,omitempty"`
	Category Category `json:"category,omitempty"`
	Text     string   `json:"text"`
}

// RobotReply is the payload of a robot event. Category and InReplyTo are
// inherited from the user event being answered; both are empty for
// greetings.
type RobotReply struct {
	Text        string   `json:"text"`
	FollowUp    string   `json:"follow_up,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Category    Category `json:"category,omitempty"`
	InReplyTo   string   `json:"in_reply_to,omitempty"`
}

// NewUserEvent builds a user event with a fresh ID.
func NewUserEvent(userID string, ts time.Time, action UserAction) Event {
	return Event{
		ID:     uuid.NewString(),
		UserID: userID,
		TS:     ts.UTC(),
		Kind:   KindUser,
		User:   &action,
	}
}

// NewRobotEvent builds a robot event with a fresh ID.
func NewRobotEvent(userID string, ts time.Time, reply RobotReply) Event {
	return Event{
		ID:     uuid.NewString(),
		UserID: userID,
		TS:     ts.UTC(),
		Kind:   KindRobot,
		Robot:  &reply,
	}
}

// Category returns the category carried by the payload, or "" when none.
func (e Event) Category() Category {
	switch {
	case e.User != nil:
		return e.User.Category
	case e.Robot != nil:
		return e.Robot.Category
	}
	return ""
}

// CardID returns the card of a user event, or the card a robot reply
// answers.
func (e Event) CardID() string {
	switch {
	case e.User != nil:
		return e.User.CardID
	case e.Robot != nil:
		return e.Robot.InReplyTo
	}
	return ""
}

// Text returns the spoken text of the event.
func (e Event) Text() string {
	switch {
	case e.User != nil:
		return e.User.Text
	case e.Robot != nil:
		return e.Robot.Text
	}
	return ""
}

// IsUser reports whether the event originates from the child.
func (e Event) IsUser() bool {
	return e.Kind == KindUser
}

// Validate checks the envelope and that exactly the payload matching Kind is
// present.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("event must not be nil")
	}
	if e.UserID == "" {
		return fmt.Errorf("user_id must not be empty")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts must not be zero")
	}
	switch e.Kind {
	case KindUser:
		if e.User == nil || e.Robot != nil {
			return fmt.Errorf("user event must carry only a user payload")
		}
	case KindRobot:
		if e.Robot == nil || e.User != nil {
			return fmt.Errorf("robot event must carry only a robot payload")
		}
		if e.Robot.Text == "" {
			return fmt.Errorf("robot reply text must not be empty")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

// ParseEvent decodes a JSON-encoded event, checking it against the event
// JSON schema first and the Go invariants second. Events without an ID are
// assigned one.
func ParseEvent(data []byte) (*Event, error) {
	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("interaction schema: %w", err)
	}

	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("interaction parse: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("interaction validate: %w", err)
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	evt.TS = evt.TS.UTC()
	return &evt, nil
}
