// Package command defines the JSON-lines envelope spoken by `sohayok serve`.
// Each input line is a Request; each output line is the matching Response.
package command

import (
	"encoding/json"
	"fmt"

	"github.com/bdobrica/Sohayok/common/spec/interaction"
)

// Name selects the operation of a request.
type Name string

const (
	Greet      Name = "greet"
	Tap        Name = "tap"
	Suggest    Name = "suggest"
	Log        Name = "log"
	Progress   Name = "progress"
	Goals      Name = "goals"
	Analytics  Name = "analytics"
	Export     Name = "export"
	History    Name = "history"
	EndSession Name = "end_session"

	ContentCreate Name = "content_create"
	ContentUpdate Name = "content_update"
	ContentDelete Name = "content_delete"
	ContentList   Name = "content_list"
)

// Request is one command line.
type Request struct {
	// ID is echoed in the response so callers can pipeline requests.
	ID string `json:"id,omitempty"`

	Cmd Name `json:"cmd"`

	UserID    string               `json:"user_id,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
	Category  interaction.Category `json:"category,omitempty"`
	CardID    string               `json:"card_id,omitempty"`
	Text      string               `json:"text,omitempty"`
	Goals     []string             `json:"goals,omitempty"`
	Limit     int                  `json:"limit,omitempty"`

	// Event carries an interaction event for Log.
	Event json.RawMessage `json:"event,omitempty"`

	// ContentID addresses an item for ContentUpdate and ContentDelete.
	ContentID string `json:"content_id,omitempty"`
	// Content carries the item, update or filter of a content command.
	Content json.RawMessage `json:"content,omitempty"`
}

// Response answers one Request.
type Response struct {
	ID     string `json:"id,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Validate checks that the fields required by Cmd are present.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("request must not be nil")
	}
	switch r.Cmd {
	case Greet, Progress, Analytics, Export, History:
		return r.require("user_id", r.UserID)
	case Tap:
		if err := r.require("user_id", r.UserID); err != nil {
			return err
		}
		return r.require("card_id", r.CardID)
	case Suggest:
		if err := r.require("user_id", r.UserID); err != nil {
			return err
		}
		return r.require("text", r.Text)
	case Goals:
		if err := r.require("user_id", r.UserID); err != nil {
			return err
		}
		if r.Goals == nil {
			return fmt.Errorf("goals: goals must be present")
		}
		return nil
	case Log:
		if len(r.Event) == 0 {
			return fmt.Errorf("log: event must not be empty")
		}
		return nil
	case EndSession:
		return r.require("session_id", r.SessionID)
	case ContentCreate:
		if len(r.Content) == 0 {
			return fmt.Errorf("content_create: content must not be empty")
		}
		return nil
	case ContentUpdate, ContentDelete:
		return r.require("content_id", r.ContentID)
	case ContentList:
		return nil
	case "":
		return fmt.Errorf("cmd must not be empty")
	default:
		return fmt.Errorf("unknown cmd %q", r.Cmd)
	}
}

func (r *Request) require(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s: %s must not be empty", r.Cmd, field)
	}
	return nil
}

// ParseRequest decodes a JSON-encoded request and validates it.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("command parse: %w", err)
	}
	if err := req.Validate(); err != nil {
		return &req, fmt.Errorf("command validate: %w", err)
	}
	return &req, nil
}

// Success builds a successful response.
func Success(id string, result any) Response {
	return Response{ID: id, OK: true, Result: result}
}

// Failure builds an error response.
func Failure(id string, err error) Response {
	return Response{ID: id, OK: false, Error: err.Error()}
}
