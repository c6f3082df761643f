// Package server runs the JSON-lines command loop on top of the host app.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bdobrica/Sohayok/common/spec/command"
	"github.com/bdobrica/Sohayok/common/spec/interaction"
	"github.com/bdobrica/Sohayok/common/trace"
	"github.com/bdobrica/Sohayok/internal/sohayok/app"
	"github.com/bdobrica/Sohayok/internal/sohayok/content"
)

// maxLineSize bounds one request line.
const maxLineSize = 1 << 20

// Server dispatches commands to an App.
type Server struct {
	app    *app.App
	logger *slog.Logger
}

// New creates a Server. If logger is nil, the default slog logger is used.
func New(a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{app: a, logger: logger}
}

// Serve reads requests from r until EOF or ctx is cancelled and writes one
// response line per request to w. Malformed and oversize lines get an error
// response; only I/O failures end the loop with an error. On cancellation
// Serve returns at once and abandons any read still blocked on r.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	done := make(chan struct{})
	defer close(done)
	lines := make(chan request)
	go readRequests(r, lines, done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-lines:
			if !ok {
				return nil
			}
			if req.err != nil {
				return fmt.Errorf("server: read requests: %w", req.err)
			}
			if err := enc.Encode(s.handleRequest(ctx, req)); err != nil {
				return fmt.Errorf("server: write response: %w", err)
			}
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req request) command.Response {
	if req.tooLong {
		s.logger.Warn("server: rejected oversize request", "max_bytes", maxLineSize)
		return command.Failure("", fmt.Errorf("request line exceeds %d bytes", maxLineSize))
	}
	return s.HandleLine(ctx, req.line)
}

// request is one framed input line. tooLong lines carry no data.
type request struct {
	line    []byte
	tooLong bool
	err     error
}

// readRequests frames r into lines, skipping blank ones, until EOF, a read
// error or done is closed. It closes out when it stops.
func readRequests(r io.Reader, out chan<- request, done <-chan struct{}) {
	defer close(out)
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		req := readLine(br)
		if errors.Is(req.err, io.EOF) {
			return
		}
		if req.err == nil && len(req.line) == 0 && !req.tooLong {
			continue
		}
		select {
		case out <- req:
		case <-done:
			return
		}
		if req.err != nil {
			return
		}
	}
}

// readLine reads one line of any length, keeping at most maxLineSize bytes.
func readLine(br *bufio.Reader) request {
	var req request
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			req.err = err
			return req
		}
		if !req.tooLong {
			if len(req.line)+len(frag) > maxLineSize {
				req.tooLong, req.line = true, nil
			} else {
				req.line = append(req.line, frag...)
			}
		}
		if !isPrefix {
			return req
		}
	}
}

// HandleLine parses and executes one request line.
func (s *Server) HandleLine(ctx context.Context, line []byte) command.Response {
	req, err := command.ParseRequest(line)
	if err != nil {
		id := ""
		if req != nil {
			id = req.ID
		}
		s.logger.Warn("server: rejected request", "error", err)
		return command.Failure(id, err)
	}
	return s.Handle(ctx, req)
}

// Handle executes a validated request.
func (s *Server) Handle(ctx context.Context, req *command.Request) command.Response {
	ctx, traceID := trace.Ensure(ctx)
	result, err := s.dispatch(ctx, req)
	if err != nil {
		s.logger.Warn("server: command failed",
			"trace_id", traceID,
			"cmd", req.Cmd,
			"user_id", req.UserID,
			"error", err,
		)
		return command.Failure(req.ID, err)
	}
	s.logger.Debug("server: command done", "trace_id", traceID, "cmd", req.Cmd, "user_id", req.UserID)
	return command.Success(req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, req *command.Request) (any, error) {
	a := s.app
	switch req.Cmd {
	case command.Greet:
		return a.Greet(ctx, req.UserID, req.SessionID)
	case command.Tap:
		return a.TapCard(ctx, req.UserID, req.SessionID, req.Category, req.CardID)
	case command.Suggest:
		return a.TapSuggestion(ctx, req.UserID, req.SessionID, req.Category, req.Text)
	case command.Log:
		evt, err := interaction.ParseEvent(req.Event)
		if err != nil {
			return nil, err
		}
		return a.LogEvent(ctx, *evt)
	case command.Progress:
		return a.Progress(req.UserID), nil
	case command.Goals:
		rec, ok, err := a.SetLearningGoals(ctx, req.UserID, req.Goals)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("no progress recorded for user %q", req.UserID)
		}
		return rec, nil
	case command.Analytics:
		summary, ok, err := a.Analytics(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("no progress recorded for user %q", req.UserID)
		}
		return summary, nil
	case command.Export:
		return a.Export(ctx, req.UserID)
	case command.History:
		return a.History(ctx, req.UserID, req.Limit)
	case command.EndSession:
		ended, ok := a.EndSession(req.SessionID)
		if !ok {
			return nil, fmt.Errorf("no active session %q", req.SessionID)
		}
		return ended, nil
	case command.ContentCreate:
		var in content.NewItem
		if err := decodeContent(req.Content, &in); err != nil {
			return nil, err
		}
		return a.Content().Create(ctx, in)
	case command.ContentUpdate:
		var upd content.Update
		if err := decodeContent(req.Content, &upd); err != nil {
			return nil, err
		}
		return a.Content().Update(ctx, req.ContentID, upd)
	case command.ContentDelete:
		if err := a.Content().Delete(ctx, req.ContentID); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": req.ContentID}, nil
	case command.ContentList:
		var f content.Filter
		if err := decodeContent(req.Content, &f); err != nil {
			return nil, err
		}
		return a.Content().List(ctx, f)
	}
	return nil, fmt.Errorf("unknown cmd %q", req.Cmd)
}

func decodeContent(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(errors.New("invalid content payload"), err)
	}
	return nil
}
