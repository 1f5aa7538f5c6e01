package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/ralphops/ralphctl/internal/heartbeat"
	"github.com/rs/zerolog/log"
)

// ControlHandler applies one control command on the session side and
// returns the response payload. Returning an error produces a failed
// response carrying the error text.
type ControlHandler interface {
	Apply(ctx context.Context, typ commands.Type, payload map[string]string) (commands.ResponsePayload, error)
}

// ControlHandlerFunc adapts a function to the ControlHandler interface.
type ControlHandlerFunc func(ctx context.Context, typ commands.Type, payload map[string]string) (commands.ResponsePayload, error)

// Apply calls f.
func (f ControlHandlerFunc) Apply(ctx context.Context, typ commands.Type, payload map[string]string) (commands.ResponsePayload, error) {
	return f(ctx, typ, payload)
}

// Responder is the session-side end of the file transport: it consumes
// command artifacts, applies them through the handler, and writes response
// artifacts. One responder serves one session.
type Responder struct {
	sessionID string
	transport *FileTransport
	handler   ControlHandler
	recorder  *heartbeat.Recorder
}

// NewResponder creates a responder. recorder may be nil; when set, command
// processing is reflected in the session's heartbeat record.
func NewResponder(sessionID string, transport *FileTransport, handler ControlHandler, recorder *heartbeat.Recorder) *Responder {
	return &Responder{
		sessionID: sessionID,
		transport: transport,
		handler:   handler,
		recorder:  recorder,
	}
}

// Run consumes and answers command artifacts until ctx is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	for {
		msg, err := r.next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		r.answer(ctx, msg)
	}
}

// next waits for and consumes the next command artifact.
func (r *Responder) next(ctx context.Context) (*commands.DispatchMessage, error) {
	path := r.transport.CommandPath(r.sessionID)

	var data []byte
	for {
		if err := waitForFile(ctx, path, r.transport.pollInterval); err != nil {
			return nil, err
		}

		var err error
		data, err = os.ReadFile(path)
		if err == nil {
			break
		}
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return nil, fmt.Errorf("reading command artifact: %w", err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("command artifact not cleared")
	}

	var msg commands.DispatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parsing command artifact: %w", err)
	}
	return &msg, nil
}

// answer applies the command and writes the response artifact. Handler
// failures become failed responses, not responder crashes.
func (r *Responder) answer(ctx context.Context, msg *commands.DispatchMessage) {
	log.Debug().
		Str("command_id", msg.CommandID).
		Str("type", string(msg.Type)).
		Str("helper_id", msg.HelperID).
		Msg("control command received")

	if r.recorder != nil {
		r.recorder.Record(fmt.Sprintf("handling %s", msg.Type))
	}

	var payload commands.ResponsePayload
	var err error
	if r.handler != nil {
		payload, err = r.handler.Apply(ctx, msg.Type, msg.Payload)
	} else {
		payload = commands.ResponsePayload{Status: "ok"}
	}
	if err != nil {
		payload = commands.ResponsePayload{Status: "failed", LastError: err.Error()}
		log.Warn().Err(err).Str("command_id", msg.CommandID).Msg("control command failed")
	}
	if payload.Status == "" {
		payload.Status = "ok"
	}

	if werr := r.writeResponse(msg.CommandID, payload); werr != nil {
		log.Error().Err(werr).Str("command_id", msg.CommandID).Msg("response artifact write failed")
	}
}

// writeResponse replaces the session's response artifact via tmp+rename.
func (r *Responder) writeResponse(commandID string, payload commands.ResponsePayload) error {
	data, err := json.Marshal(commands.ResponseMessage{CommandID: commandID, Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}

	path := r.transport.ResponsePath(r.sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing response artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publishing response artifact: %w", err)
	}
	return nil
}
