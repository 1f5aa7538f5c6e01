package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/ralphops/ralphctl/internal/domain/ports"
	"github.com/ralphops/ralphctl/internal/pathutil"
	"github.com/rs/zerolog/log"
)

const (
	commandFileName  = "command.json"
	responseFileName = "response.json"
)

// FileTransport exchanges commands with a session through its state
// directory: the supervisor writes <dir>/command.json, the agent replaces it
// with <dir>/response.json. The response artifact is consumed at most once
// (read, then removed).
type FileTransport struct {
	baseDir      string
	pollInterval time.Duration
}

// NewFileTransport creates a file-artifact transport rooted at baseDir. Each
// session exchanges artifacts under baseDir/<sessionID>.
func NewFileTransport(baseDir string, pollInterval time.Duration) *FileTransport {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &FileTransport{baseDir: baseDir, pollInterval: pollInterval}
}

// CommandPath returns the command artifact path for a session.
func (t *FileTransport) CommandPath(sessionID string) string {
	return filepath.Join(t.sessionDir(sessionID), commandFileName)
}

// ResponsePath returns the response artifact path for a session.
func (t *FileTransport) ResponsePath(sessionID string) string {
	return filepath.Join(t.sessionDir(sessionID), responseFileName)
}

// sessionDir maps a session id to its artifact directory. Ids are encoded so
// a hostile or sloppy id cannot escape the base directory.
func (t *FileTransport) sessionDir(sessionID string) string {
	return filepath.Join(t.baseDir, pathutil.EncodeID(sessionID))
}

// Send writes the dispatch message as the session's command artifact. The
// write goes through a tmp file and rename so the agent never reads a
// partial command.
func (t *FileTransport) Send(_ context.Context, sessionID string, msg *commands.DispatchMessage) error {
	if err := os.MkdirAll(t.sessionDir(sessionID), 0o755); err != nil {
		return domain.NewTransportError("dispatch", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding dispatch message: %w", err)
	}

	path := t.CommandPath(sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return domain.NewTransportError("dispatch", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return domain.NewTransportError("dispatch", err)
	}

	log.Trace().Str("path", path).Str("command_id", msg.CommandID).Msg("command artifact written")
	return nil
}

// Receive waits for the session's response artifact, consumes it, and
// returns the parsed message.
func (t *FileTransport) Receive(ctx context.Context, sessionID string) (*commands.ResponseMessage, error) {
	path := t.ResponsePath(sessionID)

	var data []byte
	for {
		if err := waitForFile(ctx, path, t.pollInterval); err != nil {
			return nil, err
		}

		var err error
		data, err = os.ReadFile(path)
		if err == nil {
			break
		}
		if errors.Is(err, os.ErrNotExist) {
			// Lost a race with another reader; responses are single-reader
			// by contract, so go back to waiting.
			continue
		}
		return nil, domain.NewTransportError("receive", err)
	}

	// Clear upon read: at-most-once consumption per response.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("response artifact not cleared")
	}

	msg, err := commands.ParseResponse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing response artifact: %w", err)
	}
	return msg, nil
}

// Ensure FileTransport implements ports.CommandTransport.
var _ ports.CommandTransport = (*FileTransport)(nil)
