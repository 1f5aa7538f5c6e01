// Package supervisor implements the operational loop that drives a stuck
// session back to progress: acquire lock, check liveness, diagnose,
// escalate or suggest, verify, release.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ralphops/ralphctl/internal/audit"
	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/ralphops/ralphctl/internal/domain/events"
	"github.com/ralphops/ralphctl/internal/domain/ports"
	"github.com/ralphops/ralphctl/internal/escalate"
	"github.com/ralphops/ralphctl/internal/heartbeat"
	"github.com/ralphops/ralphctl/internal/lock"
	"github.com/rs/zerolog/log"
)

// Exit codes of the supervisory loop.
const (
	ExitOK             = 0 // unblocked, or the operator declined further action
	ExitManualRequired = 1 // not running, lock denied, no response, or manual review
	ExitCriticalAbort  = 2 // critical stuck duration triggered an abort
)

// Prompter asks the operator a yes/no question. Implementations may block
// indefinitely: irreversible actions wait for a human.
type Prompter interface {
	Confirm(prompt string) (bool, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(prompt string) (bool, error)

// Confirm calls f.
func (f PrompterFunc) Confirm(prompt string) (bool, error) { return f(prompt) }

// CommandChannel is the slice of the command channel the supervisor uses.
type CommandChannel interface {
	Dispatch(ctx context.Context, sessionID string, typ commands.Type, payload map[string]string, timeout time.Duration) (*commands.Command, error)
	AwaitResponse(ctx context.Context, commandID string) (*commands.Command, error)
}

// Result is the terminal outcome of one supervisory run.
type Result struct {
	Outcome  string
	ExitCode int
	Snapshot *commands.DiagnosticSnapshot
	Decision *escalate.Decision
}

// Config carries the supervisor's tunables.
type Config struct {
	OwnerID         string
	SessionID       string
	DiagnoseTimeout time.Duration
	CommandTimeout  time.Duration
	// UnblockedBelow is the stuck duration under which a verification
	// diagnose counts as unblocked.
	UnblockedBelow time.Duration
	MaxAttempts    int
}

// Supervisor drives one session through the unblock loop.
type Supervisor struct {
	cfg     Config
	monitor *heartbeat.Monitor
	lock    *lock.Lock
	channel CommandChannel
	engine  *escalate.Engine
	store   *audit.Store
	hub     ports.EventHub
	prompt  Prompter
}

// New creates a supervisor. store, hub may be nil; prompt must not be.
func New(cfg Config, monitor *heartbeat.Monitor, lk *lock.Lock, channel CommandChannel, engine *escalate.Engine, store *audit.Store, hub ports.EventHub, prompt Prompter) *Supervisor {
	if cfg.DiagnoseTimeout <= 0 {
		cfg.DiagnoseTimeout = 30 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.UnblockedBelow <= 0 {
		cfg.UnblockedBelow = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Supervisor{
		cfg:     cfg,
		monitor: monitor,
		lock:    lk,
		channel: channel,
		engine:  engine,
		store:   store,
		hub:     hub,
		prompt:  prompt,
	}
}

// Run executes the supervisory loop to a terminal outcome. Every terminal
// path releases the lock (when held) and writes an audit record.
func (s *Supervisor) Run(ctx context.Context) (Result, error) {
	// checking_liveness
	report := s.monitor.Check(s.cfg.SessionID)
	if report.State == heartbeat.StateDead {
		log.Error().Str("session_id", s.cfg.SessionID).Msg("session is not running")
		return s.finish(Result{Outcome: audit.OutcomeNotRunning, ExitCode: ExitManualRequired}, false), nil
	}
	log.Info().
		Str("session_id", s.cfg.SessionID).
		Str("state", string(report.State)).
		Str("last_status", report.LastStatus).
		Dur("stuck", report.StuckDuration).
		Msg("session liveness checked")

	// locking
	granted, holder, err := s.lock.Acquire(s.cfg.OwnerID)
	if err != nil && !errors.Is(err, domain.ErrLockHeld) {
		return Result{}, fmt.Errorf("acquiring supervisor lock: %w", err)
	}
	if !granted {
		holderID := "unknown"
		if holder != nil {
			holderID = holder.HolderID
		}
		log.Error().Str("holder", holderID).Msg("another supervisor is active")
		return s.finish(Result{Outcome: audit.OutcomeLockDenied, ExitCode: ExitManualRequired}, false), nil
	}
	defer func() {
		if err := s.lock.Release(s.cfg.OwnerID); err != nil {
			log.Warn().Err(err).Msg("lock release failed")
		}
	}()

	// diagnosing (retried exactly once on failure)
	snap, err := s.diagnose(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("diagnose failed, retrying once")
		snap, err = s.diagnose(ctx)
	}
	if err != nil {
		log.Error().Err(err).Msg("session did not respond to diagnose")
		return s.finish(Result{Outcome: audit.OutcomeNoResponse, ExitCode: ExitManualRequired}, true), nil
	}

	return s.unblockLoop(ctx, snap)
}

// unblockLoop runs escalation_check → suggest → verify until a terminal
// outcome. Bounded by attempt count, not wall clock, beyond the critical
// abort path.
func (s *Supervisor) unblockLoop(ctx context.Context, snap *commands.DiagnosticSnapshot) (Result, error) {
	attempts := 0
	for {
		decision := s.engine.Decide(*snap, attempts)
		log.Info().
			Str("action", string(decision.Action)).
			Str("reason", decision.Reason).
			Int("attempts", attempts).
			Msg("escalation decision")

		result := Result{Snapshot: snap, Decision: &decision}

		if decision.Critical {
			confirmed, err := s.prompt.Confirm(fmt.Sprintf(
				"session %s stuck %ds, abort it?", s.cfg.SessionID, snap.StuckDuration))
			if err != nil {
				return Result{}, fmt.Errorf("abort confirmation: %w", err)
			}
			if !confirmed {
				result.Outcome = audit.OutcomeUserAborted
				result.ExitCode = ExitOK
				return s.finish(result, true), nil
			}
			if err := s.abort(ctx); err != nil {
				log.Warn().Err(err).Msg("abort dispatch failed")
			}
			result.Outcome = audit.OutcomeAborted
			result.ExitCode = ExitCriticalAbort
			return s.finish(result, true), nil
		}

		if decision.AttemptsExhausted || decision.Action == escalate.ActionManualReview {
			result.Outcome = audit.OutcomeManualRequired
			result.ExitCode = ExitManualRequired
			return s.finish(result, true), nil
		}

		// suggesting
		if err := s.suggest(ctx, decision, snap); err != nil {
			log.Warn().Err(err).Msg("suggestion dispatch failed")
		}
		attempts++

		// verifying
		fresh, err := s.diagnose(ctx)
		if err != nil {
			result.Outcome = audit.OutcomeNoResponse
			result.ExitCode = ExitManualRequired
			return s.finish(result, true), nil
		}
		snap = fresh

		if s.unblocked(fresh) {
			result.Snapshot = fresh
			result.Outcome = audit.OutcomeUnblocked
			result.ExitCode = ExitOK
			return s.finish(result, true), nil
		}

		retry, err := s.prompt.Confirm(fmt.Sprintf(
			"session %s still stuck (%ds), try again?", s.cfg.SessionID, fresh.StuckDuration))
		if err != nil {
			return Result{}, fmt.Errorf("retry confirmation: %w", err)
		}
		if !retry {
			result.Snapshot = fresh
			result.Outcome = audit.OutcomeUserAborted
			result.ExitCode = ExitOK
			return s.finish(result, true), nil
		}
	}
}

// diagnose dispatches one diagnose command and waits for its outcome.
func (s *Supervisor) diagnose(ctx context.Context) (*commands.DiagnosticSnapshot, error) {
	cmd, err := s.channel.Dispatch(ctx, s.cfg.SessionID, commands.TypeDiagnose, nil, s.cfg.DiagnoseTimeout)
	if err != nil {
		return nil, err
	}
	done, err := s.channel.AwaitResponse(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}
	switch done.Status {
	case commands.StatusCompleted:
		if done.Result == nil {
			return &commands.DiagnosticSnapshot{}, nil
		}
		snap := done.Result.Snapshot()
		return &snap, nil
	case commands.StatusTimeout:
		return nil, domain.ErrTimeout
	default:
		return nil, fmt.Errorf("diagnose %s: %s", done.Status, done.Error)
	}
}

// suggest dispatches the chosen remedial action to the session.
func (s *Supervisor) suggest(ctx context.Context, decision escalate.Decision, snap *commands.DiagnosticSnapshot) error {
	payload := map[string]string{
		"action": string(decision.Action),
		"reason": decision.Reason,
	}
	if snap.CurrentTask != "" {
		payload["task"] = snap.CurrentTask
	}
	cmd, err := s.channel.Dispatch(ctx, s.cfg.SessionID, commands.TypeSuggest, payload, s.cfg.CommandTimeout)
	if err != nil {
		return err
	}
	done, err := s.channel.AwaitResponse(ctx, cmd.ID)
	if err != nil {
		return err
	}
	if done.Status != commands.StatusCompleted {
		return fmt.Errorf("suggest %s: %s", done.Status, done.Error)
	}
	return nil
}

// abort dispatches the abort command. Only reached after explicit operator
// confirmation; abort is not safe to double-apply.
func (s *Supervisor) abort(ctx context.Context) error {
	cmd, err := s.channel.Dispatch(ctx, s.cfg.SessionID, commands.TypeAbort, nil, s.cfg.CommandTimeout)
	if err != nil {
		return err
	}
	_, err = s.channel.AwaitResponse(ctx, cmd.ID)
	return err
}

// unblocked decides whether a verification snapshot shows progress again.
func (s *Supervisor) unblocked(snap *commands.DiagnosticSnapshot) bool {
	return snap.StuckDuration == 0 ||
		(time.Duration(snap.StuckDuration)*time.Second < s.cfg.UnblockedBelow && snap.LastError == "")
}

// finish records the terminal outcome: audit entry plus a session_outcome
// event. lockHeld only affects logging; release happens in Run's defer.
func (s *Supervisor) finish(result Result, lockHeld bool) Result {
	stuck := 0
	lastError := ""
	if result.Snapshot != nil {
		stuck = result.Snapshot.StuckDuration
		lastError = result.Snapshot.LastError
	}

	log.Info().
		Str("session_id", s.cfg.SessionID).
		Str("outcome", result.Outcome).
		Int("exit_code", result.ExitCode).
		Bool("lock_held", lockHeld).
		Msg("supervisory run finished")

	if s.store != nil {
		if err := s.store.Append(s.cfg.SessionID, s.cfg.OwnerID, result.Outcome, result.Snapshot); err != nil {
			log.Warn().Err(err).Msg("audit append failed")
		}
	}
	if s.hub != nil {
		s.hub.Publish(events.NewSessionOutcomeEvent(s.cfg.SessionID, result.Outcome, stuck, lastError))
	}
	return result
}
