// Package escalate turns diagnostic snapshots into remedial actions.
package escalate

import (
	"fmt"
	"strings"

	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/rs/zerolog/log"
)

// Action is a remedial action recommendation.
type Action string

const (
	// ActionRetry: minor, transient issue; retry without notifying anyone.
	ActionRetry Action = "retry"
	// ActionUseMock: the agent is blocked on an external dependency or
	// timeout; suggest synthetic data so it can proceed.
	ActionUseMock Action = "use_mock"
	// ActionManualReview: ambiguous or structural issue requiring a human.
	ActionManualReview Action = "manual_review"
	// ActionAbort: the session has been stuck past the critical threshold.
	// Always subject to human confirmation before any abort is dispatched.
	ActionAbort Action = "abort"
)

// Decision is the engine's verdict for one diagnostic snapshot.
type Decision struct {
	Action Action
	// Critical is set when the critical stuck threshold was exceeded; the
	// action is then abort regardless of pattern matching.
	Critical bool
	// AttemptsExhausted is set when the unblock-attempt cap was reached.
	AttemptsExhausted bool
	Reason            string
}

// Engine evaluates an ordered rule list plus stuck-duration thresholds.
// Thresholds are configuration inputs so operators can tune sensitivity.
type Engine struct {
	rules                []Rule
	stuckMockSeconds     int
	criticalStuckSeconds int
	maxUnblockAttempts   int
}

// New creates an escalation engine. Pass nil rules to use the defaults.
func New(rules []Rule, stuckMockSeconds, criticalStuckSeconds, maxUnblockAttempts int) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	if stuckMockSeconds <= 0 {
		stuckMockSeconds = 1800
	}
	if criticalStuckSeconds <= 0 {
		criticalStuckSeconds = 3600
	}
	if maxUnblockAttempts <= 0 {
		maxUnblockAttempts = 3
	}
	return &Engine{
		rules:                rules,
		stuckMockSeconds:     stuckMockSeconds,
		criticalStuckSeconds: criticalStuckSeconds,
		maxUnblockAttempts:   maxUnblockAttempts,
	}
}

// Decide maps a snapshot and the attempt count for the current stuck episode
// to an action. The critical-stuck check overrides the pattern rules; the
// attempt cap stops automated retrying.
func (e *Engine) Decide(snap commands.DiagnosticSnapshot, attempts int) Decision {
	if snap.StuckDuration > e.criticalStuckSeconds {
		d := Decision{
			Action:   ActionAbort,
			Critical: true,
			Reason:   fmt.Sprintf("stuck %ds exceeds critical threshold %ds", snap.StuckDuration, e.criticalStuckSeconds),
		}
		log.Warn().Int("stuck_seconds", snap.StuckDuration).Msg("critical stuck duration, abort recommended")
		return d
	}

	if attempts >= e.maxUnblockAttempts {
		return Decision{
			Action:            ActionManualReview,
			AttemptsExhausted: true,
			Reason:            fmt.Sprintf("%d unblock attempts exhausted", attempts),
		}
	}

	if action, name, ok := e.matchRules(snap.LastError); ok {
		return Decision{Action: action, Reason: fmt.Sprintf("rule %q matched last error", name)}
	}

	if snap.StuckDuration > e.stuckMockSeconds {
		return Decision{
			Action: ActionUseMock,
			Reason: fmt.Sprintf("no pattern matched, stuck %ds exceeds %ds", snap.StuckDuration, e.stuckMockSeconds),
		}
	}

	return Decision{Action: ActionManualReview, Reason: "no pattern matched"}
}

// matchRules evaluates the ordered rule list, first match wins.
// Case-insensitive substring match against the last error.
func (e *Engine) matchRules(lastError string) (Action, string, bool) {
	if lastError == "" {
		return "", "", false
	}
	needle := strings.ToLower(lastError)
	for _, rule := range e.rules {
		for _, sub := range rule.Contains {
			if strings.Contains(needle, strings.ToLower(sub)) {
				return rule.Action, rule.Name, true
			}
		}
	}
	return "", "", false
}
