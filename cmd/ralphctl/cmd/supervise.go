package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ralphops/ralphctl/internal/audit"
	"github.com/ralphops/ralphctl/internal/command"
	"github.com/ralphops/ralphctl/internal/config"
	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/ralphops/ralphctl/internal/escalate"
	"github.com/ralphops/ralphctl/internal/heartbeat"
	"github.com/ralphops/ralphctl/internal/lock"
	"github.com/ralphops/ralphctl/internal/supervisor"
	"github.com/spf13/cobra"
)

// statusCmd reports a session's liveness and lock state from its state
// directory, without needing the daemon.
var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's liveness and supervisor lock state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		monitor := heartbeat.NewMonitor(
			cfg.Session.HeartbeatFile,
			time.Duration(cfg.Session.StuckAfterSeconds)*time.Second,
			nil,
		)
		report := monitor.Check(args[0])

		out := map[string]interface{}{
			"session_id":  args[0],
			"state":       report.State,
			"last_status": report.LastStatus,
		}
		if !report.LastBeat.IsZero() {
			out["last_beat"] = report.LastBeat
		}
		if report.StuckDuration > 0 {
			out["stuck_seconds"] = int(report.StuckDuration.Seconds())
		}
		if holder, err := lock.New(cfg.Session.LockFile).Read(); err == nil {
			out["supervisor"] = holder
		}

		return printJSON(out)
	},
}

// pingCmd checks command-channel reachability.
var pingCmd = &cobra.Command{
	Use:   "ping <session-id>",
	Short: "Check whether a session answers control commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		start := time.Now()
		done, err := roundTrip(cmd.Context(), cfg, args[0], commands.TypePing, nil)
		if err != nil {
			return err
		}
		if done.Status != commands.StatusCompleted {
			return fmt.Errorf("ping %s: %s", done.Status, done.Error)
		}

		fmt.Printf("pong from %s in %s\n", args[0], time.Since(start).Round(time.Millisecond))
		return nil
	},
}

// diagnoseCmd requests and prints a diagnostic snapshot.
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <session-id>",
	Short: "Request a diagnostic snapshot from a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		done, err := roundTrip(cmd.Context(), cfg, args[0], commands.TypeDiagnose, nil)
		if err != nil {
			return err
		}
		if done.Status != commands.StatusCompleted {
			return fmt.Errorf("diagnose %s: %s", done.Status, done.Error)
		}
		if done.Result == nil {
			return fmt.Errorf("diagnose returned no payload")
		}

		return printJSON(done.Result.Snapshot())
	},
}

// abortCmd terminates a session after explicit confirmation.
var abortCmd = &cobra.Command{
	Use:   "abort <session-id>",
	Short: "Abort a session (asks for confirmation)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		confirmed, err := stdinPrompter().Confirm(fmt.Sprintf("abort session %s?", args[0]))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("aborted nothing")
			return nil
		}

		done, err := roundTrip(cmd.Context(), cfg, args[0], commands.TypeAbort, nil)
		if err != nil {
			return err
		}
		if done.Status != commands.StatusCompleted {
			return fmt.Errorf("abort %s: %s", done.Status, done.Error)
		}

		if store, err := audit.Open(cfg.Audit.DBPath); err == nil {
			_ = store.Append(args[0], ownerID(), audit.OutcomeUserAborted, nil)
			_ = store.Close()
		}

		fmt.Printf("session %s aborted\n", args[0])
		return nil
	},
}

// unblockCmd runs the full supervisory loop against a stuck session.
var unblockCmd = &cobra.Command{
	Use:   "unblock <session-id>",
	Short: "Diagnose a stuck session and drive it back to progress",
	Long: `Run the supervisory loop: check liveness, take the supervisor lock,
diagnose, apply escalation rules, suggest remedial actions, and verify.

Exit codes:
  0  session unblocked, or you declined further action
  1  session not running, unresponsive, or manual review required
  2  session aborted after exceeding the critical stuck threshold`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		var rules []escalate.Rule
		if cfg.Escalation.RulesFile != "" {
			rules, err = escalate.LoadRules(cfg.Escalation.RulesFile)
			if err != nil {
				return fmt.Errorf("loading escalation rules: %w", err)
			}
		}
		engine := escalate.New(rules,
			cfg.Escalation.StuckMockSeconds,
			cfg.Escalation.CriticalStuckSeconds,
			cfg.Escalation.MaxUnblockAttempts,
		)

		monitor := heartbeat.NewMonitor(
			cfg.Session.HeartbeatFile,
			time.Duration(cfg.Session.StuckAfterSeconds)*time.Second,
			nil,
		)

		store, err := audit.Open(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("opening audit store: %w", err)
		}
		defer func() { _ = store.Close() }()

		owner := ownerID()
		sup := supervisor.New(
			supervisor.Config{
				OwnerID:         owner,
				SessionID:       args[0],
				DiagnoseTimeout: time.Duration(cfg.Command.ResponseWaitSeconds) * time.Second,
				CommandTimeout:  time.Duration(cfg.Command.DefaultTimeoutSeconds) * time.Second,
				UnblockedBelow:  time.Duration(cfg.Session.StuckAfterSeconds) * time.Second,
				MaxAttempts:     cfg.Escalation.MaxUnblockAttempts,
			},
			monitor,
			lock.New(cfg.Session.LockFile),
			newChannel(cfg, owner),
			engine,
			store,
			nil,
			stdinPrompter(),
		)

		result, err := sup.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("outcome: %s\n", result.Outcome)
		if result.ExitCode != 0 {
			os.Exit(result.ExitCode)
		}
		return nil
	},
}

// unlockCmd breaks a stale supervisor lock.
var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release the supervisor lock after a crashed supervisor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		lk := lock.New(cfg.Session.LockFile)
		holder, err := lk.Read()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Println("lock is free")
				return nil
			}
			return err
		}

		confirmed, err := stdinPrompter().Confirm(
			fmt.Sprintf("lock held by %s (pid %d) since %s, force release?",
				holder.HolderID, holder.PID, holder.AcquiredAt.Format(time.RFC3339)))
		if err != nil {
			return err
		}
		if !confirmed {
			return nil
		}
		return lk.ForceRelease()
	},
}

// newChannel builds a file-transport command channel from config.
func newChannel(cfg *config.Config, owner string) *command.Channel {
	transport := command.NewFileTransport(
		filepath.Join(cfg.Session.StateDir, "sessions"),
		time.Duration(cfg.Command.PollIntervalMS)*time.Millisecond,
	)
	return command.NewChannel(owner, transport, nil)
}

// roundTrip dispatches one command and waits for its terminal state.
func roundTrip(ctx context.Context, cfg *config.Config, sessionID string, typ commands.Type, payload map[string]string) (*commands.Command, error) {
	ch := newChannel(cfg, ownerID())
	timeout := time.Duration(cfg.Command.DefaultTimeoutSeconds) * time.Second

	cmd, err := ch.Dispatch(ctx, sessionID, typ, payload, timeout)
	if err != nil {
		return nil, err
	}
	return ch.AwaitResponse(ctx, cmd.ID)
}

// ownerID identifies this invocation on the wire and in the lock file.
func ownerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "ralphctl"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}

// stdinPrompter asks yes/no questions on the terminal. It blocks until the
// operator answers; destructive actions have no default timeout.
func stdinPrompter() supervisor.Prompter {
	reader := bufio.NewReader(os.Stdin)
	return supervisor.PrompterFunc(func(prompt string) (bool, error) {
		fmt.Printf("%s [y/N]: ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	})
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
