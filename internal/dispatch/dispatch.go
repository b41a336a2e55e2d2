// Package dispatch routes structured commands to domain executors. The
// dispatcher enforces the per-call timeout and retry policy so executors
// stay simple: they classify failures, dispatch decides what to do about
// them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicedesk/voicedesk/internal/fault"
	"github.com/voicedesk/voicedesk/internal/schema"
)

// Config controls dispatch timing and retries.
type Config struct {
	// CallTimeout bounds one executor call, including each retry attempt.
	CallTimeout time.Duration
	// MaxRetries is how many additional attempts follow a transient failure.
	MaxRetries int
	// RetryBase is the first backoff delay; it doubles per attempt.
	RetryBase time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 20 * time.Second,
		MaxRetries:  2,
		RetryBase:   500 * time.Millisecond,
	}
}

// Dispatcher routes commands to registered executors.
type Dispatcher struct {
	mu        sync.RWMutex
	executors map[schema.Domain]schema.Executor
	config    Config
	logger    zerolog.Logger
}

// New creates a dispatcher with no executors registered.
func New(cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	return &Dispatcher{
		executors: make(map[schema.Domain]schema.Executor),
		config:    cfg,
		logger:    logger.With().Str("component", "dispatch").Logger(),
	}
}

// Register adds an executor for its domain, replacing any previous one.
func (d *Dispatcher) Register(e schema.Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors[e.Domain()] = e
}

// Dispatch executes one command and returns exactly one outcome. Failures
// never escape as errors; they are folded into a failed outcome carrying
// the taxonomy kind, so the caller always has something to speak.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *schema.StructuredCommand) *schema.ActionOutcome {
	start := time.Now()

	d.mu.RLock()
	executor, ok := d.executors[cmd.Domain]
	d.mu.RUnlock()
	if !ok {
		return &schema.ActionOutcome{
			Status:    schema.StatusFailed,
			Summary:   fmt.Sprintf("I don't have a handler for %s actions.", cmd.Domain),
			ErrorKind: fault.ExecutorPermanent.String(),
			Duration:  time.Since(start),
		}
	}

	var lastErr error
	attempts := 1 + d.config.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := d.config.RetryBase << (attempt - 1)
			d.logger.Debug().
				Str("command", cmd.Type.String()).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying after transient failure")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return cancelledOutcome(cmd, time.Since(start))
			}
		}

		outcome, err := d.callOnce(ctx, executor, cmd)
		if err == nil {
			outcome.Duration = time.Since(start)
			return outcome
		}
		lastErr = err

		if ctx.Err() != nil {
			return cancelledOutcome(cmd, time.Since(start))
		}
		if !fault.KindOf(err).Retryable() {
			break
		}
	}

	kind := fault.KindOf(lastErr)
	if kind == fault.None {
		kind = fault.ExecutorPermanent
	}
	d.logger.Warn().
		Err(lastErr).
		Str("command", cmd.Type.String()).
		Str("kind", kind.String()).
		Msg("command failed")

	return &schema.ActionOutcome{
		Status:    schema.StatusFailed,
		Summary:   failureSummary(cmd, kind),
		ErrorKind: kind.String(),
		Duration:  time.Since(start),
	}
}

// callOnce runs one executor attempt under the per-call timeout.
func (d *Dispatcher) callOnce(ctx context.Context, executor schema.Executor, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.config.CallTimeout)
	defer cancel()

	outcome, err := executor.Execute(callCtx, cmd)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fault.Wrap(fault.ExecutorTimeout, err, "%s exceeded %s", cmd.Type, d.config.CallTimeout)
		}
		return nil, err
	}
	if outcome == nil {
		return nil, fault.New(fault.ExecutorPermanent, "%s returned no outcome", cmd.Type)
	}
	return outcome, nil
}

func cancelledOutcome(cmd *schema.StructuredCommand, elapsed time.Duration) *schema.ActionOutcome {
	return &schema.ActionOutcome{
		Status:    schema.StatusFailed,
		Summary:   fmt.Sprintf("Stopped %s before it finished.", spokenName(cmd.Type)),
		ErrorKind: fault.ExecutorTimeout.String(),
		Duration:  elapsed,
	}
}

// failureSummary phrases a terminal failure for speech output.
func failureSummary(cmd *schema.StructuredCommand, kind fault.Kind) string {
	switch kind {
	case fault.ExecutorTimeout:
		return fmt.Sprintf("The %s action took too long and was stopped.", spokenName(cmd.Type))
	case fault.ExecutorTransient:
		return fmt.Sprintf("The %s action kept failing to reach its backend. Try again in a moment.", spokenName(cmd.Type))
	default:
		return fmt.Sprintf("The %s action failed.", spokenName(cmd.Type))
	}
}

// spokenName renders a command type as plain words.
func spokenName(t schema.CommandType) string {
	switch t {
	case schema.EmailList:
		return "email check"
	case schema.EmailRead:
		return "email read"
	case schema.EmailMark:
		return "email mark"
	case schema.EmailMove:
		return "email move"
	case schema.EmailDelete:
		return "email delete"
	case schema.EmailAttachment:
		return "attachment download"
	case schema.FileSearch:
		return "file search"
	case schema.FileMove:
		return "file move"
	case schema.FileCopy:
		return "file copy"
	case schema.FileDelete:
		return "file delete"
	case schema.FileOrganize:
		return "folder organize"
	default:
		return string(t)
	}
}
