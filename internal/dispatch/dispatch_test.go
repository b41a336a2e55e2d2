package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicedesk/voicedesk/internal/fault"
	"github.com/voicedesk/voicedesk/internal/schema"
)

// scriptedExecutor fails a set number of times before succeeding.
type scriptedExecutor struct {
	domain   schema.Domain
	failures int
	failWith *fault.Fault
	calls    int
	block    time.Duration
}

func (e *scriptedExecutor) Domain() schema.Domain { return e.domain }

func (e *scriptedExecutor) Execute(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	e.calls++
	if e.block > 0 {
		select {
		case <-time.After(e.block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.calls <= e.failures {
		return nil, e.failWith
	}
	return &schema.ActionOutcome{
		Status:  schema.StatusSuccess,
		Summary: "done",
	}, nil
}

func fileCmd() *schema.StructuredCommand {
	return &schema.StructuredCommand{
		Type:   schema.FileSearch,
		Domain: schema.DomainFile,
		Risk:   schema.RiskSafe,
		Params: map[string]string{"type": "pdf"},
	}
}

func fastConfig() Config {
	return Config{CallTimeout: 200 * time.Millisecond, MaxRetries: 2, RetryBase: time.Millisecond}
}

func TestDispatchSuccess(t *testing.T) {
	d := New(fastConfig(), zerolog.Nop())
	exec := &scriptedExecutor{domain: schema.DomainFile}
	d.Register(exec)

	outcome := d.Dispatch(context.Background(), fileCmd())
	require.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.Equal(t, 1, exec.calls)
	assert.Empty(t, outcome.ErrorKind)
	assert.Greater(t, outcome.Duration, time.Duration(0))
}

func TestDispatchNoExecutor(t *testing.T) {
	d := New(fastConfig(), zerolog.Nop())

	outcome := d.Dispatch(context.Background(), fileCmd())
	assert.Equal(t, schema.StatusFailed, outcome.Status)
	assert.Equal(t, fault.ExecutorPermanent.String(), outcome.ErrorKind)
}

func TestTransientRetriedThenSucceeds(t *testing.T) {
	d := New(fastConfig(), zerolog.Nop())
	exec := &scriptedExecutor{
		domain:   schema.DomainFile,
		failures: 2,
		failWith: fault.New(fault.ExecutorTransient, "connection reset"),
	}
	d.Register(exec)

	outcome := d.Dispatch(context.Background(), fileCmd())
	assert.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.Equal(t, 3, exec.calls)
}

func TestTransientExhaustsRetries(t *testing.T) {
	d := New(fastConfig(), zerolog.Nop())
	exec := &scriptedExecutor{
		domain:   schema.DomainFile,
		failures: 10,
		failWith: fault.New(fault.ExecutorTransient, "connection reset"),
	}
	d.Register(exec)

	outcome := d.Dispatch(context.Background(), fileCmd())
	assert.Equal(t, schema.StatusFailed, outcome.Status)
	assert.Equal(t, fault.ExecutorTransient.String(), outcome.ErrorKind)
	// One initial call plus MaxRetries.
	assert.Equal(t, 3, exec.calls)
}

func TestPermanentNotRetried(t *testing.T) {
	d := New(fastConfig(), zerolog.Nop())
	exec := &scriptedExecutor{
		domain:   schema.DomainFile,
		failures: 10,
		failWith: fault.New(fault.ExecutorPermanent, "no such mailbox"),
	}
	d.Register(exec)

	outcome := d.Dispatch(context.Background(), fileCmd())
	assert.Equal(t, schema.StatusFailed, outcome.Status)
	assert.Equal(t, fault.ExecutorPermanent.String(), outcome.ErrorKind)
	assert.Equal(t, 1, exec.calls)
}

func TestPerCallTimeout(t *testing.T) {
	d := New(Config{CallTimeout: 20 * time.Millisecond, MaxRetries: 0, RetryBase: time.Millisecond}, zerolog.Nop())
	exec := &scriptedExecutor{domain: schema.DomainFile, block: time.Second}
	d.Register(exec)

	outcome := d.Dispatch(context.Background(), fileCmd())
	assert.Equal(t, schema.StatusFailed, outcome.Status)
	assert.Equal(t, fault.ExecutorTimeout.String(), outcome.ErrorKind)
}

func TestCancellationStopsRetries(t *testing.T) {
	d := New(Config{CallTimeout: time.Second, MaxRetries: 5, RetryBase: 50 * time.Millisecond}, zerolog.Nop())
	exec := &scriptedExecutor{
		domain:   schema.DomainFile,
		failures: 10,
		failWith: fault.New(fault.ExecutorTransient, "connection reset"),
	}
	d.Register(exec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome := d.Dispatch(ctx, fileCmd())
	assert.Equal(t, schema.StatusFailed, outcome.Status)
	// Cancellation during backoff dispatches no further attempts.
	assert.LessOrEqual(t, exec.calls, 2)
}
