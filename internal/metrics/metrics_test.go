package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.Utterance(100 * time.Millisecond)
	c.Utterance(300 * time.Millisecond)
	c.Resolution("resolved")
	c.Resolution("clarification")
	c.Resolution("unrecognized")
	c.ConfirmArmed()
	c.ConfirmOutcome("approved")
	c.Dispatch(false)
	c.Dispatch(true)
	c.BargeIn()

	s := c.Snapshot()
	assert.Equal(t, 2, s.Utterances)
	assert.Equal(t, 1, s.Resolved)
	assert.Equal(t, 1, s.Clarifications)
	assert.Equal(t, 1, s.Unrecognized)
	assert.Equal(t, 1, s.ConfirmsArmed)
	assert.Equal(t, 1, s.ConfirmsApproved)
	assert.Equal(t, 2, s.Dispatched)
	assert.Equal(t, 1, s.DispatchFailed)
	assert.Equal(t, 1, s.BargeIns)
	assert.Equal(t, 200*time.Millisecond, s.AvgLatency())
}

func TestAvgLatencyEmpty(t *testing.T) {
	assert.Zero(t, NewCollector().Snapshot().AvgLatency())
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Utterance(time.Millisecond)
			c.Dispatch(false)
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, 50, s.Utterances)
	assert.Equal(t, 50, s.Dispatched)
}
