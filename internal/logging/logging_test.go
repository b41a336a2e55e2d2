package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLevels(t *testing.T) {
	logger, err := Setup(&Config{Level: "debug", Pretty: false})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger, err = Setup(&Config{Level: "not-a-level", Pretty: false})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestSetupFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "voicedesk.log")
	logger, err := Setup(&Config{Level: "info", FilePath: path, Pretty: false})
	require.NoError(t, err)

	logger.Info().Str("session", "s-1").Msg("turn accepted")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "turn accepted")
	assert.Contains(t, string(data), `"session":"s-1"`)
}

func TestComponentTagging(t *testing.T) {
	_, err := Setup(&Config{Level: "info", Pretty: false})
	require.NoError(t, err)

	logger := Component("gate")
	assert.NotEqual(t, zerolog.Nop(), logger)
}

func TestDetachWithTimeout(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	detached, cancel := DetachWithTimeout(parent, time.Second)
	defer cancel()

	cancelParent()
	select {
	case <-detached.Done():
		t.Fatal("detached context ended with parent")
	default:
	}

	deadline, ok := detached.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 100*time.Millisecond)
}
