package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Retryable(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{ExecutorTransient, true},
		{ExecutorPermanent, false},
		{ExecutorTimeout, false},
		{ResolverTimeout, false},
		{ValidationFailed, false},
		{ConfirmationExpired, false},
		{None, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.kind.Retryable())
		})
	}
}

func TestKindOf_UnwrapsChain(t *testing.T) {
	base := errors.New("connection reset")
	f := Wrap(ExecutorTransient, base, "imap fetch")
	wrapped := fmt.Errorf("dispatch email_delete: %w", f)

	assert.Equal(t, ExecutorTransient, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, ExecutorTransient))
	assert.True(t, errors.Is(wrapped, base))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, None, KindOf(errors.New("plain")))
	assert.Equal(t, None, KindOf(nil))
}

func TestFault_Error(t *testing.T) {
	f := New(ConfirmationExpired, "deadline was %s ago", "3s")
	require.Contains(t, f.Error(), "confirmation_expired")
	require.Contains(t, f.Error(), "3s ago")

	wrapped := Wrap(ExecutorPermanent, errors.New("auth failed"), "login")
	require.Contains(t, wrapped.Error(), "auth failed")
}
