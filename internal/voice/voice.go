// Package voice is the boundary to the speech daemon. The orchestrator
// consumes finalized transcripts from a TranscriptSource and emits spoken
// replies through a SpeechSink; both are interfaces so tests and headless
// runs need no daemon.
package voice

import (
	"context"
	"time"
)

// Utterance is one finalized transcript from the daemon. Partial hypotheses
// never cross this boundary.
type Utterance struct {
	SessionID string
	Text      string
	Timestamp time.Time
}

// ActivationKind distinguishes activation events.
type ActivationKind string

const (
	// ActivationStart means the wake word fired; a session becomes active.
	ActivationStart ActivationKind = "start"
	// ActivationStop means the user dismissed the assistant or the daemon
	// detected a barge-in while a reply was playing.
	ActivationStop ActivationKind = "stop"
)

// Activation is a wake or dismiss event from the daemon.
type Activation struct {
	SessionID string
	Kind      ActivationKind
	Timestamp time.Time
}

// TranscriptSource yields finalized utterances and activation events. A
// source failure ends the current activation, not the process; the caller
// reconnects or restarts it.
type TranscriptSource interface {
	// Utterances returns the channel of finalized transcripts. The channel
	// closes when the source stops.
	Utterances() <-chan Utterance

	// Activations returns the channel of activation events.
	Activations() <-chan Activation

	// Close stops the source.
	Close() error
}

// SpeechSink speaks replies. Say is fire-and-forget: a sink failure is
// logged by the implementation and never fails the turn that produced the
// reply.
type SpeechSink interface {
	Say(ctx context.Context, sessionID, text string) error
}
