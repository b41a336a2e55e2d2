// Package orchestrator runs the conversation loop: finalized utterances in,
// spoken replies out. Within a session, processing is strictly sequential;
// a destructive command never reaches its executor without passing the
// confirmation gate first.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicedesk/voicedesk/internal/dispatch"
	"github.com/voicedesk/voicedesk/internal/fault"
	"github.com/voicedesk/voicedesk/internal/gate"
	"github.com/voicedesk/voicedesk/internal/history"
	"github.com/voicedesk/voicedesk/internal/logging"
	"github.com/voicedesk/voicedesk/internal/metrics"
	"github.com/voicedesk/voicedesk/internal/resolver"
	"github.com/voicedesk/voicedesk/internal/schema"
	"github.com/voicedesk/voicedesk/internal/session"
	"github.com/voicedesk/voicedesk/internal/voice"
)

// Orchestrator wires the resolver, gate, and dispatcher into one loop.
type Orchestrator struct {
	resolver   *resolver.Resolver
	sessions   *session.Manager
	gates      *gate.Manager
	dispatcher *dispatch.Dispatcher
	sink       voice.SpeechSink
	transcript *history.Log
	stats      *metrics.Collector
	logger     zerolog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

// New creates an orchestrator. The sink and transcript log may be nil for
// headless or test use.
func New(
	res *resolver.Resolver,
	sessions *session.Manager,
	gates *gate.Manager,
	dispatcher *dispatch.Dispatcher,
	sink voice.SpeechSink,
	transcript *history.Log,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		resolver:   res,
		sessions:   sessions,
		gates:      gates,
		dispatcher: dispatcher,
		sink:       sink,
		transcript: transcript,
		stats:      metrics.NewCollector(),
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		workers:    make(map[string]*worker),
	}
}

// Stats returns the pipeline counters for this run.
func (o *Orchestrator) Stats() metrics.Stats {
	return o.stats.Snapshot()
}

// HandleUtterance processes one finalized utterance and returns the spoken
// reply. Every utterance yields exactly one reply; no failure is fatal.
func (o *Orchestrator) HandleUtterance(ctx context.Context, sessionID, text string) string {
	started := time.Now()
	sess := o.sessions.GetOrCreate(sessionID)
	turn := sess.AddTurn(session.RoleUser, text)
	o.record(ctx, history.Record{
		TurnID: turn.ID, SessionID: sessionID, Role: turn.Role, Text: text, CreatedAt: turn.Timestamp,
	})

	reply, cmdType, status := o.process(ctx, sess, turn)

	replyTurn := sess.AddTurn(session.RoleAssistant, reply)
	o.record(ctx, history.Record{
		TurnID: replyTurn.ID, SessionID: sessionID, Role: replyTurn.Role, Text: reply,
		CommandType: cmdType, OutcomeStatus: status, CreatedAt: replyTurn.Timestamp,
	})
	o.stats.Utterance(time.Since(started))
	return reply
}

// process runs the gate-then-resolve pipeline for one user turn.
func (o *Orchestrator) process(ctx context.Context, sess *session.Session, turn session.Turn) (reply, cmdType, status string) {
	g := o.gates.ForSession(sess.ID())

	if g.State() == gate.StateAwaiting {
		decision, confirmed, err := g.Resolve(turn.Text)
		switch {
		case fault.IsKind(err, fault.ConfirmationExpired):
			o.stats.ConfirmOutcome("expired")
			return "That confirmation has expired, so I didn't do anything. Ask again if you still want it.", "", ""
		case decision == gate.DecisionApproved:
			g.Reset()
			o.stats.ConfirmOutcome("approved")
			outcome := o.dispatch(ctx, sess, confirmed)
			return outcome.Summary, confirmed.Type.String(), string(outcome.Status)
		case decision == gate.DecisionRefused:
			g.Reset()
			o.stats.ConfirmOutcome("refused")
			return "Okay, I've cancelled that.", "", ""
		}

		// Matched neither lexicon. Try it as a new request; only a
		// recognizable one supersedes the pending command. An utterance
		// the resolver cannot place is treated as an ambiguous answer
		// and the question is asked again.
		res := o.resolver.Resolve(ctx, sess, turn)
		o.stats.Resolution(string(res.Kind))
		if res.Kind == resolver.KindUnrecognized {
			if pending := g.Pending(); pending != nil {
				return "I need a clear yes or no. " + pending.Prompt, "", ""
			}
			return unrecognizedReply(res.Cause), "", ""
		}
		if cancelled := g.Cancel(); cancelled != nil {
			o.logger.Info().
				Str("session", sess.ID()).
				Str("superseded", cancelled.Command.Type.String()).
				Msg("pending confirmation superseded")
		}
		g.Reset()
		return o.handleResolution(ctx, sess, g, res)
	}

	res := o.resolver.Resolve(ctx, sess, turn)
	o.stats.Resolution(string(res.Kind))
	return o.handleResolution(ctx, sess, g, res)
}

// handleResolution turns a resolver result into the spoken reply, arming the
// gate for destructive commands and dispatching safe ones directly.
func (o *Orchestrator) handleResolution(ctx context.Context, sess *session.Session, g *gate.Gate, res *resolver.Resolution) (reply, cmdType, status string) {
	switch res.Kind {
	case resolver.KindResolved:
		if res.Command.Risk == schema.RiskDestructive {
			prompt := confirmPrompt(res.Command)
			g.Arm(res.Command, prompt)
			o.stats.ConfirmArmed()
			return prompt, res.Command.Type.String(), ""
		}
		outcome := o.dispatch(ctx, sess, res.Command)
		return outcome.Summary, res.Command.Type.String(), string(outcome.Status)
	case resolver.KindClarification:
		return res.Question, "", ""
	default:
		return unrecognizedReply(res.Cause), "", ""
	}
}

// dispatch runs a confirmed or safe command and folds its references back
// into the session context.
func (o *Orchestrator) dispatch(ctx context.Context, sess *session.Session, cmd *schema.StructuredCommand) *schema.ActionOutcome {
	outcome := o.dispatcher.Dispatch(ctx, cmd)

	if len(outcome.Refs) > 0 {
		sess.UpdateContext(func(c *session.Context) {
			if v, ok := outcome.Refs["email_id"]; ok {
				c.LastEmailID = v
			}
			if v, ok := outcome.Refs["file_path"]; ok {
				c.LastFilePath = v
			}
			if v, ok := outcome.Refs["folder"]; ok {
				c.LastFolder = v
			}
		})
	}

	o.stats.Dispatch(outcome.Status == schema.StatusFailed)
	o.logger.Info().
		Str("session", sess.ID()).
		Str("command", cmd.Type.String()).
		Str("status", string(outcome.Status)).
		Dur("duration", outcome.Duration).
		Msg("command dispatched")
	return outcome
}

// record appends to the transcript log on a detached context so barge-in
// cancellation never drops the record of the turn it interrupted.
func (o *Orchestrator) record(ctx context.Context, rec history.Record) {
	if o.transcript == nil {
		return
	}
	logCtx, cancel := logging.DetachWithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := o.transcript.Append(logCtx, rec); err != nil {
		o.logger.Warn().Err(err).Msg("transcript append failed")
	}
}

// Run consumes the transcript source until the context ends. Each session
// gets its own worker so one long dispatch cannot stall another user.
func (o *Orchestrator) Run(ctx context.Context, source voice.TranscriptSource) {
	utterances := source.Utterances()
	activations := source.Activations()

	for {
		select {
		case <-ctx.Done():
			o.stopWorkers()
			return
		case u, ok := <-utterances:
			if !ok {
				o.stopWorkers()
				return
			}
			o.workerFor(ctx, u.SessionID).enqueue(u)
		case a, ok := <-activations:
			if !ok {
				continue
			}
			switch a.Kind {
			case voice.ActivationStart:
				o.sessions.GetOrCreate(a.SessionID)
			case voice.ActivationStop:
				o.CancelSession(a.SessionID)
			}
		}
	}
}

// CancelSession handles a barge-in: the in-flight utterance's context is
// cancelled, queued utterances are discarded, and the session's worker is
// torn down (the next utterance starts a fresh one). A pending confirmation
// is dropped and the gate collapses back to idle; silence after "stop" must
// never turn into a deletion.
func (o *Orchestrator) CancelSession(sessionID string) {
	g := o.gates.ForSession(sessionID)
	if g.Cancel() != nil {
		o.logger.Info().Str("session", sessionID).Msg("pending confirmation cancelled by barge-in")
	}
	g.Reset()
	if sess := o.sessions.Get(sessionID); sess != nil {
		sess.Touch()
	}

	w := o.dropWorker(sessionID)
	if w == nil {
		return
	}
	discarded := w.interrupt()
	w.stop()
	o.stats.BargeIn()
	o.logger.Info().Str("session", sessionID).Int("discarded", discarded).Msg("session interrupted")
	o.speak(context.Background(), sessionID, "Okay, stopping.")
}

// ReapIdle tears down sessions past the inactivity timeout, dropping their
// gates and workers so per-session state does not accumulate for the life
// of the process.
func (o *Orchestrator) ReapIdle() []string {
	ids := o.sessions.ReapIdle()
	for _, id := range ids {
		o.gates.Drop(id)
		if w := o.dropWorker(id); w != nil {
			w.stop()
		}
	}
	return ids
}

// dropWorker removes a session's worker from the registry, returning it so
// the caller can stop it outside the lock.
func (o *Orchestrator) dropWorker(sessionID string) *worker {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.workers[sessionID]
	delete(o.workers, sessionID)
	return w
}

func (o *Orchestrator) workerFor(ctx context.Context, sessionID string) *worker {
	o.mu.Lock()
	defer o.mu.Unlock()

	if w, ok := o.workers[sessionID]; ok {
		return w
	}
	w := &worker{
		queue: make(chan voice.Utterance, 8),
	}
	o.workers[sessionID] = w
	go w.run(ctx, o, sessionID)
	return w
}

func (o *Orchestrator) stopWorkers() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, w := range o.workers {
		w.stop()
	}
	o.workers = make(map[string]*worker)
}

func (o *Orchestrator) speak(ctx context.Context, sessionID, text string) {
	if o.sink == nil || text == "" {
		return
	}
	sayCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := o.sink.Say(sayCtx, sessionID, text); err != nil {
		// Speech output is best effort; the transcript still has the reply.
		o.logger.Warn().Err(err).Str("session", sessionID).Msg("speech output failed")
	}
}

// worker serializes one session's utterances.
type worker struct {
	queue chan voice.Utterance

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

func (w *worker) run(ctx context.Context, o *Orchestrator, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-w.queue:
			if !ok {
				return
			}
			turnCtx, cancel := context.WithCancel(ctx)
			w.setCancel(cancel)
			reply := o.HandleUtterance(turnCtx, sessionID, u.Text)
			w.setCancel(nil)
			interrupted := turnCtx.Err() != nil && ctx.Err() == nil
			cancel()

			if !interrupted && ctx.Err() == nil {
				o.speak(ctx, sessionID, reply)
			}
		}
	}
}

func (w *worker) enqueue(u voice.Utterance) {
	// The lock spans the send so stop() cannot close the queue between
	// the check and the send. The send never blocks: the queue is
	// buffered and full means drop.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.queue <- u:
	default:
		// The session is already backed up; dropping the newest keeps
		// ordering for what is queued.
	}
}

// interrupt cancels the in-flight turn and drains the queue, returning how
// many queued utterances were discarded.
func (w *worker) interrupt() int {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	discarded := 0
	for {
		select {
		case <-w.queue:
			discarded++
		default:
			return discarded
		}
	}
}

func (w *worker) setCancel(cancel context.CancelFunc) {
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
}

func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
	close(w.queue)
}

// confirmPrompt phrases the confirmation question for a destructive command.
func confirmPrompt(cmd *schema.StructuredCommand) string {
	switch cmd.Type {
	case schema.EmailDelete:
		if id, ok := cmd.Param("message_id"); ok && id != "" {
			return "This will permanently delete that message. Should I go ahead?"
		}
		if sender, ok := cmd.Param("sender"); ok && sender != "" {
			return fmt.Sprintf("This will permanently delete every message from %s. Should I go ahead?", sender)
		}
		folder := cmd.ParamOr("folder", "the folder")
		return fmt.Sprintf("This will permanently delete everything in %s. Should I go ahead?", folder)
	case schema.FileDelete:
		return fmt.Sprintf("This will permanently delete %s. Should I go ahead?", cmd.ParamOr("path", "that file"))
	case schema.FileOrganize:
		return "This will move files according to your organize rules. Should I go ahead?"
	default:
		return fmt.Sprintf("This will run %s, which can't be undone. Should I go ahead?", cmd.Type)
	}
}

// unrecognizedReply maps a resolution failure cause onto a spoken reply.
func unrecognizedReply(cause fault.Kind) string {
	switch cause {
	case fault.ResolverTimeout:
		return "I'm having trouble understanding requests right now. Please try again in a moment."
	case fault.ResolverMalformedResponse:
		return "I couldn't work out what to do with that. Could you rephrase it?"
	default:
		return "I can help with email and files, but I didn't recognize that request."
	}
}
