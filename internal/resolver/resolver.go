// Package resolver maps finalized utterances to structured commands using a
// language-model collaborator. The resolver is stateless: given the same
// catalogue, history window, and utterance it produces the same resolution,
// and it never executes anything itself.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicedesk/voicedesk/internal/fault"
	"github.com/voicedesk/voicedesk/internal/llm"
	"github.com/voicedesk/voicedesk/internal/schema"
	"github.com/voicedesk/voicedesk/internal/session"
)

// Kind classifies a resolution.
type Kind string

const (
	// KindResolved means the utterance mapped to a validated command.
	KindResolved Kind = "resolved"
	// KindClarification means the utterance was understood but incomplete;
	// Question holds what to ask the user.
	KindClarification Kind = "clarification"
	// KindUnrecognized means the utterance mapped to no catalogued command.
	KindUnrecognized Kind = "unrecognized"
)

// Resolution is the resolver's answer for one utterance.
type Resolution struct {
	Kind     Kind
	Command  *schema.StructuredCommand
	Question string
	// Cause carries the fault kind when resolution failed for a reason
	// worth reporting, such as a collaborator timeout.
	Cause fault.Kind
}

// Resolver turns utterances into structured commands.
type Resolver struct {
	provider llm.Provider
	catalog  *schema.Catalog
	timeout  time.Duration
	logger   zerolog.Logger
}

// Config controls resolver behavior.
type Config struct {
	// Timeout bounds one resolution round trip.
	Timeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Timeout: 15 * time.Second}
}

// New creates a resolver over the given collaborator and catalogue.
func New(provider llm.Provider, catalog *schema.Catalog, cfg Config, logger zerolog.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Resolver{
		provider: provider,
		catalog:  catalog,
		timeout:  cfg.Timeout,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// modelReply is the JSON shape the collaborator is instructed to produce.
type modelReply struct {
	Command      string            `json:"command,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	Clarify      string            `json:"clarify,omitempty"`
	Unrecognized bool              `json:"unrecognized,omitempty"`
}

// Resolve maps one utterance to a resolution. Collaborator failures never
// return an error; they surface as Unrecognized with a Cause so the caller
// can speak a deterministic reply.
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session, turn session.Turn) *Resolution {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := &llm.ChatRequest{
		SystemPrompt: r.systemPrompt(),
		Messages:     r.buildMessages(sess, turn),
		Temperature:  llm.Temp(0),
		JSONMode:     true,
	}

	resp, err := r.provider.Chat(ctx, req)
	if err != nil {
		cause := classifyProviderError(ctx, err)
		r.logger.Warn().Err(err).Str("cause", cause.String()).Msg("collaborator call failed")
		return &Resolution{Kind: KindUnrecognized, Cause: cause}
	}

	return r.interpret(resp.Content, turn.ID)
}

// interpret parses and validates the collaborator's reply.
func (r *Resolver) interpret(content, sourceTurnID string) *Resolution {
	var reply modelReply
	if err := json.Unmarshal([]byte(extractJSON(content)), &reply); err != nil {
		r.logger.Warn().Str("content", truncate(content, 200)).Msg("collaborator reply is not valid JSON")
		return &Resolution{Kind: KindUnrecognized, Cause: fault.ResolverMalformedResponse}
	}

	switch {
	case reply.Clarify != "":
		return &Resolution{Kind: KindClarification, Question: reply.Clarify}
	case reply.Unrecognized || reply.Command == "":
		return &Resolution{Kind: KindUnrecognized}
	}

	spec, ok := r.catalog.SpecFor(schema.CommandType(reply.Command))
	if !ok {
		r.logger.Warn().Str("command", reply.Command).Msg("collaborator proposed a command outside the catalogue")
		return &Resolution{Kind: KindUnrecognized, Cause: fault.ResolverMalformedResponse}
	}

	cmd, err := spec.NewCommand(reply.Params, sourceTurnID)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			// Missing or mistyped parameters become a targeted question
			// rather than a failure.
			return &Resolution{
				Kind:     KindClarification,
				Question: clarificationQuestion(spec, verr),
				Cause:    fault.ValidationFailed,
			}
		}
		return &Resolution{Kind: KindUnrecognized, Cause: fault.ResolverMalformedResponse}
	}

	return &Resolution{Kind: KindResolved, Command: cmd}
}

func (r *Resolver) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You map a user's spoken request to exactly one desktop command.\n")
	sb.WriteString("Available commands (starred parameters are required):\n")
	sb.WriteString(r.catalog.PromptDescription())
	sb.WriteString("\nAnswer with a single JSON object and nothing else:\n")
	sb.WriteString(`  {"command": "<command>", "params": {"<name>": "<value>"}}` + "\n")
	sb.WriteString("If the request is a desktop command but a required detail is missing, answer:\n")
	sb.WriteString(`  {"clarify": "<one short question for the user>"}` + "\n")
	sb.WriteString("If the request is not one of the commands above, answer:\n")
	sb.WriteString(`  {"unrecognized": true}` + "\n")
	sb.WriteString("Never invent parameters the user did not state or imply. Relative dates like \"yesterday\" may be passed through as given.")
	return sb.String()
}

// buildMessages renders the bounded history window plus the new utterance.
// The carry-over context is injected ahead of the newest utterance so
// references like "delete it" can resolve.
func (r *Resolver) buildMessages(sess *session.Session, turn session.Turn) []llm.Message {
	var msgs []llm.Message
	var injection string
	if sess != nil {
		for _, t := range sess.Window() {
			if t.ID == turn.ID {
				continue
			}
			role := "user"
			if t.Role == session.RoleAssistant {
				role = "assistant"
			}
			msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
		}
		injection = sess.Context().BuildInjection()
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: injection + turn.Text})
	return msgs
}

// classifyProviderError maps a collaborator transport error onto the taxonomy.
func classifyProviderError(ctx context.Context, err error) fault.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.ResolverTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.ResolverTimeout
	}
	return fault.ResolverMalformedResponse
}

// clarificationQuestion phrases a validation failure as a question.
func clarificationQuestion(spec *schema.CommandSpec, verr *schema.ValidationError) string {
	if p, ok := spec.Param(verr.Field); ok && p.Description != "" {
		return fmt.Sprintf("Which %s should I use? (%s)", verr.Field, p.Description)
	}
	return fmt.Sprintf("I need the %s to %s. What should it be?", verr.Field, spec.Description)
}

// extractJSON strips markdown fences some models wrap around JSON output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}
	// Fall back to the outermost object if the model added prose around it.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
