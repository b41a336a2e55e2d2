// Package schema defines the closed, versioned command catalogue for
// VoiceDesk. Every action the assistant can take is described here as a
// CommandSpec with typed parameters and a risk classification. The intent
// resolver and the action dispatcher are both driven off this table, so the
// two stay in sync by construction: adding a command type is a data change.
package schema

import (
	"context"
	"time"
)

// Version identifies the catalogue revision. Bump when command types or
// parameter contracts change shape.
const Version = "1.0"

// Domain identifies which backend executor owns a command type.
type Domain string

const (
	DomainEmail Domain = "email"
	DomainFile  Domain = "file"
)

// Risk classifies how dangerous a command type is to execute.
type Risk int

const (
	// RiskSafe commands execute freely, without confirmation.
	RiskSafe Risk = iota
	// RiskDestructive commands never execute without a fresh, explicit
	// affirmative confirmation in the same session.
	RiskDestructive
)

// String returns a human-readable risk classification.
func (r Risk) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskDestructive:
		return "destructive"
	default:
		return "unknown"
	}
}

// CommandType identifies a recognized action.
type CommandType string

const (
	// Email domain commands.
	EmailList       CommandType = "email_list"
	EmailRead       CommandType = "email_read"
	EmailMark       CommandType = "email_mark"
	EmailMove       CommandType = "email_move"
	EmailDelete     CommandType = "email_delete"
	EmailAttachment CommandType = "email_download_attachment"

	// File domain commands.
	FileSearch   CommandType = "file_search"
	FileMove     CommandType = "file_move"
	FileCopy     CommandType = "file_copy"
	FileDelete   CommandType = "file_delete"
	FileOrganize CommandType = "file_organize"
)

// String returns the wire name of the command type.
func (t CommandType) String() string {
	return string(t)
}

// ParamType is the semantic type of a command parameter. Validation is
// stricter than "is a string": dates must parse, email addresses must be
// addresses, enums must name a known value.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInt     ParamType = "int"
	ParamDate    ParamType = "date"
	ParamAddress ParamType = "email_address"
	ParamPath    ParamType = "path"
	ParamFolder  ParamType = "folder"
	ParamPattern ParamType = "pattern"
	ParamEnum    ParamType = "enum"
)

// ParamSpec describes one parameter of a command type.
type ParamSpec struct {
	// Name is the parameter key as produced by the resolver.
	Name string
	// Type is the semantic type enforced at validation time.
	Type ParamType
	// Required parameters must be present; a missing one yields a
	// clarification question, never a partially-filled command.
	Required bool
	// Values enumerates the legal values for ParamEnum parameters.
	Values []string
	// Description is surfaced to the language model in the schema prompt.
	Description string
}

// CommandSpec is the static description of one recognized command type.
// Specs are immutable after catalogue construction.
type CommandSpec struct {
	Type   CommandType
	Domain Domain
	Risk   Risk
	Params []ParamSpec
	// RequireAny, when non-empty, demands that at least one of the named
	// parameters is present even though none is individually required.
	RequireAny []string
	// Description is surfaced to the language model in the schema prompt.
	Description string
}

// Param returns the spec for a named parameter, if declared.
func (s *CommandSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// StructuredCommand is a validated, schema-conformant representation of user
// intent, ready for execution. Created by the intent resolver, consumed by
// the confirmation gate and dispatcher, never mutated.
type StructuredCommand struct {
	Type   CommandType
	Domain Domain
	Risk   Risk
	// Params holds the validated parameter values keyed by name.
	Params map[string]string
	// SourceTurnID is a non-owning back-reference to the user turn this
	// command was resolved from.
	SourceTurnID string
}

// Param returns a parameter value, with ok reporting presence.
func (c *StructuredCommand) Param(name string) (string, bool) {
	v, ok := c.Params[name]
	return v, ok
}

// ParamOr returns a parameter value or a fallback when absent.
func (c *StructuredCommand) ParamOr(name, fallback string) string {
	if v, ok := c.Params[name]; ok && v != "" {
		return v
	}
	return fallback
}

// OutcomeStatus classifies the result of a dispatched command.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailed  OutcomeStatus = "failed"
	StatusPartial OutcomeStatus = "partial"
)

// ActionOutcome is the single, immutable result of one dispatched command.
// Summary is written for speech output, not for logs.
type ActionOutcome struct {
	Status  OutcomeStatus
	Summary string
	// ErrorKind carries the taxonomy cause when Status is not success.
	ErrorKind string
	// Duration is how long the backend call took, retries included.
	Duration time.Duration
	// Refs carries references worth remembering across turns, such as the
	// message or file the action touched. Keys: "email_id", "file_path",
	// "folder".
	Refs map[string]string
}

// Executor is the contract both backend executors satisfy. The dispatcher is
// the only caller: no other component touches a backend directly, which is
// what makes the confirmation guarantee meaningful.
type Executor interface {
	// Domain returns the command domain this executor serves.
	Domain() Domain

	// Execute runs one validated command and returns its outcome.
	// Backend failures are returned as fault-classified errors.
	Execute(ctx context.Context, cmd *StructuredCommand) (*ActionOutcome, error)
}
