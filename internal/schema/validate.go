package schema

import (
	"fmt"
	"net/mail"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/voicedesk/voicedesk/internal/fault"
)

// ValidationError names the parameter that failed validation so the caller
// can ask a precise clarification question instead of guessing.
type ValidationError struct {
	Command CommandType
	Field   string
	Reason  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("command %s: parameter %q %s", e.Command, e.Field, e.Reason)
}

// Fault classifies every validation error as fault.ValidationFailed.
func (e *ValidationError) Unwrap() error {
	return fault.New(fault.ValidationFailed, "parameter %q %s", e.Field, e.Reason)
}

// dateLayouts are the accepted absolute date formats.
var dateLayouts = []string{"2006-01-02", "2006/01/02", "2006-01-02 15:04"}

// relativeDates maps spoken relative dates to day offsets from now.
// Both English and Chinese forms are accepted since the resolver passes the
// model's extraction through verbatim.
var relativeDates = map[string]int{
	"today":     0,
	"yesterday": -1,
	"今天":        0,
	"昨天":        -1,
	"前天":        -2,
	"this week": -7,
	"本周":        -7,
}

// ParseDate resolves a date parameter value to a concrete time. Relative
// forms resolve against now.
func ParseDate(value string, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(strings.ToLower(value))
	if offset, ok := relativeDates[v]; ok {
		day := now.AddDate(0, 0, offset)
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// ValidateParams checks raw resolver output against a command spec. It
// returns the cleaned parameter map on success. On failure it returns a
// *ValidationError naming the offending field; required parameters are
// checked first so the clarification question targets the most useful gap.
func (s *CommandSpec) ValidateParams(raw map[string]string) (map[string]string, error) {
	clean := make(map[string]string, len(raw))

	// Required presence first.
	for _, p := range s.Params {
		v, ok := raw[p.Name]
		if p.Required && (!ok || strings.TrimSpace(v) == "") {
			return nil, &ValidationError{Command: s.Type, Field: p.Name, Reason: "is required"}
		}
	}

	// Require-any groups.
	if len(s.RequireAny) > 0 {
		found := false
		for _, name := range s.RequireAny {
			if v, ok := raw[name]; ok && strings.TrimSpace(v) != "" {
				found = true
				break
			}
		}
		if !found {
			return nil, &ValidationError{
				Command: s.Type,
				Field:   strings.Join(s.RequireAny, " or "),
				Reason:  "needs at least one of these",
			}
		}
	}

	// Semantic types. Unknown keys are dropped rather than rejected: the
	// model sometimes volunteers extras and they must never reach a backend.
	for _, p := range s.Params {
		v, ok := raw[p.Name]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if err := checkParamType(p, v); err != nil {
			return nil, &ValidationError{Command: s.Type, Field: p.Name, Reason: err.Error()}
		}
		clean[p.Name] = v
	}

	return clean, nil
}

// checkParamType enforces one parameter's semantic type.
func checkParamType(p ParamSpec, v string) error {
	switch p.Type {
	case ParamString:
		return nil
	case ParamInt:
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("must be a whole number, got %q", v)
		}
	case ParamDate:
		if _, err := ParseDate(v, time.Now()); err != nil {
			return fmt.Errorf("is not a recognizable date: %q", v)
		}
	case ParamAddress:
		if _, err := mail.ParseAddress(v); err != nil {
			return fmt.Errorf("is not a valid email address: %q", v)
		}
	case ParamPath, ParamFolder:
		if strings.ContainsRune(v, 0) {
			return fmt.Errorf("contains an invalid character")
		}
	case ParamPattern:
		if _, err := filepath.Match(v, "check"); err != nil {
			return fmt.Errorf("is not a valid glob pattern: %q", v)
		}
	case ParamEnum:
		for _, allowed := range p.Values {
			if strings.EqualFold(v, allowed) {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s, got %q", strings.Join(p.Values, "/"), v)
	default:
		return fmt.Errorf("has unknown parameter type %q", p.Type)
	}
	return nil
}

// NewCommand validates raw parameters and builds an immutable structured
// command carrying the spec's risk classification.
func (s *CommandSpec) NewCommand(raw map[string]string, sourceTurnID string) (*StructuredCommand, error) {
	params, err := s.ValidateParams(raw)
	if err != nil {
		return nil, err
	}
	return &StructuredCommand{
		Type:         s.Type,
		Domain:       s.Domain,
		Risk:         s.Risk,
		Params:       params,
		SourceTurnID: sourceTurnID,
	}, nil
}
