package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog is the read-only lookup table of command specs. It is built once at
// startup and shared across sessions without locking.
type Catalog struct {
	specs map[CommandType]*CommandSpec
}

// NewCatalog builds a catalogue from the given specs. Duplicate types are
// rejected so a typo in the table fails fast at startup.
func NewCatalog(specs []CommandSpec) (*Catalog, error) {
	c := &Catalog{specs: make(map[CommandType]*CommandSpec, len(specs))}
	for i := range specs {
		s := specs[i]
		if _, exists := c.specs[s.Type]; exists {
			return nil, fmt.Errorf("duplicate command type %q in catalogue", s.Type)
		}
		for _, name := range s.RequireAny {
			if _, ok := s.Param(name); !ok {
				return nil, fmt.Errorf("command %q: require-any names undeclared parameter %q", s.Type, name)
			}
		}
		c.specs[s.Type] = &s
	}
	return c, nil
}

// SpecFor returns the spec for a command type, with ok reporting whether the
// type is part of the catalogue.
func (c *Catalog) SpecFor(t CommandType) (*CommandSpec, bool) {
	s, ok := c.specs[t]
	return s, ok
}

// Types returns all command types in stable order.
func (c *Catalog) Types() []CommandType {
	out := make([]CommandType, 0, len(c.specs))
	for t := range c.specs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PromptDescription renders the catalogue as a compact schema description for
// the language-model prompt: one line per command with its parameters.
func (c *Catalog) PromptDescription() string {
	var b strings.Builder
	for _, t := range c.Types() {
		s := c.specs[t]
		b.WriteString("- ")
		b.WriteString(string(s.Type))
		b.WriteString(": ")
		b.WriteString(s.Description)
		if len(s.Params) > 0 {
			b.WriteString(" (")
			for i, p := range s.Params {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(p.Name)
				if p.Required {
					b.WriteString("*")
				}
				if p.Type == ParamEnum {
					b.WriteString("=[")
					b.WriteString(strings.Join(p.Values, "|"))
					b.WriteString("]")
				}
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Builtin returns the standard VoiceDesk catalogue. Risk policy: deleting
// mail or files and mass-modifying via organize rules are destructive and
// require confirmation; listing, reading, marking, moving, copying and
// searching are safe. Moves are reversible, deletions are not.
func Builtin() *Catalog {
	c, err := NewCatalog([]CommandSpec{
		{
			Type: EmailList, Domain: DomainEmail, Risk: RiskSafe,
			Description: "list messages in a mailbox",
			Params: []ParamSpec{
				{Name: "sender", Type: ParamString, Description: "filter by sender name or address"},
				{Name: "since", Type: ParamDate, Description: "only messages on or after this date"},
				{Name: "status", Type: ParamEnum, Values: []string{"unread", "read", "all"}, Description: "read-state filter"},
				{Name: "folder", Type: ParamFolder, Description: "mailbox folder, default inbox"},
			},
		},
		{
			Type: EmailRead, Domain: DomainEmail, Risk: RiskSafe,
			Description: "read one message aloud",
			Params: []ParamSpec{
				{Name: "message_id", Type: ParamString, Required: true, Description: "the message to read"},
			},
		},
		{
			Type: EmailMark, Domain: DomainEmail, Risk: RiskSafe,
			Description: "mark a message read or unread",
			Params: []ParamSpec{
				{Name: "message_id", Type: ParamString, Required: true, Description: "the message to mark"},
				{Name: "mark_as", Type: ParamEnum, Required: true, Values: []string{"read", "unread"}, Description: "target state"},
			},
		},
		{
			Type: EmailMove, Domain: DomainEmail, Risk: RiskSafe,
			Description: "move a message to another folder",
			Params: []ParamSpec{
				{Name: "message_id", Type: ParamString, Required: true, Description: "the message to move"},
				{Name: "folder", Type: ParamFolder, Required: true, Description: "destination folder"},
			},
		},
		{
			Type: EmailDelete, Domain: DomainEmail, Risk: RiskDestructive,
			Description: "delete messages by id, folder or sender",
			Params: []ParamSpec{
				{Name: "message_id", Type: ParamString, Description: "a single message to delete"},
				{Name: "folder", Type: ParamFolder, Description: "delete everything in this folder"},
				{Name: "sender", Type: ParamString, Description: "delete messages from this sender"},
			},
			RequireAny: []string{"message_id", "folder", "sender"},
		},
		{
			Type: EmailAttachment, Domain: DomainEmail, Risk: RiskSafe,
			Description: "download a message attachment",
			Params: []ParamSpec{
				{Name: "message_id", Type: ParamString, Required: true, Description: "the message holding the attachment"},
				{Name: "attachment", Type: ParamString, Description: "attachment name, default all"},
				{Name: "destination", Type: ParamFolder, Description: "target directory, default download folder"},
			},
		},
		{
			Type: FileSearch, Domain: DomainFile, Risk: RiskSafe,
			Description: "search for files by name or type",
			Params: []ParamSpec{
				{Name: "name", Type: ParamString, Description: "substring of the file name"},
				{Name: "type", Type: ParamString, Description: "file extension, e.g. pdf"},
				{Name: "location", Type: ParamFolder, Description: "directory to search, default all roots"},
				{Name: "modified_days", Type: ParamInt, Description: "only files older than this many days"},
			},
			RequireAny: []string{"name", "type"},
		},
		{
			Type: FileMove, Domain: DomainFile, Risk: RiskSafe,
			Description: "move a file, or files matching a pattern, to a directory",
			Params: []ParamSpec{
				{Name: "source", Type: ParamPath, Required: true, Description: "file or directory to move from"},
				{Name: "destination", Type: ParamFolder, Required: true, Description: "directory to move into"},
				{Name: "type", Type: ParamString, Description: "restrict to this extension when source is a directory"},
			},
		},
		{
			Type: FileCopy, Domain: DomainFile, Risk: RiskSafe,
			Description: "copy a file, or files matching a pattern, to a directory",
			Params: []ParamSpec{
				{Name: "source", Type: ParamPath, Required: true, Description: "file or directory to copy from"},
				{Name: "destination", Type: ParamFolder, Required: true, Description: "directory to copy into"},
				{Name: "type", Type: ParamString, Description: "restrict to this extension when source is a directory"},
			},
		},
		{
			Type: FileDelete, Domain: DomainFile, Risk: RiskDestructive,
			Description: "delete a file or directory",
			Params: []ParamSpec{
				{Name: "path", Type: ParamPath, Required: true, Description: "what to delete"},
			},
		},
		{
			Type: FileOrganize, Domain: DomainFile, Risk: RiskDestructive,
			Description: "apply the configured organize rules to a directory",
			Params: []ParamSpec{
				{Name: "location", Type: ParamFolder, Description: "directory to organize, default watch folders"},
				{Name: "rule", Type: ParamString, Description: "apply only the named rule"},
			},
		},
	})
	if err != nil {
		// The builtin table is static; a construction error is a programming
		// mistake caught by tests, not a runtime condition.
		panic(err)
	}
	return c
}
