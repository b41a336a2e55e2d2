// Package file executes file-domain commands: search, move, copy, delete,
// and rule-based organizing. Every path is confined to the configured roots;
// a command that reaches outside them fails before touching the filesystem.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicedesk/voicedesk/internal/fault"
	"github.com/voicedesk/voicedesk/internal/schema"
)

// MaxSearchResults caps how many matches a search reports.
const MaxSearchResults = 25

// Rule actions.
const (
	ActionMove   = "move"
	ActionDelete = "delete"
)

// Rule is one organize rule: files matching the glob pattern, once at least
// MinAgeDays old, are moved to Dest or deleted.
type Rule struct {
	Name    string
	Pattern string
	Dest    string
	// MinAgeDays skips files modified more recently than this (0 = any age).
	MinAgeDays int
	// Action is ActionMove (default when empty) or ActionDelete.
	Action string
}

// Executor serves the file command domain.
type Executor struct {
	roots  []string
	rules  []Rule
	logger zerolog.Logger
}

// New creates a file executor confined to the given roots.
func New(roots []string, rules []Rule, logger zerolog.Logger) *Executor {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		cleaned = append(cleaned, filepath.Clean(r))
	}
	return &Executor{
		roots:  cleaned,
		rules:  rules,
		logger: logger.With().Str("component", "file").Logger(),
	}
}

// Domain implements schema.Executor.
func (e *Executor) Domain() schema.Domain {
	return schema.DomainFile
}

// Execute implements schema.Executor.
func (e *Executor) Execute(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	switch cmd.Type {
	case schema.FileSearch:
		return e.search(ctx, cmd)
	case schema.FileMove:
		return e.transfer(ctx, cmd, true)
	case schema.FileCopy:
		return e.transfer(ctx, cmd, false)
	case schema.FileDelete:
		return e.delete(ctx, cmd)
	case schema.FileOrganize:
		return e.organize(ctx, cmd)
	default:
		return nil, fault.New(fault.ExecutorPermanent, "file executor cannot handle %s", cmd.Type)
	}
}

// confine resolves a path and verifies it lies under a configured root.
func (e *Executor) confine(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fault.Wrap(fault.ExecutorPermanent, err, "cannot resolve %s", path)
	}
	for _, root := range e.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fault.New(fault.ExecutorPermanent, "%s is outside the allowed directories", path)
}

func (e *Executor) search(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	name := strings.ToLower(cmd.ParamOr("name", ""))
	ext := normalizeExt(cmd.ParamOr("type", ""))

	var maxAge time.Time
	if days, ok := cmd.Param("modified_days"); ok {
		n, _ := strconv.Atoi(days)
		maxAge = time.Now().AddDate(0, 0, -n)
	}

	searchRoots := e.roots
	if loc, ok := cmd.Param("location"); ok && loc != "" {
		confined, err := e.confine(loc)
		if err != nil {
			return nil, err
		}
		searchRoots = []string{confined}
	}

	var matches []string
	for _, root := range searchRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtrees narrow the result, they don't fail it.
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || len(matches) >= MaxSearchResults {
				return nil
			}
			base := strings.ToLower(d.Name())
			if name != "" && !strings.Contains(base, name) {
				return nil
			}
			if ext != "" && !strings.HasSuffix(base, ext) {
				return nil
			}
			if !maxAge.IsZero() {
				info, err := d.Info()
				if err != nil || info.ModTime().After(maxAge) {
					return nil
				}
			}
			matches = append(matches, path)
			return nil
		})
		if err != nil {
			return nil, fault.Wrap(fault.ExecutorTransient, err, "search interrupted in %s", root)
		}
	}
	sort.Strings(matches)

	outcome := &schema.ActionOutcome{
		Status:  schema.StatusSuccess,
		Summary: summarizeSearch(matches),
		Refs:    map[string]string{},
	}
	if len(matches) > 0 {
		outcome.Refs["file_path"] = matches[0]
	}
	return outcome, nil
}

// transfer moves or copies a source into a destination directory. When the
// source is a directory, the optional type parameter restricts which of its
// files are transferred.
func (e *Executor) transfer(ctx context.Context, cmd *schema.StructuredCommand, move bool) (*schema.ActionOutcome, error) {
	verb := "Copied"
	if move {
		verb = "Moved"
	}

	source, err := e.confine(cmd.ParamOr("source", ""))
	if err != nil {
		return nil, err
	}
	dest, err := e.confine(cmd.ParamOr("destination", ""))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fault.Wrap(fault.ExecutorTransient, err, "cannot create %s", dest)
	}

	info, err := os.Stat(source)
	if os.IsNotExist(err) {
		return nil, fault.New(fault.ExecutorPermanent, "%s does not exist", source)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ExecutorTransient, err, "cannot stat %s", source)
	}

	var files []string
	if info.IsDir() {
		ext := normalizeExt(cmd.ParamOr("type", ""))
		entries, err := os.ReadDir(source)
		if err != nil {
			return nil, fault.Wrap(fault.ExecutorTransient, err, "cannot read %s", source)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if ext != "" && !strings.HasSuffix(strings.ToLower(entry.Name()), ext) {
				continue
			}
			files = append(files, filepath.Join(source, entry.Name()))
		}
		if len(files) == 0 {
			return &schema.ActionOutcome{
				Status:  schema.StatusSuccess,
				Summary: fmt.Sprintf("Nothing in %s matched, so nothing was %s.", filepath.Base(source), strings.ToLower(verb)),
			}, nil
		}
	} else {
		files = []string{source}
	}

	done := 0
	var lastDest string
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		target := filepath.Join(dest, filepath.Base(f))
		var err error
		if move {
			err = moveFile(f, target)
		} else {
			err = copyFile(f, target)
		}
		if err != nil {
			e.logger.Warn().Err(err).Str("source", f).Msg("transfer failed")
			continue
		}
		done++
		lastDest = target
	}

	switch {
	case done == len(files):
		outcome := &schema.ActionOutcome{
			Status: schema.StatusSuccess,
			Refs:   map[string]string{"file_path": lastDest},
		}
		if len(files) == 1 {
			outcome.Summary = fmt.Sprintf("%s %s to %s.", verb, filepath.Base(files[0]), dest)
		} else {
			outcome.Summary = fmt.Sprintf("%s %d files to %s.", verb, done, dest)
		}
		return outcome, nil
	case done > 0:
		return &schema.ActionOutcome{
			Status:    schema.StatusPartial,
			Summary:   fmt.Sprintf("%s %d of %d files to %s; the rest failed.", verb, done, len(files), dest),
			ErrorKind: fault.ExecutorTransient.String(),
			Refs:      map[string]string{"file_path": lastDest},
		}, nil
	default:
		return nil, fault.New(fault.ExecutorTransient, "all %d transfers into %s failed", len(files), dest)
	}
}

func (e *Executor) delete(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	path, err := e.confine(cmd.ParamOr("path", ""))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fault.New(fault.ExecutorPermanent, "%s does not exist", path)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ExecutorTransient, err, "cannot stat %s", path)
	}

	if info.IsDir() {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ExecutorTransient, err, "cannot delete %s", path)
	}

	return &schema.ActionOutcome{
		Status:  schema.StatusSuccess,
		Summary: fmt.Sprintf("Deleted %s.", filepath.Base(path)),
	}, nil
}

// organize applies the configured rules to a directory. Files matching a
// rule's pattern move into the rule's destination.
func (e *Executor) organize(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	rules := e.rules
	if name, ok := cmd.Param("rule"); ok && name != "" {
		rules = nil
		for _, r := range e.rules {
			if strings.EqualFold(r.Name, name) {
				rules = append(rules, r)
			}
		}
		if len(rules) == 0 {
			return nil, fault.New(fault.ExecutorPermanent, "no organize rule named %s", name)
		}
	}
	if len(rules) == 0 {
		return &schema.ActionOutcome{
			Status:  schema.StatusSuccess,
			Summary: "No organize rules are configured.",
		}, nil
	}

	target := cmd.ParamOr("location", "")
	if target == "" {
		if len(e.roots) == 0 {
			return nil, fault.New(fault.ExecutorPermanent, "no root directories are configured")
		}
		target = e.roots[0]
	}
	location, err := e.confine(target)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(location)
	if err != nil {
		return nil, fault.Wrap(fault.ExecutorTransient, err, "cannot read %s", location)
	}

	moved := 0
	failed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.IsDir() {
			continue
		}
		source := filepath.Join(location, entry.Name())
		n, err := e.ApplyRules(source, rules)
		if err != nil {
			failed++
			continue
		}
		moved += n
	}

	switch {
	case failed == 0:
		return &schema.ActionOutcome{
			Status:  schema.StatusSuccess,
			Summary: fmt.Sprintf("Organized %s: %d files sorted.", filepath.Base(location), moved),
		}, nil
	case moved > 0:
		return &schema.ActionOutcome{
			Status:    schema.StatusPartial,
			Summary:   fmt.Sprintf("Organized %s: %d files sorted, %d failed.", filepath.Base(location), moved, failed),
			ErrorKind: fault.ExecutorTransient.String(),
		}, nil
	default:
		return nil, fault.New(fault.ExecutorTransient, "organizing %s failed for all %d matches", location, failed)
	}
}

// ApplyRules applies the first matching rule to one file, moving or
// deleting it. It returns 1 when the file was acted on, 0 when no rule
// matched or the file is younger than the rule's minimum age. The watcher
// calls this for newly arrived files.
func (e *Executor) ApplyRules(path string, rules []Rule) (int, error) {
	base := filepath.Base(path)
	for _, rule := range rules {
		matched, err := filepath.Match(rule.Pattern, base)
		if err != nil || !matched {
			continue
		}
		if rule.MinAgeDays > 0 {
			info, err := os.Stat(path)
			if err != nil {
				return 0, err
			}
			age := time.Since(info.ModTime())
			if age < time.Duration(rule.MinAgeDays)*24*time.Hour {
				continue
			}
		}
		if rule.Action == ActionDelete {
			if err := os.Remove(path); err != nil {
				return 0, err
			}
			e.logger.Debug().Str("file", base).Str("rule", rule.Name).Msg("rule deleted file")
			return 1, nil
		}
		if err := os.MkdirAll(rule.Dest, 0o755); err != nil {
			return 0, err
		}
		if err := moveFile(path, filepath.Join(rule.Dest, base)); err != nil {
			return 0, err
		}
		e.logger.Debug().Str("file", base).Str("dest", rule.Dest).Str("rule", rule.Name).Msg("rule applied")
		return 1, nil
	}
	return 0, nil
}

// Rules returns the configured organize rules.
func (e *Executor) Rules() []Rule {
	return e.rules
}

// moveFile renames, falling back to copy-and-remove across filesystems.
func moveFile(source, target string) error {
	if err := os.Rename(source, target); err == nil {
		return nil
	}
	if err := copyFile(source, target); err != nil {
		return err
	}
	return os.Remove(source)
}

func copyFile(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func summarizeSearch(matches []string) string {
	if len(matches) == 0 {
		return "I didn't find any matching files."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d files.", len(matches))
	for i, m := range matches {
		if i == 3 {
			sb.WriteString(" And more.")
			break
		}
		fmt.Fprintf(&sb, " %s.", filepath.Base(m))
	}
	return sb.String()
}
