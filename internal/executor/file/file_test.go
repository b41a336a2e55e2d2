package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicedesk/voicedesk/internal/fault"
	"github.com/voicedesk/voicedesk/internal/schema"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func cmd(t schema.CommandType, params map[string]string) *schema.StructuredCommand {
	spec, ok := schema.Builtin().SpecFor(t)
	if !ok {
		panic("unknown command type " + string(t))
	}
	c, err := spec.NewCommand(params, "turn-1")
	if err != nil {
		panic(err)
	}
	return c
}

func newTestExecutor(t *testing.T, rules []Rule) (*Executor, string) {
	t.Helper()
	root := t.TempDir()
	return New([]string{root}, rules, zerolog.Nop()), root
}

func TestSearchByNameAndType(t *testing.T) {
	e, root := newTestExecutor(t, nil)
	writeFile(t, filepath.Join(root, "report-2026.pdf"), "x")
	writeFile(t, filepath.Join(root, "notes", "report-draft.docx"), "x")
	writeFile(t, filepath.Join(root, "photo.jpg"), "x")

	outcome, err := e.Execute(context.Background(), cmd(schema.FileSearch, map[string]string{"name": "report"}))
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.Contains(t, outcome.Summary, "Found 2 files")
	assert.NotEmpty(t, outcome.Refs["file_path"])

	outcome, err = e.Execute(context.Background(), cmd(schema.FileSearch, map[string]string{"name": "report", "type": "pdf"}))
	require.NoError(t, err)
	assert.Contains(t, outcome.Summary, "Found 1 files")
	assert.Contains(t, outcome.Refs["file_path"], "report-2026.pdf")
}

func TestSearchNoMatches(t *testing.T) {
	e, _ := newTestExecutor(t, nil)

	outcome, err := e.Execute(context.Background(), cmd(schema.FileSearch, map[string]string{"name": "missing"}))
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.Contains(t, outcome.Summary, "didn't find")
	assert.Empty(t, outcome.Refs["file_path"])
}

func TestMoveSingleFile(t *testing.T) {
	e, root := newTestExecutor(t, nil)
	source := filepath.Join(root, "inbox", "report.pdf")
	dest := filepath.Join(root, "archive")
	writeFile(t, source, "content")

	outcome, err := e.Execute(context.Background(), cmd(schema.FileMove, map[string]string{
		"source": source, "destination": dest,
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.NoFileExists(t, source)
	assert.FileExists(t, filepath.Join(dest, "report.pdf"))
	assert.Equal(t, filepath.Join(dest, "report.pdf"), outcome.Refs["file_path"])
}

func TestMoveDirectoryByType(t *testing.T) {
	e, root := newTestExecutor(t, nil)
	source := filepath.Join(root, "downloads")
	dest := filepath.Join(root, "docs")
	writeFile(t, filepath.Join(source, "a.pdf"), "x")
	writeFile(t, filepath.Join(source, "b.pdf"), "x")
	writeFile(t, filepath.Join(source, "c.jpg"), "x")

	outcome, err := e.Execute(context.Background(), cmd(schema.FileMove, map[string]string{
		"source": source, "destination": dest, "type": "pdf",
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.Contains(t, outcome.Summary, "2 files")
	assert.FileExists(t, filepath.Join(dest, "a.pdf"))
	assert.FileExists(t, filepath.Join(source, "c.jpg"))
}

func TestCopyKeepsSource(t *testing.T) {
	e, root := newTestExecutor(t, nil)
	source := filepath.Join(root, "report.pdf")
	dest := filepath.Join(root, "backup")
	writeFile(t, source, "content")

	outcome, err := e.Execute(context.Background(), cmd(schema.FileCopy, map[string]string{
		"source": source, "destination": dest,
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.FileExists(t, source)

	copied, err := os.ReadFile(filepath.Join(dest, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(copied))
}

func TestDeleteFile(t *testing.T) {
	e, root := newTestExecutor(t, nil)
	target := filepath.Join(root, "old.log")
	writeFile(t, target, "x")

	outcome, err := e.Execute(context.Background(), cmd(schema.FileDelete, map[string]string{"path": target}))
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.NoFileExists(t, target)
}

func TestDeleteMissing(t *testing.T) {
	e, root := newTestExecutor(t, nil)

	_, err := e.Execute(context.Background(), cmd(schema.FileDelete, map[string]string{
		"path": filepath.Join(root, "missing.log"),
	}))
	require.Error(t, err)
	assert.Equal(t, fault.ExecutorPermanent, fault.KindOf(err))
}

func TestRootConfinement(t *testing.T) {
	e, root := newTestExecutor(t, nil)

	tests := []string{
		"/etc/passwd",
		filepath.Join(root, "..", "outside.txt"),
		root + "-sibling/file.txt",
	}
	for _, path := range tests {
		_, err := e.Execute(context.Background(), cmd(schema.FileDelete, map[string]string{"path": path}))
		require.Error(t, err, path)
		assert.Equal(t, fault.ExecutorPermanent, fault.KindOf(err), path)
		assert.Contains(t, err.Error(), "outside the allowed directories")
	}
}

func TestOrganizeByRules(t *testing.T) {
	root := t.TempDir()
	rules := []Rule{
		{Name: "docs", Pattern: "*.pdf", Dest: filepath.Join(root, "Documents")},
		{Name: "pictures", Pattern: "*.jpg", Dest: filepath.Join(root, "Pictures")},
	}
	e := New([]string{root}, rules, zerolog.Nop())

	inbox := filepath.Join(root, "inbox")
	writeFile(t, filepath.Join(inbox, "invoice.pdf"), "x")
	writeFile(t, filepath.Join(inbox, "holiday.jpg"), "x")
	writeFile(t, filepath.Join(inbox, "notes.txt"), "x")

	outcome, err := e.Execute(context.Background(), cmd(schema.FileOrganize, map[string]string{"location": inbox}))
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.Contains(t, outcome.Summary, "2 files sorted")
	assert.FileExists(t, filepath.Join(root, "Documents", "invoice.pdf"))
	assert.FileExists(t, filepath.Join(root, "Pictures", "holiday.jpg"))
	// Unmatched files stay put.
	assert.FileExists(t, filepath.Join(inbox, "notes.txt"))
}

func TestOrganizeNamedRule(t *testing.T) {
	root := t.TempDir()
	rules := []Rule{
		{Name: "docs", Pattern: "*.pdf", Dest: filepath.Join(root, "Documents")},
		{Name: "pictures", Pattern: "*.jpg", Dest: filepath.Join(root, "Pictures")},
	}
	e := New([]string{root}, rules, zerolog.Nop())

	inbox := filepath.Join(root, "inbox")
	writeFile(t, filepath.Join(inbox, "invoice.pdf"), "x")
	writeFile(t, filepath.Join(inbox, "holiday.jpg"), "x")

	_, err := e.Execute(context.Background(), cmd(schema.FileOrganize, map[string]string{
		"location": inbox, "rule": "docs",
	}))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "Documents", "invoice.pdf"))
	// The pictures rule did not run.
	assert.FileExists(t, filepath.Join(inbox, "holiday.jpg"))
}

func TestOrganizeUnknownRule(t *testing.T) {
	root := t.TempDir()
	e := New([]string{root}, []Rule{{Name: "docs", Pattern: "*.pdf", Dest: filepath.Join(root, "d")}}, zerolog.Nop())

	_, err := e.Execute(context.Background(), cmd(schema.FileOrganize, map[string]string{"rule": "mystery"}))
	require.Error(t, err)
	assert.Equal(t, fault.ExecutorPermanent, fault.KindOf(err))
}

func TestOrganizeDeleteAction(t *testing.T) {
	root := t.TempDir()
	rules := []Rule{
		{Name: "scrub-temp", Pattern: "*.tmp", Action: ActionDelete},
		{Name: "docs", Pattern: "*.pdf", Dest: filepath.Join(root, "Documents")},
	}
	e := New([]string{root}, rules, zerolog.Nop())

	inbox := filepath.Join(root, "inbox")
	writeFile(t, filepath.Join(inbox, "scratch.tmp"), "x")
	writeFile(t, filepath.Join(inbox, "invoice.pdf"), "x")

	outcome, err := e.Execute(context.Background(), cmd(schema.FileOrganize, map[string]string{"location": inbox}))
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSuccess, outcome.Status)
	assert.NoFileExists(t, filepath.Join(inbox, "scratch.tmp"))
	assert.FileExists(t, filepath.Join(root, "Documents", "invoice.pdf"))
}

func TestOrganizeMinAgeSkipsRecentFiles(t *testing.T) {
	root := t.TempDir()
	rules := []Rule{
		{Name: "old-logs", Pattern: "*.log", Dest: filepath.Join(root, "Archive"), MinAgeDays: 7},
	}
	e := New([]string{root}, rules, zerolog.Nop())

	inbox := filepath.Join(root, "inbox")
	fresh := filepath.Join(inbox, "today.log")
	stale := filepath.Join(inbox, "lastmonth.log")
	writeFile(t, fresh, "x")
	writeFile(t, stale, "x")
	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	_, err := e.Execute(context.Background(), cmd(schema.FileOrganize, map[string]string{"location": inbox}))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "Archive", "lastmonth.log"))
	// Files younger than the rule's minimum age stay put.
	assert.FileExists(t, fresh)
}

func TestOrganizeNoRootsNoLocation(t *testing.T) {
	e := New(nil, []Rule{{Name: "docs", Pattern: "*.pdf", Dest: "Documents"}}, zerolog.Nop())

	_, err := e.Execute(context.Background(), cmd(schema.FileOrganize, nil))
	require.Error(t, err)
	assert.Equal(t, fault.ExecutorPermanent, fault.KindOf(err))
	assert.Contains(t, err.Error(), "no root directories")
}

func TestWatcherOrganizesArrivals(t *testing.T) {
	root := t.TempDir()
	watched := filepath.Join(root, "inbox")
	require.NoError(t, os.MkdirAll(watched, 0o755))

	rules := []Rule{{Name: "docs", Pattern: "*.pdf", Dest: filepath.Join(root, "Documents")}}
	e := New([]string{root}, rules, zerolog.Nop())

	w, err := NewWatcher(e, []string{watched}, zerolog.Nop())
	require.NoError(t, err)
	w.settle = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	writeFile(t, filepath.Join(watched, "invoice.pdf"), "x")

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(root, "Documents", "invoice.pdf"))
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, w.Close())
	<-w.Done()
}
