package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ollama", cfg.LLM.DefaultProvider)
	assert.GreaterOrEqual(t, cfg.Session.HistoryWindow, 1)
	assert.Contains(t, cfg.Session.Affirmatives, "yes")
	assert.Contains(t, cfg.Session.Affirmatives, "确认删除")
	assert.Contains(t, cfg.Session.Negatives, "取消")
}

func TestLoadFromPathCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "ollama", cfg.LLM.DefaultProvider)
	assert.NotEmpty(t, cfg.Session.Affirmatives)
}

func TestLoadFromPathReadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: sk-test
      model: gpt-4o-mini
session:
  history_window: 4
  confirm_timeout_sec: 15
files:
  roots:
    - /tmp/voicedesk-docs
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.Equal(t, 4, cfg.Session.HistoryWindow)
	assert.Equal(t, 15, cfg.Session.ConfirmTimeoutSec)
	assert.Equal(t, []string{"/tmp/voicedesk-docs"}, cfg.Files.Roots)
	// Lexicons absent from the file fall back to defaults.
	assert.NotEmpty(t, cfg.Session.Affirmatives)
	assert.NotEmpty(t, cfg.Session.Negatives)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing default provider",
			mutate: func(c *Config) { c.LLM.DefaultProvider = "" },
			want:   "default_provider",
		},
		{
			name:   "unknown default provider",
			mutate: func(c *Config) { c.LLM.DefaultProvider = "mystery" },
			want:   "not found",
		},
		{
			name:   "zero history window",
			mutate: func(c *Config) { c.Session.HistoryWindow = 0 },
			want:   "history_window",
		},
		{
			name:   "no file roots",
			mutate: func(c *Config) { c.Files.Roots = nil },
			want:   "files.roots",
		},
		{
			name:   "relative file root",
			mutate: func(c *Config) { c.Files.Roots = []string{"documents"} },
			want:   "absolute",
		},
		{
			name: "bad organize rule",
			mutate: func(c *Config) {
				c.Files.Rules = []OrganizeRule{{Pattern: "*.pdf", Dest: ""}}
			},
			want: "rules",
		},
		{
			name: "organize rule with bad action",
			mutate: func(c *Config) {
				c.Files.Rules = []OrganizeRule{{Pattern: "*.pdf", Action: "shred"}}
			},
			want: "invalid action",
		},
		{
			name: "organize rule with negative min age",
			mutate: func(c *Config) {
				c.Files.Rules = []OrganizeRule{{Pattern: "*.pdf", Dest: "/tmp/docs", MinAgeDays: -1}}
			},
			want: "min_age_days",
		},
		{
			name: "bad email protocol",
			mutate: func(c *Config) {
				c.Email.Accounts = map[string]EmailAccount{
					"work": {Address: "a@b.c", Server: "mail.b.c", Port: 993, Protocol: "pop3"},
				}
			},
			want: "protocol",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "loud" },
			want:   "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateDeleteRuleNeedsNoDest(t *testing.T) {
	cfg := Default()
	cfg.Files.Rules = []OrganizeRule{{Name: "scrub-temp", Pattern: "*.tmp", Action: "delete"}}

	assert.NoError(t, cfg.Validate())
}

func TestAddAndRemoveRule(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.AddRule(OrganizeRule{Name: "docs", Pattern: "*.pdf", Dest: "/tmp/docs"}))
	require.NoError(t, cfg.AddRule(OrganizeRule{Name: "scrub", Pattern: "*.tmp", Action: "delete", MinAgeDays: 7}))
	assert.Len(t, cfg.Files.Rules, 2)

	err := cfg.AddRule(OrganizeRule{Name: "Docs", Pattern: "*.doc", Dest: "/tmp/d"})
	require.Error(t, err, "rule names are unique, case-insensitively")
	assert.Contains(t, err.Error(), "already exists")

	assert.True(t, cfg.RemoveRule("DOCS"))
	assert.False(t, cfg.RemoveRule("docs"))
	require.Len(t, cfg.Files.Rules, 1)
	assert.Equal(t, "scrub", cfg.Files.Rules[0].Name)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Session.HistoryWindow = 12
	cfg.Files.Roots = []string{"/srv/shared"}
	require.NoError(t, cfg.SaveToPath(path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.Session.HistoryWindow)
	assert.Equal(t, []string{"/srv/shared"}, loaded.Files.Roots)
}

func TestCredentialStore(t *testing.T) {
	dir := t.TempDir()
	sealedPath := filepath.Join(dir, "credentials.sealed")
	keyPath := filepath.Join(dir, "credentials.key")

	store, err := OpenCredentialStore(sealedPath, keyPath)
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Set("work", "hunter2"))
	require.NoError(t, store.Set("personal", "s3cret"))

	got, err := store.Get("work")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	// Reopening with the same key file recovers the entries.
	reopened, err := OpenCredentialStore(sealedPath, keyPath)
	require.NoError(t, err)
	got, err = reopened.Get("personal")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	require.NoError(t, reopened.Delete("work"))
	_, err = reopened.Get("work")
	assert.Error(t, err)

	// The sealed file must not contain plaintext passwords.
	sealed, err := os.ReadFile(sealedPath)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "s3cret")
}

func TestCredentialStoreWrongKey(t *testing.T) {
	dir := t.TempDir()
	sealedPath := filepath.Join(dir, "credentials.sealed")

	store, err := OpenCredentialStore(sealedPath, filepath.Join(dir, "key-a"))
	require.NoError(t, err)
	require.NoError(t, store.Set("work", "hunter2"))

	other, err := OpenCredentialStore(sealedPath, filepath.Join(dir, "key-b"))
	require.NoError(t, err)
	_, err = other.Get("work")
	assert.Error(t, err)
}
