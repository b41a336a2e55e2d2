// Package config loads and validates VoiceDesk configuration.
// Configuration lives in ~/.voicedesk/config.yaml and individual values can
// be overridden with VOICEDESK_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the VoiceDesk assistant.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Email    EmailConfig    `mapstructure:"email" yaml:"email"`
	Files    FilesConfig    `mapstructure:"files" yaml:"files"`
	Voice    VoiceConfig    `mapstructure:"voice" yaml:"voice"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig contains configuration for the intent resolution model.
type LLMConfig struct {
	// DefaultProvider selects which provider resolves intents ("ollama" or "openai").
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// Providers maps provider names to their specific configuration.
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	// ResolveTimeoutSec bounds a single intent resolution round trip.
	ResolveTimeoutSec int `mapstructure:"resolve_timeout_sec" yaml:"resolve_timeout_sec"`
}

// ProviderConfig contains configuration for a specific LLM provider.
type ProviderConfig struct {
	// Endpoint is the API endpoint URL (primarily used for local providers like Ollama).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey is the authentication key for the provider.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the specific model to use with this provider.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
}

// SessionConfig controls conversation session behavior.
type SessionConfig struct {
	// HistoryWindow is how many recent turns are kept in the prompt context.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
	// ConfirmTimeoutSec is how long a pending confirmation stays answerable.
	ConfirmTimeoutSec int `mapstructure:"confirm_timeout_sec" yaml:"confirm_timeout_sec"`
	// InactivityTimeoutSec closes a session after this much silence (0 = never).
	InactivityTimeoutSec int `mapstructure:"inactivity_timeout_sec" yaml:"inactivity_timeout_sec"`
	// Affirmatives are spoken phrases accepted as confirmation approval.
	Affirmatives []string `mapstructure:"affirmatives" yaml:"affirmatives"`
	// Negatives are spoken phrases accepted as confirmation refusal.
	Negatives []string `mapstructure:"negatives" yaml:"negatives"`
}

// DispatchConfig controls how actions are dispatched to executors.
type DispatchConfig struct {
	// CallTimeoutSec bounds a single executor call.
	CallTimeoutSec int `mapstructure:"call_timeout_sec" yaml:"call_timeout_sec"`
	// MaxRetries is how many times a transient executor failure is retried.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// RetryBaseMs is the first backoff delay in milliseconds; it doubles per attempt.
	RetryBaseMs int `mapstructure:"retry_base_ms" yaml:"retry_base_ms"`
}

// EmailConfig contains mail account settings.
type EmailConfig struct {
	// DefaultAccount names the account used when an utterance does not pick one.
	DefaultAccount string `mapstructure:"default_account" yaml:"default_account"`
	// Accounts maps friendly names to account settings.
	Accounts map[string]EmailAccount `mapstructure:"accounts" yaml:"accounts"`
	// CredentialsPath is the sealed credentials file written by `voicedesk email login`.
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	// KeyPath is the secretbox key file protecting CredentialsPath.
	KeyPath string `mapstructure:"key_path" yaml:"key_path"`
}

// EmailAccount describes one mail account. The password never appears here;
// it lives in the sealed credentials file keyed by account name.
type EmailAccount struct {
	Address string `mapstructure:"address" yaml:"address"`
	Server  string `mapstructure:"server" yaml:"server"`
	Port    int    `mapstructure:"port" yaml:"port"`
	// Protocol is "imap" or "exchange".
	Protocol string `mapstructure:"protocol" yaml:"protocol"`
}

// FilesConfig contains file action settings.
type FilesConfig struct {
	// Roots are the only directories file actions may touch.
	Roots []string `mapstructure:"roots" yaml:"roots"`
	// DownloadDir receives saved email attachments.
	DownloadDir string `mapstructure:"download_dir" yaml:"download_dir"`
	// WatchFolders are watched for arrivals and organized by Rules.
	WatchFolders []string `mapstructure:"watch_folders" yaml:"watch_folders"`
	// Rules map glob patterns to destination directories for organize runs.
	Rules []OrganizeRule `mapstructure:"rules" yaml:"rules"`
}

// OrganizeRule routes files matching Pattern into Dest, or deletes them.
type OrganizeRule struct {
	// Name lets an utterance apply this rule alone ("run the invoices rule").
	Name    string `mapstructure:"name" yaml:"name,omitempty"`
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Dest    string `mapstructure:"dest" yaml:"dest,omitempty"`
	// MinAgeDays leaves files alone until they are at least this many days
	// old (0 = any age).
	MinAgeDays int `mapstructure:"min_age_days" yaml:"min_age_days,omitempty"`
	// Action is "move" (default when empty) or "delete".
	Action string `mapstructure:"action" yaml:"action,omitempty"`
}

// VoiceConfig holds transcript daemon and speech output settings.
type VoiceConfig struct {
	// Enabled controls whether the daemon connection is attempted.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DaemonURL is the WebSocket URL of the speech daemon.
	DaemonURL string `mapstructure:"daemon_url" yaml:"daemon_url"`
	// ReconnectDelaySec is the delay between reconnection attempts.
	ReconnectDelaySec int `mapstructure:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`
	// MaxReconnects caps reconnection attempts (0 = infinite).
	MaxReconnects int `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	// Voice is the TTS voice ID used for spoken replies.
	Voice string `mapstructure:"voice" yaml:"voice"`
}

// HistoryConfig controls the persistent transcript log.
type HistoryConfig struct {
	// DBPath is the SQLite transcript database.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file.
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	deskDir := filepath.Join(homeDir, ".voicedesk")

	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "ollama",
			Providers: map[string]ProviderConfig{
				"ollama": {
					Endpoint: "http://127.0.0.1:11434",
					Model:    "qwen2.5:3b",
				},
				"openai": {
					APIKey: "",
					Model:  "gpt-4o-mini",
				},
			},
			ResolveTimeoutSec: 15,
		},
		Session: SessionConfig{
			HistoryWindow:        8,
			ConfirmTimeoutSec:    30,
			InactivityTimeoutSec: 600,
			Affirmatives:         []string{"yes", "yeah", "confirm", "do it", "go ahead", "确认", "确认删除", "是的", "好的"},
			Negatives:            []string{"no", "cancel", "stop", "never mind", "取消", "不要", "算了"},
		},
		Dispatch: DispatchConfig{
			CallTimeoutSec: 20,
			MaxRetries:     2,
			RetryBaseMs:    500,
		},
		Email: EmailConfig{
			DefaultAccount:  "",
			Accounts:        map[string]EmailAccount{},
			CredentialsPath: filepath.Join(deskDir, "credentials.sealed"),
			KeyPath:         filepath.Join(deskDir, "credentials.key"),
		},
		Files: FilesConfig{
			Roots:        []string{filepath.Join(homeDir, "Documents"), filepath.Join(homeDir, "Downloads")},
			DownloadDir:  filepath.Join(homeDir, "Downloads"),
			WatchFolders: nil,
			Rules:        nil,
		},
		Voice: VoiceConfig{
			Enabled:           false,
			DaemonURL:         "ws://127.0.0.1:8765/ws/speech",
			ReconnectDelaySec: 5,
			MaxReconnects:     10,
			Voice:             "af_sky",
		},
		History: HistoryConfig{
			DBPath: filepath.Join(deskDir, "transcript.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(deskDir, "logs", "voicedesk.log"),
		},
	}
}

// Load reads configuration from the default location (~/.voicedesk/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".voicedesk", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example override: VOICEDESK_LLM_DEFAULT_PROVIDER=openai
	v.SetEnvPrefix("VOICEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.History.DBPath = expandPath(cfg.History.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Email.CredentialsPath = expandPath(cfg.Email.CredentialsPath)
	cfg.Email.KeyPath = expandPath(cfg.Email.KeyPath)
	cfg.Files.DownloadDir = expandPath(cfg.Files.DownloadDir)
	for i, root := range cfg.Files.Roots {
		cfg.Files.Roots[i] = expandPath(root)
	}
	for i, folder := range cfg.Files.WatchFolders {
		cfg.Files.WatchFolders[i] = expandPath(folder)
	}
	for i, rule := range cfg.Files.Rules {
		cfg.Files.Rules[i].Dest = expandPath(rule.Dest)
	}

	cfg.applySessionDefaults()

	return &cfg, nil
}

// applySessionDefaults fills in missing session values. A config file written
// by an older release may lack the lexicons entirely.
func (c *Config) applySessionDefaults() {
	defaults := Default().Session

	if c.Session.HistoryWindow <= 0 {
		c.Session.HistoryWindow = defaults.HistoryWindow
	}
	if c.Session.ConfirmTimeoutSec <= 0 {
		c.Session.ConfirmTimeoutSec = defaults.ConfirmTimeoutSec
	}
	if len(c.Session.Affirmatives) == 0 {
		c.Session.Affirmatives = defaults.Affirmatives
	}
	if len(c.Session.Negatives) == 0 {
		c.Session.Negatives = defaults.Negatives
	}
	if c.Dispatch.CallTimeoutSec <= 0 {
		c.Dispatch.CallTimeoutSec = Default().Dispatch.CallTimeoutSec
	}
	if c.Dispatch.RetryBaseMs <= 0 {
		c.Dispatch.RetryBaseMs = Default().Dispatch.RetryBaseMs
	}
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".voicedesk", "config.yaml")
	return c.SaveToPath(configPath)
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// GetDataDir returns the VoiceDesk data directory path (~/.voicedesk).
func (c *Config) GetDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".voicedesk")
}

// EnsureDirectories creates all directories VoiceDesk needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.GetDataDir(),
		filepath.Dir(c.Logging.File),
		filepath.Dir(c.History.DBPath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}

	if _, exists := c.LLM.Providers[c.LLM.DefaultProvider]; !exists {
		return fmt.Errorf("default provider '%s' not found in providers map", c.LLM.DefaultProvider)
	}

	if c.Session.HistoryWindow < 1 {
		return fmt.Errorf("session.history_window must be at least 1")
	}

	if c.Session.ConfirmTimeoutSec < 1 {
		return fmt.Errorf("session.confirm_timeout_sec must be at least 1")
	}

	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries cannot be negative")
	}

	if len(c.Files.Roots) == 0 {
		return fmt.Errorf("files.roots cannot be empty; file actions need at least one allowed directory")
	}
	for _, root := range c.Files.Roots {
		if !filepath.IsAbs(root) {
			return fmt.Errorf("files.roots entry '%s' must be an absolute path", root)
		}
	}

	for _, rule := range c.Files.Rules {
		if rule.Pattern == "" {
			return fmt.Errorf("files.rules entries need a pattern")
		}
		if _, err := filepath.Match(rule.Pattern, "check"); err != nil {
			return fmt.Errorf("files.rules pattern '%s' is not a valid glob: %w", rule.Pattern, err)
		}
		switch rule.Action {
		case "", "move":
			if rule.Dest == "" {
				return fmt.Errorf("files.rules entry '%s' moves files and needs a dest", rule.Pattern)
			}
		case "delete":
		default:
			return fmt.Errorf("files.rules entry '%s' has invalid action '%s', must be 'move' or 'delete'", rule.Pattern, rule.Action)
		}
		if rule.MinAgeDays < 0 {
			return fmt.Errorf("files.rules entry '%s' min_age_days cannot be negative", rule.Pattern)
		}
	}

	if c.Email.DefaultAccount != "" {
		if _, exists := c.Email.Accounts[c.Email.DefaultAccount]; !exists {
			return fmt.Errorf("default account '%s' not found in email.accounts", c.Email.DefaultAccount)
		}
	}
	for name, acct := range c.Email.Accounts {
		if acct.Protocol != "imap" && acct.Protocol != "exchange" {
			return fmt.Errorf("email account '%s' has invalid protocol '%s', must be 'imap' or 'exchange'", name, acct.Protocol)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// AddRule appends an organize rule. Named rules must be unique.
func (c *Config) AddRule(rule OrganizeRule) error {
	if rule.Name != "" {
		for _, r := range c.Files.Rules {
			if strings.EqualFold(r.Name, rule.Name) {
				return fmt.Errorf("an organize rule named '%s' already exists", rule.Name)
			}
		}
	}
	c.Files.Rules = append(c.Files.Rules, rule)
	return nil
}

// RemoveRule deletes the organize rule with the given name, reporting
// whether one was found.
func (c *Config) RemoveRule(name string) bool {
	for i, r := range c.Files.Rules {
		if strings.EqualFold(r.Name, name) {
			c.Files.Rules = append(c.Files.Rules[:i], c.Files.Rules[i+1:]...)
			return true
		}
	}
	return false
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
