// Package main is the entry point for the voicedesk assistant. voicedesk
// turns finalized speech transcripts into mail and file actions, asking for
// spoken confirmation before anything destructive runs.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/voicedesk/voicedesk/internal/config"
	"github.com/voicedesk/voicedesk/internal/dispatch"
	"github.com/voicedesk/voicedesk/internal/executor/email"
	"github.com/voicedesk/voicedesk/internal/executor/file"
	"github.com/voicedesk/voicedesk/internal/gate"
	"github.com/voicedesk/voicedesk/internal/history"
	"github.com/voicedesk/voicedesk/internal/llm"
	"github.com/voicedesk/voicedesk/internal/logging"
	"github.com/voicedesk/voicedesk/internal/orchestrator"
	"github.com/voicedesk/voicedesk/internal/resolver"
	"github.com/voicedesk/voicedesk/internal/schema"
	"github.com/voicedesk/voicedesk/internal/session"
	"github.com/voicedesk/voicedesk/internal/voice"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "voicedesk",
		Short: "voicedesk - voice-driven mail and file assistant",
		Long: `voicedesk listens to a local speech daemon, resolves utterances into
mail and file commands, and speaks the result back. Destructive commands
always wait for an explicit spoken confirmation.

Run the assistant:        voicedesk
Type instead of talking:  voicedesk ask "check my unread mail"
Store mail credentials:   voicedesk email login work
Inspect configuration:    voicedesk config show`,
		RunE: runAssistant,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.voicedesk/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("voicedesk v%s\n", version)
		},
	})
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(emailCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

func saveConfig(cfg *config.Config) error {
	if cfgPath != "" {
		return cfg.SaveToPath(cfgPath)
	}
	return cfg.Save()
}

func setupLogging(cfg *config.Config) (zerolog.Logger, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return logging.Setup(&logging.Config{
		Level:    level,
		FilePath: cfg.Logging.File,
		Pretty:   true,
	})
}

// assistant bundles everything the run loop needs plus its shutdown hooks.
type assistant struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	daemon   *voice.DaemonClient
	watcher  *file.Watcher
	log      *history.Log
	logger   zerolog.Logger
}

func buildAssistant(cfg *config.Config, logger zerolog.Logger) (*assistant, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("preparing data directories: %w", err)
	}

	providerCfg, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("no configuration for llm provider %q", cfg.LLM.DefaultProvider)
	}
	provider, err := llm.NewProvider(&llm.ProviderConfig{
		Name:     cfg.LLM.DefaultProvider,
		Endpoint: providerCfg.Endpoint,
		APIKey:   providerCfg.APIKey,
		Model:    providerCfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm provider: %w", err)
	}
	res := resolver.New(provider, schema.Builtin(), resolver.Config{
		Timeout: time.Duration(cfg.LLM.ResolveTimeoutSec) * time.Second,
	}, logging.Component("resolver"))

	dispatcher := dispatch.New(dispatch.Config{
		CallTimeout: time.Duration(cfg.Dispatch.CallTimeoutSec) * time.Second,
		MaxRetries:  cfg.Dispatch.MaxRetries,
		RetryBase:   time.Duration(cfg.Dispatch.RetryBaseMs) * time.Millisecond,
	}, logging.Component("dispatch"))

	// The mailbox protocol client is injected at this seam. Until an
	// account backend is wired in, mail commands fail with a spoken
	// authentication message pointing at `voicedesk email login`.
	dispatcher.Register(email.New(email.UnconfiguredClient{}, cfg.Files.DownloadDir, logging.Component("email")))

	rules := make([]file.Rule, 0, len(cfg.Files.Rules))
	for _, r := range cfg.Files.Rules {
		rules = append(rules, file.Rule{
			Name:       r.Name,
			Pattern:    r.Pattern,
			Dest:       r.Dest,
			MinAgeDays: r.MinAgeDays,
			Action:     r.Action,
		})
	}
	fileExec := file.New(cfg.Files.Roots, rules, logging.Component("files"))
	dispatcher.Register(fileExec)

	var watcher *file.Watcher
	if len(cfg.Files.WatchFolders) > 0 {
		watcher, err = file.NewWatcher(fileExec, cfg.Files.WatchFolders, logging.Component("watcher"))
		if err != nil {
			return nil, fmt.Errorf("watching folders: %w", err)
		}
	}

	sessions := session.NewManager(session.ManagerConfig{
		WindowSize:        cfg.Session.HistoryWindow,
		InactivityTimeout: time.Duration(cfg.Session.InactivityTimeoutSec) * time.Second,
	})
	gates := gate.NewManager(gate.Config{
		Timeout:      time.Duration(cfg.Session.ConfirmTimeoutSec) * time.Second,
		Affirmatives: cfg.Session.Affirmatives,
		Negatives:    cfg.Session.Negatives,
	})

	transcript, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening transcript log: %w", err)
	}

	var daemon *voice.DaemonClient
	var sink voice.SpeechSink
	if cfg.Voice.Enabled {
		daemon = voice.NewDaemonClient(voice.DaemonClientConfig{
			URL:            cfg.Voice.DaemonURL,
			ReconnectDelay: time.Duration(cfg.Voice.ReconnectDelaySec) * time.Second,
			MaxReconnects:  cfg.Voice.MaxReconnects,
			Voice:          cfg.Voice.Voice,
		}, logging.Component("voice"))
		sink = daemon
	}

	orch := orchestrator.New(res, sessions, gates, dispatcher, sink, transcript, logger)
	return &assistant{
		orch:     orch,
		sessions: sessions,
		daemon:   daemon,
		watcher:  watcher,
		log:      transcript,
		logger:   logger,
	}, nil
}

func (a *assistant) close() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing folder watcher")
		}
	}
	if a.daemon != nil {
		if err := a.daemon.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing voice daemon connection")
		}
	}
	if a.log != nil {
		if err := a.log.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing transcript log")
		}
	}
	logging.Close()
}

func runAssistant(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	a, err := buildAssistant(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.watcher != nil {
		go a.watcher.Run(ctx)
	}
	go reapIdleSessions(ctx, a.orch, a.logger)

	defer func() {
		s := a.orch.Stats()
		logger.Info().
			Int("utterances", s.Utterances).
			Int("dispatched", s.Dispatched).
			Int("failed", s.DispatchFailed).
			Int("confirmations", s.ConfirmsArmed).
			Dur("avg_latency", s.AvgLatency()).
			Msg("session totals")
	}()

	if a.daemon != nil {
		if err := a.daemon.Connect(ctx); err != nil {
			return fmt.Errorf("connecting to voice daemon: %w", err)
		}
		logger.Info().Str("daemon", cfg.Voice.DaemonURL).Msg("voicedesk listening")
		a.orch.Run(ctx, a.daemon)
		return nil
	}

	// No voice daemon configured: read typed utterances from stdin so the
	// whole pipeline still works at a keyboard.
	logger.Info().Msg("voice disabled, reading from stdin")
	return runConsole(ctx, a.orch)
}

// runConsole feeds typed lines through the same pipeline spoken utterances
// take. One console session, strictly sequential.
func runConsole(ctx context.Context, orch *orchestrator.Orchestrator) error {
	const sessionID = "console"
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("voicedesk ready. Type a request, or \"exit\" to quit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if line == "stats" {
			s := orch.Stats()
			fmt.Printf("utterances=%d dispatched=%d failed=%d confirmations=%d avg=%s\n",
				s.Utterances, s.Dispatched, s.DispatchFailed, s.ConfirmsArmed, s.AvgLatency())
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Println(orch.HandleUtterance(ctx, sessionID, line))
	}
}

func reapIdleSessions(ctx context.Context, orch *orchestrator.Orchestrator, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range orch.ReapIdle() {
				logger.Info().Str("session", id).Msg("idle session closed")
			}
		}
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <utterance>",
		Short: "Resolve and run a single request, then exit",
		Long: `ask pushes one utterance through the full pipeline and prints the
reply. Destructive requests print the confirmation question and stop;
confirmation needs an interactive session.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			a, err := buildAssistant(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Println(a.orch.HandleUtterance(ctx, "ask", strings.Join(args, " ")))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Run: func(cmd *cobra.Command, args []string) {
			if cfgPath != "" {
				fmt.Println(cfgPath)
				return
			}
			home, _ := os.UserHomeDir()
			fmt.Println(home + "/.voicedesk/config.yaml")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(rulesCmd())

	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage organize rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the configured organize rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Files.Rules) == 0 {
				fmt.Println("no organize rules configured")
				return nil
			}
			for _, r := range cfg.Files.Rules {
				action := r.Action
				if action == "" {
					action = "move"
				}
				fmt.Printf("%-16s %-16s %s -> %s (min age %dd)\n", r.Name, action, r.Pattern, r.Dest, r.MinAgeDays)
			}
			return nil
		},
	})

	var (
		rulePattern string
		ruleDest    string
		ruleAction  string
		ruleMinAge  int
	)
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an organize rule and save the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.AddRule(config.OrganizeRule{
				Name:       args[0],
				Pattern:    rulePattern,
				Dest:       ruleDest,
				Action:     ruleAction,
				MinAgeDays: ruleMinAge,
			}); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("Added rule %s.\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&rulePattern, "pattern", "", "glob pattern the file name must match")
	add.Flags().StringVar(&ruleDest, "dest", "", "destination directory for moved files")
	add.Flags().StringVar(&ruleAction, "action", "move", "move or delete")
	add.Flags().IntVar(&ruleMinAge, "min-age-days", 0, "only act on files at least this old")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an organize rule and save the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.RemoveRule(args[0]) {
				return fmt.Errorf("no organize rule named '%s'", args[0])
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("Removed rule %s.\n", args[0])
			return nil
		},
	})

	return cmd
}

func emailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "email",
		Short: "Manage mail accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "login <account>",
		Short: "Store the password for a configured mail account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			account := args[0]
			if _, ok := cfg.Email.Accounts[account]; !ok {
				return fmt.Errorf("account %q is not configured; add it to the email.accounts section first", account)
			}

			fmt.Printf("Password for %s: ", account)
			password, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}

			store, err := config.OpenCredentialStore(cfg.Email.CredentialsPath, cfg.Email.KeyPath)
			if err != nil {
				return err
			}
			if err := store.Set(account, string(password)); err != nil {
				return err
			}
			fmt.Printf("Stored credentials for %s.\n", account)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout <account>",
		Short: "Remove stored credentials for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := config.OpenCredentialStore(cfg.Email.CredentialsPath, cfg.Email.KeyPath)
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed credentials for %s.\n", args[0])
			return nil
		},
	})

	return cmd
}
