// Steward is a personal assistant agent daemon.
//
// It exposes a small HTTP API for conversational turns, keeps layered
// per-user memory (recent transcript, semantic recall, rolling
// summary), and gives the model tools for tasks, email, calendar,
// contacts, and web page fetching. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	steward serve            Start the API daemon
//	steward version          Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ashdown/steward-ai-agent/internal/agent"
	"github.com/ashdown/steward-ai-agent/internal/assembler"
	"github.com/ashdown/steward-ai-agent/internal/buildinfo"
	"github.com/ashdown/steward-ai-agent/internal/calendar"
	"github.com/ashdown/steward-ai-agent/internal/config"
	"github.com/ashdown/steward-ai-agent/internal/contacts"
	"github.com/ashdown/steward-ai-agent/internal/embeddings"
	"github.com/ashdown/steward-ai-agent/internal/fetch"
	"github.com/ashdown/steward-ai-agent/internal/history"
	"github.com/ashdown/steward-ai-agent/internal/instructions"
	"github.com/ashdown/steward-ai-agent/internal/llm"
	"github.com/ashdown/steward-ai-agent/internal/mail"
	"github.com/ashdown/steward-ai-agent/internal/notify"
	"github.com/ashdown/steward-ai-agent/internal/summarizer"
	"github.com/ashdown/steward-ai-agent/internal/tasks"
	"github.com/ashdown/steward-ai-agent/internal/tools"
	"github.com/ashdown/steward-ai-agent/internal/vectorstore"
	"github.com/ashdown/steward-ai-agent/internal/web"
)

// main constructs the OS-level environment and delegates to [run] so
// the startup-to-shutdown lifecycle stays testable.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand. The flag package relies on
// package-level globals, and the argument surface here is two flags
// and a subcommand.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}

	switch command {
	case "serve", "":
		return runServe(ctx, stdout, configPath)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprint(w, `steward - personal assistant agent daemon

Usage:
  steward [flags] <command>

Commands:
  serve      Start the API daemon (default)
  version    Print version and build information

Flags:
  -config <path>   Config file (default: search ./config.yaml,
                   ~/.config/steward/config.yaml, /etc/steward/config.yaml)
`)
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Steward", "version", buildinfo.Version)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Reconfigure now that the desired level is known.
	if cfg.LogLevel != "" {
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.LLM.Model)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Stores ---
	dbPath := cfg.DataDir + "/steward.db"
	historyStore, err := history.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open history database %s: %w", dbPath, err)
	}
	defer historyStore.Close()
	logger.Info("history database opened", "path", dbPath)

	taskStore, err := tasks.New(historyStore.DB())
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}

	// --- Model and embedding clients ---
	llmClient := llm.NewMistralClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, logger)
	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := llmClient.Ping(pingCtx); err != nil {
		logger.Warn("model provider unreachable at startup", "error", err)
	}
	pingCancel()

	// --- Memory tiers ---
	selector := instructions.NewSelector(embedder, cfg.Memory.FragmentThreshold, cfg.Memory.MaxFragments, logger)
	summaries := summarizer.New(llmClient, cfg.LLM.SummaryModel)
	memories := &memoryFactory{
		dataDir:    cfg.DataDir,
		history:    historyStore,
		embedder:   embedder,
		selector:   selector,
		summarizer: summaries,
		cfg: assembler.Config{
			WindowSize:           cfg.Memory.WindowSize,
			RetrievalK:           cfg.Memory.RetrievalK,
			RetrievalMaxDistance: cfg.Memory.RetrievalMaxDistance,
			SummaryInterval:      cfg.Memory.SummaryInterval,
		},
		logger:     logger,
		assemblers: make(map[string]*assembler.Assembler),
	}

	// --- Tools ---
	registry := tools.NewRegistry()
	tasks.RegisterTools(registry, taskStore)

	if cfg.Mail.Enabled {
		imapClient := mail.NewClient(mail.IMAPConfig{
			Host:     cfg.Mail.IMAPHost,
			Port:     cfg.Mail.IMAPPort,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			TLS:      cfg.Mail.TLS,
		}, logger)
		defer imapClient.Close()

		smtpCfg := mail.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			// Port 465 is implicit TLS; everything else upgrades.
			StartTLS: cfg.Mail.SMTPPort != 465,
		}
		mail.RegisterTools(registry, imapClient, smtpCfg, cfg.Mail.Address)
		logger.Info("mail tools enabled", "imap", cfg.Mail.IMAPHost, "smtp", cfg.Mail.SMTPHost)
	}

	if cfg.Calendar.Enabled {
		calClient, err := calendar.New(cfg.Calendar.URL, cfg.Calendar.Username, cfg.Calendar.Password, logger)
		if err != nil {
			return fmt.Errorf("calendar client: %w", err)
		}
		calendar.RegisterTools(registry, calClient)
		logger.Info("calendar tools enabled", "url", cfg.Calendar.URL)
	}

	if cfg.Contacts.Enabled {
		cardClient, err := contacts.New(cfg.Contacts.URL, cfg.Contacts.Username, cfg.Contacts.Password, logger)
		if err != nil {
			return fmt.Errorf("contacts client: %w", err)
		}
		contacts.RegisterTools(registry, cardClient)
		logger.Info("contact tools enabled", "url", cfg.Contacts.URL)
	}

	registry.Mount(fetch.Registry(fetch.New()))

	// --- Turn event publisher ---
	var publisher *notify.Publisher
	if cfg.MQTT.Enabled {
		publisher = notify.New(cfg.MQTT, logger)
		if err := publisher.Start(ctx); err != nil {
			logger.Warn("mqtt publisher failed to start", "error", err)
			publisher = nil
		}
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Agent ---
	steward := agent.New(agent.Config{
		Client:   llmClient,
		Model:    cfg.LLM.Model,
		Registry: registry,
		Memory:   memories.forUser,
		Retry: llm.RetryPolicy{
			MaxAttempts: cfg.Agent.RetryAttempts,
			BaseWait:    time.Duration(cfg.Agent.RetryBaseWaitMS) * time.Millisecond,
			Retryable:   llm.IsTransient,
		},
		MaxSteps: cfg.Agent.MaxSteps,
		OnTurn: func(ctx context.Context, info agent.TurnInfo) {
			publisher.PublishTurn(ctx, notify.TurnEvent{
				SessionID: info.SessionID,
				UserID:    info.Identity,
				Steps:     info.Steps,
				Duration:  info.Duration.Truncate(time.Millisecond).String(),
			})
		},
	}, logger)

	server := web.NewServer(cfg.Listen, steward, memories, logger)

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if publisher != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := publisher.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Steward stopped")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// memoryFactory hands out one Assembler per user, lazily. The vector
// index files underneath are per-user, so assemblers are too.
type memoryFactory struct {
	dataDir    string
	history    *history.Store
	embedder   embeddings.Embedder
	selector   *instructions.Selector
	summarizer *summarizer.Manager
	cfg        assembler.Config
	logger     *slog.Logger

	mu         sync.Mutex
	assemblers map[string]*assembler.Assembler
}

func (f *memoryFactory) forUser(userID string) (agent.Memory, error) {
	a, err := f.assembler(userID)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (f *memoryFactory) assembler(userID string) (*assembler.Assembler, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a, ok := f.assemblers[userID]; ok {
		return a, nil
	}

	vectors, err := vectorstore.New(f.dataDir, userID, f.embedder, f.logger)
	if err != nil {
		return nil, fmt.Errorf("open vector store for %s: %w", userID, err)
	}

	a := assembler.New(f.history, vectors, f.selector, f.summarizer, userID, f.cfg, f.logger)
	f.assemblers[userID] = a
	return a, nil
}

// ClearUserData wipes a user's memory and drops the cached assembler
// so a later turn starts from empty stores.
func (f *memoryFactory) ClearUserData(ctx context.Context, userID string) (int, error) {
	a, err := f.assembler(userID)
	if err != nil {
		return 0, err
	}

	deleted, err := a.ClearUserData(ctx)

	f.mu.Lock()
	delete(f.assemblers, userID)
	f.mu.Unlock()

	return deleted, err
}
