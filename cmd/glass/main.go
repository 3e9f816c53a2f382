package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AxoRm/glass/internal/ask"
	"github.com/AxoRm/glass/internal/bus"
	"github.com/AxoRm/glass/internal/capture"
	"github.com/AxoRm/glass/internal/config"
	"github.com/AxoRm/glass/internal/domain"
	"github.com/AxoRm/glass/internal/memory"
	"github.com/AxoRm/glass/internal/overlay"
	"github.com/AxoRm/glass/internal/preset"
	"github.com/AxoRm/glass/internal/transcribe"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "glass",
		Short: "Glass: discreet desktop AI assistant",
		Long:  "Glass streams model responses into a desktop overlay, with screen context and live voice transcription.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.glass/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(askCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyLogLevel(cfg.General.LogLevel)
	return cfg, nil
}

func applyLogLevel(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// buildOrchestrator assembles the shared collaborator graph used by both the
// serve and ask commands. Callers own the returned store's lifetime.
func buildOrchestrator(cfg *config.Config, stateBus *bus.Bus) (*ask.Orchestrator, *memory.SQLiteStore, error) {
	store, err := memory.NewSQLiteStore(cfg.General.DBPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("message store: %w", err)
	}

	presets := preset.NewStore()
	if cfg.General.PresetsDir != "" {
		if err := presets.LoadFromDirectory(cfg.General.PresetsDir, logger); err != nil {
			logger.Warn("presets not loaded", "dir", cfg.General.PresetsDir, "err", err)
		}
	}

	resolver := config.NewResolver(cfg, presets)

	orchestrator := ask.New(ask.Options{
		Resolver: resolver,
		Capture:  capture.New(logger),
		Store:    store,
		Bus:      stateBus,
		Logger:   logger,
	})
	return orchestrator, store, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the overlay server and transcription session",
		Long:  "Starts the overlay websocket server and, when enabled, the realtime voice transcription session. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateBus := bus.New(logger)

	orchestrator, store, err := buildOrchestrator(cfg, stateBus)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := overlay.NewHub(overlay.HubConfig{
		Port:   cfg.Overlay.Port,
		Path:   cfg.Overlay.Path,
		Logger: logger,
	}, orchestrator)
	stateBus.Register("overlay", hub)

	if cfg.Transcribe.Enabled {
		session, err := startTranscription(ctx, cfg, orchestrator)
		if err != nil {
			logger.Warn("transcription unavailable", "err", err)
		} else {
			defer session.Close()
			hub.SetAudioSink(session.SendAudio)
			go heartbeatLoop(ctx, session, cfg.Transcribe.HeartbeatSeconds)
		}
	}

	logger.Info("glass started", "version", version)
	return hub.Start(ctx)
}

// transcriptCompletedType is the frame carrying a finished utterance.
const transcriptCompletedType = "conversation.item.input_audio_transcription.completed"

func startTranscription(ctx context.Context, cfg *config.Config, orchestrator *ask.Orchestrator) (*transcribe.Session, error) {
	return transcribe.Open(ctx, transcribe.Config{
		APIKey:   cfg.Provider.APIKey,
		APIBase:  cfg.Transcribe.APIBase,
		Model:    cfg.Transcribe.Model,
		Language: cfg.Transcribe.Language,
		Prompt:   cfg.Transcribe.Prompt,
		Routing:  domain.RoutingMode(cfg.Provider.Routing),
		Provider: cfg.Provider.Name,
		Logger:   logger,
		OnFrame: func(frame domain.TranscriptFrame) {
			if frame.Type != transcriptCompletedType {
				return
			}
			var payload struct {
				Transcript string `json:"transcript"`
			}
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				return
			}
			orchestrator.IngestVoiceDraft(payload.Transcript, "user")
		},
		OnError: func(err error) {
			logger.Error("transcription error", "err", err)
		},
		OnClose: func(code int, reason string) {
			logger.Info("transcription socket closed", "code", code, "reason", reason)
		},
	})
}

func heartbeatLoop(ctx context.Context, session *transcribe.Session, intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = 15
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session.Heartbeat()
		}
	}
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a one-shot prompt and stream the response to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
}

// printSink streams response growth to stdout as deltas arrive.
type printSink struct {
	printed int
}

func (p *printSink) OnState(state domain.AskState) {
	if len(state.Response) > p.printed {
		fmt.Print(state.Response[p.printed:])
		p.printed = len(state.Response)
	}
}

func (p *printSink) OnStreamError(msg string) {
	fmt.Fprintf(os.Stderr, "\nerror: %s\n", msg)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateBus := bus.New(logger)
	stateBus.Register("stdout", &printSink{})

	orchestrator, store, err := buildOrchestrator(cfg, stateBus)
	if err != nil {
		return err
	}
	defer store.Close()

	prompt := strings.Join(args, " ")
	if err := orchestrator.SendMessage(ctx, prompt); err != nil {
		return err
	}
	fmt.Println()
	return nil
}
