package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/chriscow/livekit-voice-agent/internal/config"
	"github.com/chriscow/livekit-voice-agent/internal/metrics"
	"github.com/chriscow/livekit-voice-agent/internal/worker"
	"github.com/chriscow/livekit-voice-agent/pkg/job"
	"github.com/chriscow/livekit-voice-agent/pkg/lifecycle"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/session"
	"github.com/chriscow/livekit-voice-agent/pkg/version"
	"github.com/chriscow/livekit-voice-agent/pkg/voice"

	// Register the speech backends.
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/deepgram"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/elevenlabs"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/fake"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/openai"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/silero"
	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/turndetector"
)

var rootCmd = &cobra.Command{
	Use:          "voice-agent",
	Short:        "Energy consultant voice agent for LiveKit rooms",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Join a room and run the agent until interrupted",
	Long: `Connect to LiveKit, start the energy consultant and keep the session
running until SIGINT or SIGTERM. The session is closed and the room left
exactly once on the way out.

Credentials come from LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET,
which may be placed in a .env file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			cfg.Metrics.Addr = addr
		}
		if err := cfg.LiveKit.Validate(); err != nil {
			return fmt.Errorf("livekit config: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		skip, _ := cmd.Flags().GetBool("skip-download")
		if !skip {
			if err := prepareModels(ctx, cfg, logger); err != nil {
				return err
			}
		}

		m := metrics.New()
		j := &worker.Job{
			ContextFactory: func() (*job.Context, error) {
				return job.New(job.Config{
					Credentials: cfg.Credentials(),
					Room:        cfg.Room,
					Metrics:     m,
					Logger:      logger,
				}), nil
			},
			Entrypoint: func(ctx context.Context, jc *job.Context) error {
				return runConsultant(ctx, jc, cfg, m, logger)
			},
			Logger: logger,
		}
		return j.Run(ctx)
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download-files",
	Short: "Download model files for the registered plugins",
	Long: `Fetch the model files of the configured VAD and turn detector ahead of
time. Files already present are kept. Models are stored under the config's
model_path, $LK_MODEL_PATH or ~/.livekit/models. With --all, every registered
plugin's files are fetched into the default location.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if all, _ := cmd.Flags().GetBool("all"); all {
			if err := plugin.DownloadAll(ctx); err != nil {
				return fmt.Errorf("download plugin models: %w", err)
			}
		} else if err := prepareModels(ctx, cfg, logger); err != nil {
			return err
		}
		fmt.Println("Model files are ready")
		return nil
	},
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins [kind]",
	Short: "List registered plugins",
	Long: `List all registered plugins or plugins of a specific kind.
Available kinds: stt, llm, tts, vad, turn`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}

		plugins := plugin.List(kind)
		if len(plugins) == 0 {
			if kind == "" {
				fmt.Println("No plugins registered")
			} else {
				fmt.Printf("No plugins registered for kind: %s\n", kind)
			}
			return nil
		}

		fmt.Printf("%-6s %-14s %-8s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
		fmt.Println("------------------------------------------------------------")
		for _, p := range plugins {
			v := p.Version
			if v == "" {
				v = "N/A"
			}
			desc := p.Description
			if desc == "" {
				desc = "No description"
			}
			fmt.Printf("%-6s %-14s %-8s %s\n", p.Kind, p.Name, v, desc)
		}
		return nil
	},
}

// A dropped room connection ends the session.
var _ lifecycle.Monitor = (*job.Context)(nil)

// runConsultant is the job entrypoint: it wires the room audio into a
// session and hands both to the lifecycle coordinator.
func runConsultant(ctx context.Context, jc *job.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) error {
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, m, logger)
		jc.OnShutdown(srv.Shutdown)
	}
	go logRoomEvents(jc.Room(), logger)

	var ambience *voice.Ambience
	if cfg.Agent.Ambience != "" {
		a, err := voice.LoadAmbience(cfg.Agent.Ambience, cfg.Agent.AmbienceVolume)
		if err != nil {
			logger.Warn("Failed to load ambience", slog.String("file", cfg.Agent.Ambience), slog.String("error", err.Error()))
		} else {
			ambience = a
		}
	}

	sess, err := session.New(session.Options{
		Agent:    newConsultant(),
		Pipeline: cfg.Pipeline,
		IO: session.IO{
			MicIn:      jc.MicIn(),
			SpeakerOut: jc.SpeakerOut(),
		},
		Voice:                cfg.Agent.Voice,
		DisableInterruptions: cfg.Agent.DisableInterruptions,
		MinEndpointDelay:     cfg.Agent.MinEndpointDelay,
		MaxEndpointDelay:     cfg.Agent.MaxEndpointDelay,
		Ambience:             ambience,
		Metrics:              m,
		Logger:               logger,
	})
	if err != nil {
		// nothing is connected yet, but hooks may already be registered
		return multierr.Combine(err, jc.Shutdown(ctx))
	}

	c := lifecycle.New(jc, sess,
		lifecycle.WithTeardownTimeout(cfg.Lifecycle.TeardownTimeout),
		lifecycle.WithMetrics(m),
		lifecycle.WithLogger(logger),
	)
	return c.Run(ctx)
}

// logRoomEvents reports participant changes until the room closes.
func logRoomEvents(room *job.Room, logger *slog.Logger) {
	for ev := range room.Events() {
		attrs := []any{slog.String("event", string(ev.Type))}
		if ev.Participant != nil {
			attrs = append(attrs, slog.String("participant", ev.Participant.Identity))
		}
		logger.Info("Room event", attrs...)
	}
}

// prepareModels fetches the model files of the selected backends once
// before any job starts, into the directory the backends will read.
func prepareModels(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	start := time.Now()
	if err := cfg.Pipeline.Download(ctx, plugin.Default()); err != nil {
		return fmt.Errorf("download models: %w", err)
	}
	logger.Info("Models ready", slog.Duration("duration", time.Since(start)))
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return srv
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func setupLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	switch strings.ToLower(level) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "console", "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func init() {
	for _, c := range []*cobra.Command{startCmd, downloadCmd} {
		c.Flags().String("config", "", "Path to a YAML config file")
		c.Flags().String("env-file", ".env", "Path to a .env file; missing files are ignored")
	}
	downloadCmd.Flags().Bool("all", false, "Download the files of every registered plugin")
	startCmd.Flags().Bool("skip-download", false, "Do not fetch model files before starting")
	startCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(versionCmd, startCmd, downloadCmd, pluginsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
