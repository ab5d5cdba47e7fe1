package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sessiond/internal/config"
	"sessiond/internal/httpapi"
	"sessiond/internal/journal"
	"sessiond/internal/session"
	"sessiond/internal/sim"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func buildRootCmd() *cobra.Command {
	var (
		cfgPath     string
		corsEnabled bool
		corsOrigins []string
	)
	root := &cobra.Command{
		Use:           "sessiond",
		Short:         "Screen-share session orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, cfgPath, corsEnabled, corsOrigins)
		},
	}
	// Flags with environment variable defaults
	root.Flags().StringVar(&cfgPath, "config", envStr("SESSIOND_CONFIG", ""), "Path to config file (json|yaml|toml)")
	root.Flags().String("addr", envStr("SESSIOND_ADDR", ""), "HTTP listen address, e.g. :8090")
	root.Flags().String("log-level", envStr("SESSIOND_LOG_LEVEL", ""), "Log level: debug|info|warn|error")
	root.Flags().Float64("fps", 0, "Capture rate in frames per second")
	root.Flags().String("journal", envStr("SESSIOND_JOURNAL", ""), "Path to the event journal file (empty disables)")
	root.Flags().BoolVar(&corsEnabled, "cors-enabled", false, "Enable CORS middleware")
	root.Flags().StringSliceVar(&corsOrigins, "cors-origins", []string{"*"}, "Allowed CORS origins")
	return root
}

func runDaemon(cmd *cobra.Command, cfgPath string, corsEnabled bool, corsOrigins []string) error {
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	// Flags override file values.
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Addr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetFloat64("fps"); v > 0 {
		cfg.CaptureFPS = v
	}
	if v, _ := cmd.Flags().GetString("journal"); v != "" {
		cfg.JournalPath = v
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	collab := session.Collaborators{
		Capture:     sim.NewScreen(),
		Audio:       sim.NewMicrophone(),
		Classifier:  sim.EnergyClassifier{Aggressiveness: cfg.VADAggressiveness},
		Analyzer:    sim.Analyzer{},
		Transcriber: sim.Transcriber{},
		Synthesizer: sim.Speaker{Log: logger.With().Str("component", "speaker").Logger()},
		Renderer:    sim.Renderer{Log: logger.With().Str("component", "renderer").Logger()},
	}
	sess := session.New(cfg, collab, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, sess.Bus(), logger.With().Str("component", "journal").Logger())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
	}

	if err := sess.Start(ctx); err != nil {
		return err
	}

	httpapi.SetLogger(logger.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetCORSOptions(corsEnabled, corsOrigins,
		[]string{"GET", "POST", "OPTIONS"}, []string{"Accept", "Content-Type"})
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(sess)}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("sessiond listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	// Block until a signal arrives or an essential loop takes the session down.
	select {
	case <-ctx.Done():
	case <-sess.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	sess.Stop()
	return nil
}
