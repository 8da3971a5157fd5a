// Package main is a thin demonstration binary showing how a host process
// embeds the profiling agent: build a Config via the Builder, attach a
// Backend, Start it, and Shutdown on signal. It is not a configuration
// front-end for the library — real embedders call the package API
// directly from their own process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riftline/profileagent"
	"github.com/riftline/profileagent/backend/cpuprofile"
	"github.com/riftline/profileagent/report"
)

var (
	version = "dev"
	commit  = "none"
)

type demoConfig struct {
	serverURL  string
	appName    string
	sampleRate uint32
	cycle      int
	tag        string
	logLevel   string
	authToken  string
	usePprof   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &demoConfig{}

	root := &cobra.Command{
		Use:   "profileagent-demo",
		Short: "Demonstrates embedding the continuous profiling agent in a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.serverURL, "server-url", envOrDefault("PROFILEAGENT_SERVER", "http://localhost:4040"), "Ingest server URL")
	root.PersistentFlags().StringVar(&cfg.appName, "app-name", envOrDefault("PROFILEAGENT_APP", "demo.app"), "Application name reported with every Session")
	root.PersistentFlags().Uint32Var(&cfg.sampleRate, "sample-rate", 100, "Nominal sample rate in Hz")
	root.PersistentFlags().IntVar(&cfg.cycle, "cycle-seconds", 10, "Aligned cycle length in seconds; must divide 60")
	root.PersistentFlags().StringVar(&cfg.tag, "tag", "", "Optional static tag as key=value")
	root.PersistentFlags().StringVar(&cfg.authToken, "auth-token", envOrDefault("PROFILEAGENT_TOKEN", ""), "Bearer token for the ingest endpoint")
	root.PersistentFlags().BoolVar(&cfg.usePprof, "pprof", false, "Ship reports pprof-encoded instead of folded-stack text")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("PROFILEAGENT_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("profileagent-demo %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg *demoConfig) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []profileagent.Option{
		profileagent.WithSampleRate(cfg.sampleRate),
		profileagent.WithCycleSeconds(cfg.cycle),
		profileagent.WithSpyName("gospy"),
	}
	if cfg.authToken != "" {
		opts = append(opts, profileagent.WithAuthToken(cfg.authToken))
	}
	if cfg.usePprof {
		opts = append(opts, profileagent.WithReportEncoding(report.Pprof))
	}
	if cfg.tag != "" {
		if k, v, ok := splitTag(cfg.tag); ok {
			opts = append(opts, profileagent.WithTag(k, v))
		} else {
			logger.Warn("ignoring malformed --tag, expected key=value", zap.String("tag", cfg.tag))
		}
	}

	be := cpuprofile.New(cfg.appName, cfg.sampleRate, logger)

	agent, err := profileagent.New(cfg.serverURL, cfg.appName, opts...).
		WithBackend(be).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	logger.Info("profiling agent started",
		zap.String("server", cfg.serverURL),
		zap.String("app", cfg.appName),
		zap.Int("cycle_seconds", cfg.cycle),
	)

	<-ctx.Done()

	shutdownCtx := context.Background()
	if err := agent.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down agent: %w", err)
	}
	logger.Info("profiling agent stopped")
	return nil
}

func splitTag(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
