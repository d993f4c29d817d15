package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	agentmem "github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "agentmem",
	Short: "Inspect and grow the generative memory stream of a character.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path := viper.GetString("env-file"); path != "" {
			if err := godotenv.Load(path); err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	viper.SetDefault("log-level", "warn")

	rootCmd.PersistentFlags().String("env-file", "", "load environment variables from this file before anything else")
	rootCmd.PersistentFlags().String("config", "", "JSON configuration file; the environment is used when empty")
	rootCmd.PersistentFlags().String("log-level", "warn", `log level ("debug", "info", "warn", "error")`)
	rootCmd.PersistentFlags().String("store", "", "store provider (sqlite, postgres, oceanbase, redis, jsonfile); overrides DATABASE_PROVIDER")
	rootCmd.PersistentFlags().String("agent", "", "character name; overrides AGENT_NAME")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	for _, name := range []string{"env-file", "config", "log-level", "store", "agent", "metrics-addr"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("agentmem")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(seedCmd, recordCmd, retrieveCmd, reflectCmd, statusCmd, bioCmd, listCmd)
}

func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func loadConfig() (*agentmem.Config, error) {
	if path := viper.GetString("config"); path != "" {
		cfg, err := agentmem.LoadConfigFromJSON(path)
		if err != nil {
			return nil, err
		}
		if store := viper.GetString("store"); store != "" {
			cfg.Store.Provider = store
		}
		if agent := viper.GetString("agent"); agent != "" {
			cfg.Agent.Name = agent
		}
		return cfg, nil
	}

	// the env loader derives the store options from DATABASE_PROVIDER
	if store := viper.GetString("store"); store != "" {
		if err := os.Setenv("DATABASE_PROVIDER", store); err != nil {
			return nil, err
		}
	}
	if agent := viper.GetString("agent"); agent != "" {
		if err := os.Setenv("AGENT_NAME", agent); err != nil {
			return nil, err
		}
	}
	return agentmem.LoadConfigFromEnv()
}

// session is an open client with its logger and metrics server.
type session struct {
	client  *agentmem.Client
	logger  *zap.Logger
	metrics *http.Server
}

// openSession builds the client and loads the stream. Seeds may be nil.
func openSession(ctx context.Context, seeds []string) (*session, bool, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, false, err
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, false, err
	}

	recorder := metrics.NewRecorder(metrics.DefaultConfig())
	client, err := agentmem.NewClient(cfg, agentmem.WithLogger(logger), agentmem.WithMetrics(recorder))
	if err != nil {
		return nil, false, err
	}

	s := &session{client: client, logger: logger}
	if addr := viper.GetString("metrics-addr"); addr != "" {
		s.metrics = serveMetrics(addr, recorder, logger)
	}

	firstRun, err := client.Bootstrap(ctx, seeds)
	if err != nil {
		s.close()
		return nil, false, err
	}
	return s, firstRun, nil
}

func (s *session) close() {
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(ctx)
	}
	if err := s.client.Close(); err != nil {
		s.logger.Warn("failed to close client", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func serveMetrics(addr string, recorder *metrics.Recorder, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
