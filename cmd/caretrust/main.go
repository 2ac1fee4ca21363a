// CareTrust scores caregivers on verified care work instead of credit history.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "caretrust",
		Short: "Alternative credit scoring for caregivers",
		Long: `caretrust turns logged care work, community testimonies and basic
financial behaviour into a 0-1000 Verified Care Score, screens the evidence
for fraud and collusion, and explains every score in plain language.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

// envKeys are the settings that can be overridden with CARETRUST_* variables.
var envKeys = []string{
	"tier",
	"server.host", "server.port",
	"scoring.config_path",
	"repository.driver", "repository.sqlite_path", "repository.postgres_dsn",
	"repository.postgres_host", "repository.postgres_port", "repository.postgres_user",
	"repository.postgres_password", "repository.postgres_db", "repository.postgres_sslmode",
	"cache.type", "cache.redis_addr", "cache.redis_password", "cache.redis_db", "cache.enable_two_phase",
	"eventbus.type", "eventbus.nats_url", "eventbus.nats_token", "eventbus.nats_queue_group",
	"worker.enabled", "worker.tenants",
	"logging.level", "logging.format",
	"tracing.enabled", "tracing.endpoint", "tracing.insecure", "tracing.sample_ratio",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "service config file (default: ./caretrust.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("caretrust")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CARETRUST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// loadConfig overlays the config file and environment on the tier defaults.
func loadConfig() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if domain.Tier(viper.GetString("tier")) == domain.TierPro {
		cfg = domain.ProConfig()
	}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := setupLogging(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg domain.LoggingConfig) error {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "", "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "caretrust %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
