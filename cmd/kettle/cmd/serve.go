package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sirosfoundation/kettle/internal/composer"
	"github.com/sirosfoundation/kettle/internal/modes"
	"github.com/sirosfoundation/kettle/internal/modes/multi"
	"github.com/sirosfoundation/kettle/internal/modes/single"
	"github.com/sirosfoundation/kettle/pkg/config"
	"github.com/sirosfoundation/kettle/pkg/logging"
	"github.com/sirosfoundation/kettle/pkg/resolver"
)

var (
	configFile      string
	serversFile     string
	logLevel        string
	logFormat       string
	shutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve [-- template args...]",
	Short: "Start the server",
	Long: `Start one server from --config, or an aggregate of servers from --servers.

Arguments after "--" are available to configuration templates through args.

Environment overrides use the KETTLE_ prefix, e.g. KETTLE_SERVER_PORT. In multi
mode each server's configuration is loaded with its own prefix built from its
config_name instead: KETTLE_<CONFIG_NAME>_SERVER_PORT, with the name upper-cased
and non-alphanumerics replaced by underscores.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", getEnvOrDefault("KETTLE_CONFIG", "configs/kettle.yaml"), "Path to configuration file")
	serveCmd.Flags().StringVarP(&serversFile, "servers", "s", "", "Path to a servers file; enables multi mode")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides configuration)")
	serveCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: json, text (overrides configuration)")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.Loader{Resolver: resolver.New(resolver.WithArgs(args))}

	var (
		mode      modes.Mode
		logCfg    logging.Config
		cfg       *config.Config
		specs     map[string]config.ServerSpec
		sourceArg string
		err       error
	)
	if serversFile != "" {
		mode, sourceArg = modes.ModeMulti, serversFile
		if specs, err = loader.LoadServers(serversFile); err != nil {
			return fmt.Errorf("failed to load servers file: %w", err)
		}
		logCfg = logging.DefaultConfig()
	} else {
		mode, sourceArg = modes.ModeSingle, configFile
		if cfg, err = loader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logCfg = cfg.Logging
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	if logFormat != "" {
		logCfg.Format = logFormat
	}

	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	level := logging.ParseLevel(logCfg.Level)
	if level == zapcore.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting kettle",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("mode", string(mode)),
		zap.String("log_level", logging.LevelString(level)),
		zap.String("source", sourceArg))

	var runnerCfg interface{}
	switch mode {
	case modes.ModeMulti:
		runnerCfg = &multi.Config{
			Specs:   composer.Specs(specs),
			Logger:  logger,
			Options: []composer.Option{composer.WithLoader(loader.LoadNamed)},
		}
	default:
		runnerCfg = &single.Config{Config: cfg, Logger: logger}
	}

	runner, err := modes.NewRunner(mode, runnerCfg)
	if err != nil {
		logger.Error("Failed to create runner", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := runner.Run(ctx)
	if runErr != nil {
		logger.Error("Server error", zap.Error(runErr))
	} else {
		logger.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Server exited")
	return runErr
}
