package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/wsrelay/pkg/wsrelay/config"
	"github.com/tsarna/wsrelay/pkg/wsrelay/otel"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server [config-files-or-directories...]",
	Short: "Start the relay",
	Long: `Start the WebSocket relay.

Configuration may be given as HCL files or directories of *.hcl files.
Command line flags override values from configuration files.

Examples:
  wsrelay server
  wsrelay server --listen :9000 --echo=false
  wsrelay server relay.hcl
  wsrelay server ./configs/`,
	RunE: runServer,
}

var (
	serverListen          string
	serverEcho            bool
	serverIdleTimeout     time.Duration
	serverShutdownTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVarP(&serverListen, "listen", "a", config.DefaultListen, "TCP address to listen on")
	serverCmd.Flags().BoolVar(&serverEcho, "echo", true, "relay messages back to their sender")
	serverCmd.Flags().DurationVar(&serverIdleTimeout, "idle-timeout", 0, "close connections idle for this long (0 disables)")
	serverCmd.Flags().DurationVar(&serverShutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for connections to close on shutdown")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd, args)
	if err != nil {
		return err
	}

	if !cmd.Flags().Changed("log-level") {
		logLevel = cfg.LogLevel
	}
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting wsrelay",
		zap.String("version", version),
		zap.Strings("config-paths", args),
		zap.String("listen", cfg.Listen),
		zap.Bool("echo-to-sender", cfg.EchoToSender),
	)

	provider := otel.NewProvider("wsrelay", version)
	listener, err := cfg.ListenerConfig(logger).
		WithMetricsProvider(provider).
		WithTracingProvider(provider).
		Build()
	if err != nil {
		return err
	}

	reporter, err := cfg.NewStatsReporter(listener, logger)
	if err != nil {
		return err
	}
	if reporter != nil {
		reporter.Start()
		defer reporter.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := listener.ListenAndServe(ctx, cfg.Listen)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := listener.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}

	return serveErr
}

// loadServerConfig builds the configuration from files named in args and
// then applies any flags set explicitly on the command line.
func loadServerConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.Default()
	if len(args) > 0 {
		loaded, diags := config.Load(stringSliceToAnySlice(args)...)
		if diags.HasErrors() {
			return nil, diags
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = serverListen
	}
	if flags.Changed("echo") {
		cfg.EchoToSender = serverEcho
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = serverIdleTimeout
	}

	return cfg, nil
}

// Helper to convert []string to []any
func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}
