package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/wsrelay/pkg/wsrelay/client"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen <websocket-url>",
	Short: "Print messages relayed by a relay",
	Long: `Connect to a running relay and print every text message it relays,
one per line, until interrupted or the relay closes the connection.

Examples:
  wsrelay listen ws://localhost:8080/`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

var (
	listenDialTimeout time.Duration
	listenReadLimit   int64
)

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().DurationVar(&listenDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	listenCmd.Flags().Int64Var(&listenReadLimit, "read-limit", 16<<20, "largest message accepted, in bytes")
}

func runListen(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL := args[0]
	wsClient, err := client.NewClient().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(listenDialTimeout).
		WithReadLimit(listenReadLimit).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create WebSocket client: %w", err)
	}

	if err := wsClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer func() {
		if disconnectErr := wsClient.Disconnect(); disconnectErr != nil {
			logger.Debug("Error during client disconnect", zap.Error(disconnectErr))
		}
	}()

	logger.Info("Listening for messages... (Press Ctrl+C to exit)", zap.String("url", wsURL))

	out := cmd.OutOrStdout()
	for {
		text, err := wsClient.Receive(ctx)
		switch {
		case err == nil:
			fmt.Fprintln(out, text)
		case ctx.Err() != nil:
			logger.Debug("Signal received, exiting")
			return nil
		case client.IsClosed(err):
			logger.Info("Relay closed the connection")
			return nil
		default:
			return fmt.Errorf("failed to receive message: %w", err)
		}
	}
}
