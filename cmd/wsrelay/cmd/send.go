package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/wsrelay/pkg/wsrelay/client"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <websocket-url> <message...>",
	Short: "Send a text message to a relay",
	Long: `Send a text message to a running relay.

The first argument is the WebSocket URL to connect to. The remaining
arguments are joined with spaces to form the message.

Examples:
  wsrelay send ws://localhost:8080/ "hello everyone"
  wsrelay send ws://localhost:8080/ '{"kind":"ping"}'`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var (
	sendDialTimeout time.Duration
	sendTimeout     time.Duration
)

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().DurationVar(&sendDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "Total operation timeout")
}

func runSend(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	wsURL := args[0]
	message := strings.Join(args[1:], " ")

	logger.Debug("Sending message",
		zap.String("url", wsURL),
		zap.Int("length", len(message)),
		zap.Duration("dial-timeout", sendDialTimeout),
		zap.Duration("timeout", sendTimeout),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	wsClient, err := client.NewClient().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(sendDialTimeout).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create WebSocket client: %w", err)
	}

	if err := wsClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer func() {
		if disconnectErr := wsClient.Disconnect(); disconnectErr != nil {
			logger.Warn("Error during client disconnect", zap.Error(disconnectErr))
		}
	}()

	if err := wsClient.Send(ctx, message); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	logger.Info("Message sent", zap.String("url", wsURL), zap.Int("length", len(message)))
	return nil
}
