package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X ...cmd.version=..."
var version = "dev"

var (
	verbose  bool
	debug    bool
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wsrelay",
	Short: "WebSocket broadcast relay",
	Long: `wsrelay is a minimal WebSocket server that relays every text message
a client sends to all connected clients.

Use "wsrelay server" to run the relay, and "wsrelay send" / "wsrelay listen"
to talk to a running relay from the command line.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
}

func setupLogger() (*zap.Logger, error) {
	return newLogger(logLevel, verbose, debug)
}

func newLogger(level string, verboseFlag, debugFlag bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = parseLevel(level, verboseFlag, debugFlag)
	config.Development = debugFlag

	return config.Build()
}

// parseLevel maps the --log-level value to a zap level. --debug wins, and
// --verbose raises the default info level to debug.
func parseLevel(level string, verboseFlag, debugFlag bool) zap.AtomicLevel {
	if debugFlag {
		level = "debug"
	} else if verboseFlag && level == "info" {
		level = "debug"
	}

	switch strings.ToLower(level) {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
