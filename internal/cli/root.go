// Package cli provides the command-line front end for duopane.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/version"
)

var (
	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command. Flags are bound to a fresh viper
// instance so DUOPANE_CONFIG, DUOPANE_VERBOSE and DUOPANE_DEBUG work too.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix)
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Browse local and remote trees side by side and move files between them",
		Long: `duopane ` + version.Version + ` - Built: ` + version.BuildTime + `
Dual-pane file browser for FTP/FTPS servers and cloud drives
(Google Drive, Amazon S3, Azure Blob Storage).

Saved connections live in ~/.config/duopane/connections.ini.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewLogger("cli")
			if v.GetBool("verbose") || v.GetBool("debug") {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug output (same as --verbose)")
	for _, name := range []string{"config", "verbose", "debug"} {
		_ = v.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.Version = version.String()
	AddCommands(rootCmd, v)
	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling operations...\n", sig)
				cancelFunc()
			}
		}
	}()

	err := NewRootCmd().Execute()

	signal.Stop(sigChan)
	close(sigChan)
	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command, v *viper.Viper) {
	rootCmd.AddCommand(newLsCmd(v))
	rootCmd.AddCommand(newRemoteCmd(v))
	rootCmd.AddCommand(newGetCmd(v))
	rootCmd.AddCommand(newDropCmd(v))
	rootCmd.AddCommand(newConnectionsCmd(v))
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewLogger("cli")
	}
	return logger
}

// GetContext returns the global CLI context. It is cancelled on Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
