// Package cli provides the command-line interface for starchat.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/starshop/starchat/internal/client"
	"github.com/starshop/starchat/internal/config"
	"github.com/starshop/starchat/internal/metrics"
	"github.com/starshop/starchat/internal/models"
	"github.com/starshop/starchat/internal/realtime"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	showStats bool

	// Global config and storefront client
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	api        *client.Client
	collector  *metrics.Collector
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "starchat",
	Short: "StarShop customer chat client",
	Long: `Starchat talks to StarShop support from the terminal.

It keeps a live view of your support conversation: messages arrive over the
storefront's realtime channel, AI answers stream in as they are written, and
the history is reconciled with the server so nothing shows up twice.

Authenticate with the storefront session cookie (STARCHAT_SESSION_COOKIE).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}

		// The chat window owns the terminal; everything else may log to stderr.
		if cmd.Name() == chatCmd.Name() && !lineMode() {
			logger, logCleanup = config.SetupFileLogger(cfg.LogFile, level)
		} else {
			logger, logCleanup = config.SetupLogger(cfg.LogFile, level)
		}
		if cfg.ConfigFile != "" {
			logger.Debug("loaded config file", "path", cfg.ConfigFile)
		}

		collector = metrics.NewCollector()
		api = client.New(cfg.BaseURL, client.Options{
			SessionCookie: cfg.SessionCookie,
			CSRFToken:     cfg.CSRFToken,
			CSRFHeader:    cfg.CSRFHeader,
			Timeout:       cfg.HTTPTimeout,
			Logger:        logger,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showStats && collector != nil {
			fmt.Println()
			printStats(collector.Snapshot())
		}
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// newDialer builds the realtime transport, authenticated with the same
// session cookie as the REST client.
func newDialer() *realtime.Dialer {
	header := http.Header{}
	if c := api.Cookie(); c != "" {
		header.Set("Cookie", c)
	}
	return &realtime.Dialer{
		URL:       cfg.WSURL,
		Header:    header,
		HeartBeat: 10 * time.Second,
		Logger:    logger,
	}
}

// currentUser resolves the logged-in customer.
func currentUser(ctx context.Context) (*models.User, error) {
	user, err := api.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}
	return user, nil
}

// resolveConversation returns the conversation named by id, or the active
// one when id is empty. It returns nil without error when there is none.
func resolveConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if id != "" {
		return &models.Conversation{ID: id}, nil
	}
	conv, err := api.ActiveConversation(ctx)
	if err != nil {
		return nil, fmt.Errorf("find active conversation: %w", err)
	}
	return conv, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print client statistics on exit")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(statsCmd)
}
