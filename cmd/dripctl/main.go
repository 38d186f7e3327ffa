package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/dripmail-backend/internal/app"
	"github.com/unclebandit/dripmail-backend/internal/config"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

var (
	verbose bool
	timeout time.Duration

	// cli is the app built for the running command.
	cli *app.App
	log *zap.Logger

	// newApp is swapped out in tests.
	newApp = func(ctx context.Context, opts app.Options, log *zap.Logger) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg, opts, log)
	}
)

// needsMail marks commands that send email or read the inbox.
const needsMail = "needs-mail"

var rootCmd = &cobra.Command{
	Use:   "dripmail",
	Short: "Operate the drip email campaign",
	Long: `dripmail manages campaign contacts and runs drip and reply ticks by hand.

It reads the same .env and CAMPAIGN_CONFIG as the server, so it works
against the same database and honours the same tick lock.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		var err error
		log, err = logger.New(level, true)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		opts := app.Options{SkipMail: cmd.Annotations[needsMail] == "" || enqueue, SkipQueue: !enqueue}
		cli, err = newApp(cmd.Context(), opts, log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cli != nil {
			cli.Close()
			cli = nil
		}
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(triggerDripsCmd)
	rootCmd.AddCommand(checkRepliesCmd)
	rootCmd.AddCommand(processContactsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
