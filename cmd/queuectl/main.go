// Command queuectl drives the payment queue from cron or a shell: run a
// drain pass, list items, retry one item.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snowline/renewal-checkout/internal/config"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/queue"
)

var Version = "dev"

// QueueAPI is what the commands need from the queue collaborator.
type QueueAPI interface {
	List(ctx context.Context, status models.QueueStatus, limit int) ([]models.QueueItem, error)
	ProcessDue(ctx context.Context) (models.DrainSummary, error)
	Retry(ctx context.Context, postID string) (models.DrainItemResult, error)
}

type options struct {
	baseURL string
	jsonOut bool
}

func main() {
	cfg, err := config.LoadCLI()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init("queuectl", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(func(opts *options) (QueueAPI, error) {
		qc := cfg.Queue
		if opts.baseURL != "" {
			qc.BaseURL = opts.baseURL
		}
		return queue.NewClient(qc)
	})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(newClient func(*options) (QueueAPI, error)) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "Operate the renewal installment payment queue",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "Queue service URL (overrides QUEUE_BASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&opts.jsonOut, "json", "j", false, "Output as JSON")

	client := func() (QueueAPI, error) { return newClient(opts) }

	rootCmd.AddCommand(processCmd(opts, client))
	rootCmd.AddCommand(listCmd(opts, client))
	rootCmd.AddCommand(retryCmd(opts, client))

	return rootCmd
}
