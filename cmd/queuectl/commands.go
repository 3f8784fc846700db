package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/snowline/renewal-checkout/internal/models"
)

// errItemsFailed makes cron notice a pass that charged nothing for some
// items.
var errItemsFailed = errors.New("some items were not charged")

func processCmd(opts *options, client func() (QueueAPI, error)) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Charge every due installment now",
		Long: `Ask the queue service to run one drain pass. Items due today or
earlier that are pending, or failed on an earlier day, are charged once.
Charges with an unknown outcome are parked as needs_review.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := client()
			if err != nil {
				return err
			}

			summary, err := api.ProcessDue(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if err := writeJSON(out, summary); err != nil {
					return err
				}
			} else {
				printSummary(out, summary)
			}

			if strict && (summary.Failed > 0 || summary.NeedsReview > 0) {
				return errItemsFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Exit 1 when any item failed or needs review")
	return cmd
}

func listCmd(opts *options, client func() (QueueAPI, error)) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued installments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := models.ParseQueueStatus(status)
			if err != nil {
				return err
			}

			api, err := client()
			if err != nil {
				return err
			}

			items, err := api.List(cmd.Context(), st, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if items == nil {
					items = []models.QueueItem{}
				}
				return writeJSON(out, items)
			}
			printItems(out, items)
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "all", "pending, processing, completed, failed, needs_review or all")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum items")
	return cmd
}

func retryCmd(opts *options, client func() (QueueAPI, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <post_id>",
		Short: "Charge one pending or failed installment now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := client()
			if err != nil {
				return err
			}

			result, err := api.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				if err := writeJSON(out, result); err != nil {
					return err
				}
			} else {
				printResults(out, []models.DrainItemResult{result})
			}

			if result.Status != models.QueueStatusCompleted {
				return fmt.Errorf("item %s is %s: %s", result.ID, result.Status, result.Error)
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, s models.DrainSummary) {
	if s.Skipped {
		fmt.Fprintf(w, "Drain skipped: %s\n", s.SkipReason)
		return
	}
	fmt.Fprintf(w, "Processed %d: %d completed, %d failed, %d need review (%dms)\n",
		s.Processed, s.Completed, s.Failed, s.NeedsReview, s.DurationMs)
	if len(s.Items) > 0 {
		fmt.Fprintln(w)
		printResults(w, s.Items)
	}
}

func printResults(w io.Writer, results []models.DrainItemResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POST ID\tDATE\tAMOUNT\tSTATUS\tTRANSACTION\tERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.PaymentDate, r.Amount, r.Status, dash(r.TransactionID), dash(r.Error))
	}
	tw.Flush()
}

func printItems(w io.Writer, items []models.QueueItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No items.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POST ID\tDATE\tAMOUNT\tSTATUS\tATTEMPTS\tCUSTOMER\tCONTRACT\tLAST ERROR")
	for _, it := range items {
		contract, _ := it.Metadata[models.MetaContractID].(string)
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%d\t%s\t%s\t%s\n",
			it.ID, it.PaymentDate, it.Amount, it.Currency, it.Status, it.Attempts,
			it.CustomerCode, dash(contract), dash(it.LastError))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d item(s)\n", len(items))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
