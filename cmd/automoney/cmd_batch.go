package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"automoney/internal/store/decisionlog"
)

var runBatchCmd = &cobra.Command{
	Use:   "run-batch <template>",
	Short: "Run one batch of a template now",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

var runCycleCmd = &cobra.Command{
	Use:   "run-cycle <portfolio-id>",
	Short: "Run a single portfolio outside its batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runCycle,
}

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List recorded batches",
	RunE:  runBatches,
}

var (
	batchesTemplate  string
	batchesPortfolio string
	batchesLimit     int
	batchesJSON      bool
)

func init() {
	rootCmd.AddCommand(runBatchCmd, runCycleCmd, batchesCmd)
	batchesCmd.Flags().StringVar(&batchesTemplate, "template", "", "Filter by template id")
	batchesCmd.Flags().StringVar(&batchesPortfolio, "portfolio", "", "Filter by portfolio id")
	batchesCmd.Flags().IntVar(&batchesLimit, "limit", 20, "Max rows")
	batchesCmd.Flags().BoolVar(&batchesJSON, "json", false, "Print JSON")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := a.RunBatch(ctx, args[0])
	if err != nil {
		return err
	}
	s := res.Summary
	fmt.Fprintf(cmd.OutOrStdout(), "batch %s %s: instances=%d completed=%d failed=%d trades=%d\n",
		s.BatchID, s.Status(), s.Instances, s.Completed, s.Failed, s.Trades)
	if s.Error != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "error: %s %s\n", s.Error.Kind, s.Error.Message)
	}
	return nil
}

func runCycle(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := a.RunCycle(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runBatches(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rows, err := a.DecisionLog().ListBatches(ctx, decisionlog.Query{
		TemplateID:  batchesTemplate,
		PortfolioID: batchesPortfolio,
		Limit:       batchesLimit,
	})
	if err != nil {
		return err
	}
	if batchesJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTEMPLATE\tBATCH\tSTATUS\tINST\tOK\tFAIL\tTRADES")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.StartedAt.Format(time.RFC3339), r.TemplateID, r.BatchID, r.Status,
			r.Instances, r.Completed, r.Failed, r.Trades)
	}
	return w.Flush()
}
