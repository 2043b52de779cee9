package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"automoney/internal/types"
)

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Manage simulated portfolio instances",
}

var portfolioAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a portfolio bound to a template",
	RunE:  runPortfolioAdd,
}

var portfolioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List portfolios",
	RunE:  runPortfolioList,
}

var portfolioPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Stop scheduling a portfolio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPortfolioStatus(args[0], types.PortfolioPaused)
	},
}

var portfolioResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused portfolio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPortfolioStatus(args[0], types.PortfolioActive)
	},
}

var (
	addID       string
	addName     string
	addTemplate string
	addAsset    string
	addCapital  float64
)

func init() {
	rootCmd.AddCommand(portfolioCmd)
	portfolioCmd.AddCommand(portfolioAddCmd, portfolioListCmd, portfolioPauseCmd, portfolioResumeCmd)

	portfolioAddCmd.Flags().StringVar(&addID, "id", "", "Portfolio id (default: random uuid)")
	portfolioAddCmd.Flags().StringVar(&addName, "name", "", "Display name")
	portfolioAddCmd.Flags().StringVar(&addTemplate, "template", "", "Template id (required)")
	portfolioAddCmd.Flags().StringVar(&addAsset, "asset", "BTC", "Traded asset")
	portfolioAddCmd.Flags().Float64Var(&addCapital, "capital", 10000, "Initial capital in quote currency")
	_ = portfolioAddCmd.MarkFlagRequired("template")
}

func runPortfolioAdd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	id := addID
	if id == "" {
		id = uuid.NewString()
	}
	p, err := a.Store().CreatePortfolio(ctx, types.PortfolioInstance{
		ID:             id,
		Name:           addName,
		TemplateID:     addTemplate,
		Asset:          addAsset,
		InitialCapital: addCapital,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s, %s, %.2f)\n", p.ID, p.TemplateID, p.Asset, p.InitialCapital)
	return nil
}

func runPortfolioList(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	a, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := a.Store().ListPortfolios(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTEMPLATE\tASSET\tSTATUS\tCASH\tHOLDING\tVALUE")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.6f\t%.2f\n",
			p.ID, p.TemplateID, p.Asset, p.Status, p.Cash, p.Holding, p.TotalValue)
	}
	return w.Flush()
}

func setPortfolioStatus(id string, status types.PortfolioStatus) error {
	ctx, stop := signalContext()
	defer stop()
	a, cleanup, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := a.Store().SetPortfolioStatus(ctx, id, status); err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", id, status)
	return nil
}
