package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aschepis/backscratcher/genllm/pricing"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var pricingFlags struct {
	provider string
	model    string
}

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Inspect the pricing table",
}

var pricingShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every dated price entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			entries := a.pricing.Table().Entries()
			if pricingFlags.provider != "" {
				want := strings.ToLower(pricingFlags.provider)
				entries = lo.Filter(entries, func(e pricing.Entry, _ int) bool {
					return e.Provider == want
				})
			}
			return writeEntries(cmd.OutOrStdout(), entries)
		})
	},
}

var pricingCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show the rates that apply to a provider and model today",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			provider := pricingFlags.provider
			if provider == "" {
				provider = a.cfg.DefaultProvider
			}
			if pricingFlags.model == "" {
				return fmt.Errorf("--model is required")
			}
			rates, effective, err := a.pricing.Require(provider, pricingFlags.model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s (effective %s): input $%g/M, output $%g/M\n",
				provider, pricingFlags.model, effective.Format("2006-01-02"),
				rates.InputPricePerMillion, rates.OutputPricePerMillion)
			return nil
		})
	},
}

func init() {
	pricingCmd.PersistentFlags().StringVarP(&pricingFlags.provider, "provider", "p", "", "provider name")
	pricingCheckCmd.Flags().StringVarP(&pricingFlags.model, "model", "m", "", "model name")

	pricingCmd.AddCommand(pricingShowCmd)
	pricingCmd.AddCommand(pricingCheckCmd)
	rootCmd.AddCommand(pricingCmd)
}

func writeEntries(w io.Writer, entries []pricing.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tPROVIDER\tMODEL\tINPUT/M\tOUTPUT/M")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%g\n",
			e.Date.Format("2006-01-02"), e.Provider, e.Model,
			e.Rates.InputPricePerMillion, e.Rates.OutputPricePerMillion)
	}
	return tw.Flush()
}
