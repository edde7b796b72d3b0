package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bher20/ebillmanager/internal/billing"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newComputeCmd() *cobra.Command {
	var (
		inputPath string
		abonentID string
		period    string
	)
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute one receipt and print it as JSON",
		Long: "Computes a receipt either from a YAML/JSON input file (--input) or for a\n" +
			"stored abonent (--abonent with --period). An input without tariffs is\n" +
			"computed against the stored tariff history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (inputPath == "") == (abonentID == "") {
				return errors.New("exactly one of --input or --abonent is required")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			var receipt *billing.ReceiptDetails
			if abonentID != "" {
				p, err := billing.ParsePeriod(period)
				if err != nil {
					return err
				}
				if receipt, err = a.receipts.Receipt(ctx, abonentID, p); err != nil {
					return err
				}
				return printJSON(receipt)
			}

			raw, err := os.ReadFile(inputPath)
			if err != nil {
				return err
			}
			var in billing.Input
			if err := yaml.Unmarshal(raw, &in); err != nil {
				return fmt.Errorf("decode %s: %w", inputPath, err)
			}
			if len(in.Tariffs) == 0 {
				if in.Tariffs, err = a.tariffs.History(ctx); err != nil {
					return err
				}
			}
			if receipt, err = a.receipts.Compute(ctx, in); err != nil {
				return err
			}
			return printJSON(receipt)
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "input file (YAML or JSON)")
	cmd.Flags().StringVar(&abonentID, "abonent", "", "stored abonent id")
	cmd.Flags().StringVar(&period, "period", "", "billing period (YYYY-MM) for --abonent")
	return cmd
}
