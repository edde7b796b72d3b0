package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/billing"
	"github.com/bher20/ebillmanager/internal/tariffs"
)

func newTariffsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tariffs",
		Short: "Inspect and import tariff versions",
	}
	cmd.AddCommand(newTariffsListCmd(), newTariffsImportCmd(), newTariffsExportCmd(), newTariffsParsePDFCmd())
	return cmd
}

func newTariffsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the stored tariff history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.tariffs.History(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(history)
		},
	}
}

func newTariffsImportCmd() *cobra.Command {
	var (
		file  string
		scale string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML or JSON tariff history into storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			versions, err := tariffs.LoadHistoryFile(file, tariffs.Options{PercentScale: tariffs.PercentScale(scale)})
			if err != nil {
				return err
			}
			if err := a.tariffs.Import(cmd.Context(), versions); err != nil {
				return err
			}
			a.log.Info("imported tariff versions", zap.Int("count", len(versions)), zap.String("file", file))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "tariff history file")
	cmd.Flags().StringVar(&scale, "percent-scale", string(tariffs.ScaleFraction), "how percents are written: fraction (0.03) or whole (3)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTariffsExportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored tariff history to a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.tariffs.History(cmd.Context())
			if err != nil {
				return err
			}
			if err := tariffs.SaveHistoryFile(file, history); err != nil {
				return err
			}
			a.log.Info("exported tariff history", zap.Int("count", len(history)), zap.String("file", file))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "destination file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTariffsParsePDFCmd() *cobra.Command {
	var (
		file   string
		format string
		save   bool
	)
	cmd := &cobra.Command{
		Use:   "parse-pdf",
		Short: "Extract a tariff version from a published notice PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := tariffs.GetFormat(format); !ok {
				return fmt.Errorf("unknown notice format %q (known: %s)", format, strings.Join(tariffs.ListFormats(), ", "))
			}
			v, err := tariffs.ParseNoticePDF(file, format)
			if err != nil {
				return err
			}
			if save {
				a, err := newApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.close()
				if err := a.tariffs.Import(cmd.Context(), []billing.TariffVersion{v}); err != nil {
					return err
				}
				a.log.Info("imported tariff notice", zap.String("effective_date", v.EffectiveDate.String()))
			}
			return printJSON(v)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "notice PDF")
	cmd.Flags().StringVar(&format, "format", "standard", "notice layout")
	cmd.Flags().BoolVar(&save, "import", false, "store the parsed version")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
