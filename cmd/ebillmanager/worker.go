package main

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bher20/ebillmanager/internal/billing"
	"github.com/bher20/ebillmanager/internal/cron"
)

func newWorkerCmd() *cobra.Command {
	var (
		once   bool
		period string
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the scheduled receipt worker",
		Long: "Computes the receipts of the previous month on the configured cron schedule.\n" +
			"With --once the run happens immediately and the report is printed as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			w, err := a.worker()
			if err != nil {
				return err
			}
			if !once {
				return w.Start(cmd.Context())
			}

			firedAt := time.Now()
			if period != "" {
				p, err := billing.ParsePeriod(period)
				if err != nil {
					return err
				}
				// RunOnce bills the month before firedAt.
				firedAt = p.End()
			}
			report, err := w.RunOnce(cmd.Context(), firedAt)
			if errors.Is(err, cron.ErrLockHeld) {
				a.log.Warn("another worker holds the job lock")
				return nil
			}
			if err != nil {
				return err
			}
			report.Receipts = nil
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single job and exit")
	cmd.Flags().StringVar(&period, "period", "", "period to bill with --once (YYYY-MM, default previous month)")
	return cmd
}
