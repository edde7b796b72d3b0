package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/migrate"
	"github.com/bher20/ebillmanager/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withDB(func(ctx context.Context, log *zap.Logger, db *sql.DB, dialect string) error {
				results, err := migrate.Up(ctx, db, dialect)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					log.Info("schema is up to date")
				}
				for _, r := range results {
					log.Info("applied migration", zap.Int64("version", r.Source.Version), zap.Duration("duration", r.Duration))
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: withDB(func(ctx context.Context, log *zap.Logger, db *sql.DB, dialect string) error {
				r, err := migrate.Down(ctx, db, dialect)
				if err != nil {
					return err
				}
				log.Info("rolled back migration", zap.Int64("version", r.Source.Version))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of every migration",
			RunE: withDB(func(ctx context.Context, _ *zap.Logger, db *sql.DB, dialect string) error {
				statuses, err := migrate.Status(ctx, db, dialect)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
				for _, s := range statuses {
					applied := "-"
					if !s.AppliedAt.IsZero() {
						applied = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
				}
				return tw.Flush()
			}),
		},
	)
	return cmd
}

// withDB opens the configured database without auto-migration and hands its
// connection to fn.
func withDB(fn func(ctx context.Context, log *zap.Logger, db *sql.DB, dialect string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		cfg.Storage.AutoMigrate = false
		st, err := storage.Open(cmd.Context(), cfg.Storage, log)
		if err != nil {
			return err
		}
		defer st.Close()

		gs, ok := st.(*storage.GormStorage)
		if !ok {
			return errors.New("migrations need a sql storage driver (sqlite or postgres)")
		}
		db, err := gs.DB()
		if err != nil {
			return err
		}
		return fn(cmd.Context(), log, db, gs.Dialect())
	}
}
