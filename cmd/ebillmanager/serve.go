package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bher20/ebillmanager/internal/api"
)

func newServeCmd() *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.auth.Bootstrap(ctx); err != nil {
				return err
			}

			ready := map[string]api.Pinger{"storage": a.store}
			if a.cache.Enabled() {
				ready["redis"] = a.cache
			}
			srv := &http.Server{
				Addr: a.cfg.HTTP.Addr,
				Handler: api.NewRouter(api.Deps{
					Receipts:     a.receipts,
					Tariffs:      a.tariffs,
					Auth:         a.auth,
					Log:          a.log,
					MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
					Ready:        ready,
				}),
				ReadTimeout:  a.cfg.HTTP.ReadTimeout,
				WriteTimeout: a.cfg.HTTP.WriteTimeout,
				IdleTimeout:  a.cfg.HTTP.IdleTimeout,
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				a.log.Info("shutting down http server")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if withWorker {
				w, err := a.worker()
				if err != nil {
					return err
				}
				g.Go(func() error { return w.Start(ctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the scheduled receipt worker")
	return cmd
}
