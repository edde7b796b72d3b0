package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/auth"
	"github.com/bher20/ebillmanager/internal/receipts"
	"github.com/bher20/ebillmanager/internal/tariffs"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the HTTP API.
type Deps struct {
	Receipts     *receipts.Service
	Tariffs      *tariffs.Service
	Auth         *auth.Service
	Log          *zap.Logger
	MaxBodyBytes int64

	// Ready lists dependencies that must answer Ping for /readyz.
	Ready map[string]Pinger
}

type handler struct {
	receipts *receipts.Service
	tariffs  *tariffs.Service
	auth     *auth.Service
	ready    map[string]Pinger
	log      *zap.Logger
	maxBody  int64
}

// NewRouter builds the HTTP router with health, metrics and the v1 API.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 10 << 20
	}
	h := &handler{
		receipts: d.Receipts,
		tariffs:  d.Tariffs,
		auth:     d.Auth,
		ready:    d.Ready,
		log:      d.Log.Named("api"),
		maxBody:  d.MaxBodyBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.healthz)
	r.Get("/livez", h.livez)
	r.Get("/readyz", h.readyz)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(d.Auth.Middleware)
		perm := d.Auth.RequirePermission

		v.With(perm(auth.ObjReceipts, auth.ActRead)).Get("/abonents/{id}/receipt", h.getReceipt)
		v.With(perm(auth.ObjReceipts, auth.ActRead)).Post("/receipts/compute", h.computeReceipt)
		v.With(perm(auth.ObjRuns, auth.ActWrite)).Post("/receipts/batch", h.runBatch)
		v.With(perm(auth.ObjRuns, auth.ActRead)).Get("/runs/{id}", h.getRun)

		v.With(perm(auth.ObjTariffs, auth.ActRead)).Get("/tariffs", h.listTariffs)
		v.With(perm(auth.ObjTariffs, auth.ActWrite)).Post("/tariffs", h.importTariffs)
		v.With(perm(auth.ObjTariffs, auth.ActWrite)).Post("/tariffs/notice", h.parseNotice)

		v.With(perm(auth.ObjTokens, auth.ActWrite)).Post("/tokens", h.createToken)
	})
	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) livez(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("live"))
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, p := range h.ready {
		if err := p.Ping(ctx); err != nil {
			h.log.Warn("readyz: dependency not ready", zap.String("dependency", name), zap.Error(err))
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
