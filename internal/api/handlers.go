package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bher20/ebillmanager/internal/auth"
	"github.com/bher20/ebillmanager/internal/billing"
	"github.com/bher20/ebillmanager/internal/storage"
	"github.com/bher20/ebillmanager/internal/tariffs"
)

func (h *handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(dst); err != nil {
		return badRequest{fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

func parsePeriod(raw string) (billing.Period, error) {
	if raw == "" {
		return billing.Period{}, badRequest{errors.New("period is required")}
	}
	p, err := billing.ParsePeriod(raw)
	if err != nil {
		return billing.Period{}, badRequest{err}
	}
	return p, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// GET /api/v1/abonents/{id}/receipt?period=YYYY-MM
func (h *handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	receipt, err := h.receipts.Receipt(r.Context(), chi.URLParam(r, "id"), period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// POST /api/v1/receipts/compute computes a receipt for a posted input. The
// stored tariff history is used when the input carries none.
func (h *handler) computeReceipt(w http.ResponseWriter, r *http.Request) {
	var in billing.Input
	if err := h.decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if len(in.Tariffs) == 0 {
		history, err := h.tariffs.History(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.Tariffs = history
	}
	receipt, err := h.receipts.Compute(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type batchRequest struct {
	Period     string   `json:"period"`
	AbonentIDs []string `json:"abonent_ids"`
}

// POST /api/v1/receipts/batch[?include_receipts=true]
func (h *handler) runBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	period, err := parsePeriod(req.Period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.receipts.RunBatch(r.Context(), period, req.AbonentIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !queryBool(r, "include_receipts") {
		report.Receipts = nil
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /api/v1/runs/{id}
func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	progress, err := h.receipts.Progress(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(progress) == 0 {
		writeError(w, r, fmt.Errorf("run %s: %w", id, storage.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// GET /api/v1/tariffs
func (h *handler) listTariffs(w http.ResponseWriter, r *http.Request) {
	history, err := h.tariffs.History(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func percentScale(r *http.Request) tariffs.PercentScale {
	if s := r.URL.Query().Get("percent_scale"); s != "" {
		return tariffs.PercentScale(s)
	}
	return tariffs.ScaleFraction
}

// POST /api/v1/tariffs[?percent_scale=whole] imports a YAML or JSON history.
func (h *handler) importTariffs(w http.ResponseWriter, r *http.Request) {
	versions, err := tariffs.LoadHistory(http.MaxBytesReader(w, r.Body, h.maxBody), tariffs.Options{PercentScale: percentScale(r)})
	if err != nil {
		writeError(w, r, badRequest{err})
		return
	}
	if err := h.tariffs.Import(r.Context(), versions); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"imported": len(versions)})
}

// POST /api/v1/tariffs/notice[?format=standard&import=true] parses the text
// of a published tariff notice.
func (h *handler) parseNotice(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("format")
	if key == "" {
		key = "standard"
	}
	format, ok := tariffs.GetFormat(key)
	if !ok {
		writeError(w, r, badRequest{fmt.Errorf("unknown notice format %q (known: %s)", key, strings.Join(tariffs.ListFormats(), ", "))})
		return
	}
	text, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, r, badRequest{err})
		return
	}
	v, err := format.ParseText(string(text))
	if err != nil {
		writeError(w, r, badRequest{err})
		return
	}
	if queryBool(r, "import") {
		if err := h.tariffs.Import(r.Context(), []billing.TariffVersion{v}); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, v)
}

type tokenRequest struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	ExpiresIn string `json:"expires_in"`
}

type tokenResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// POST /api/v1/tokens
func (h *handler) createToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, badRequest{errors.New("name is required")})
		return
	}
	expires, err := auth.ParseExpiration(req.ExpiresIn, time.Now())
	if err != nil {
		writeError(w, r, badRequest{err})
		return
	}
	t, raw, err := h.auth.CreateToken(r.Context(), req.Name, req.Role, expires)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{ID: t.ID, Name: t.Name, Role: t.Role, Token: raw, ExpiresAt: t.ExpiresAt})
}
