package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/ebillmanager/internal/auth"
	"github.com/bher20/ebillmanager/internal/billing"
	"github.com/bher20/ebillmanager/internal/receipts"
	"github.com/bher20/ebillmanager/internal/storage"
	"github.com/bher20/ebillmanager/internal/tariffs"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	srv   *httptest.Server
	store *storage.MemoryStorage
	auth  *auth.Service
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newEnv(t *testing.T, authCfg auth.Config, ready map[string]Pinger) env {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()

	require.NoError(t, st.UpsertTariffVersion(ctx, billing.TariffVersion{
		EffectiveDate:        billing.NewDate(2024, time.January, 1),
		WaterByMeterRate:     dec("13.24"),
		WaterByPersonRate:    dec("15"),
		GarbagePrivateRate:   dec("120"),
		GarbageApartmentRate: dec("45.50"),
		SalesTaxPercent:      dec("0.03"),
	}))
	for _, id := range []string{"a-1", "a-2"} {
		require.NoError(t, st.UpsertAbonent(ctx, billing.Abonent{
			ID:              id,
			PersonalAccount: "000101",
			ControllerName:  "Controller",
			BuildingType:    billing.BuildingPrivate,
			WaterTariffType: billing.WaterByMeter,
			NumberOfPeople:  2,
			HasWaterService: true,
		}))
		require.NoError(t, st.AppendMeterReading(ctx, billing.MeterReading{
			AbonentID: id, Date: billing.NewDate(2024, time.February, 20), Value: dec("1250"),
		}))
	}
	// only a-1 has a reading inside March
	require.NoError(t, st.AppendMeterReading(ctx, billing.MeterReading{
		AbonentID: "a-1", Date: billing.NewDate(2024, time.March, 20), Value: dec("1278.2"),
	}))

	engine, err := billing.NewEngine(billing.DefaultConfig())
	require.NoError(t, err)
	tariffSvc := tariffs.NewService(tariffs.Config{}, st, nil)
	authSvc, err := auth.NewService(authCfg, st, nil)
	require.NoError(t, err)

	router := NewRouter(Deps{
		Receipts: receipts.NewService(engine, st, tariffSvc, nil, 4, nil),
		Tariffs:  tariffSvc,
		Auth:     authSvc,
		Ready:    ready,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return env{srv: srv, store: st, auth: authSvc}
}

func (e env) do(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func decodeMap(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m), string(b))
	return m
}

func errorCode(t *testing.T, b []byte) string {
	t.Helper()
	m := decodeMap(t, b)
	e, ok := m["error"].(map[string]any)
	require.True(t, ok, string(b))
	return e["code"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t, auth.Config{}, nil)

	for path, want := range map[string]string{"/healthz": "ok", "/livez": "live", "/readyz": "ready"} {
		code, body := e.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, code, path)
		assert.Equal(t, want, string(body), path)
	}

	code, body := e.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "ebillmanager_requests_total")
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	e := newEnv(t, auth.Config{}, map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	code, body := e.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(body), "redis")
}

func TestGetReceipt(t *testing.T) {
	e := newEnv(t, auth.Config{}, nil)

	code, body := e.do(t, http.MethodGet, "/api/v1/abonents/a-1/receipt?period=2024-03", "", "")
	require.Equal(t, http.StatusOK, code, string(body))
	m := decodeMap(t, body)
	assert.Equal(t, "384.57", m["total_to_pay"])
	assert.Equal(t, "2024-03", m["period"])
	assert.Equal(t, "000101", m["personal_account"])
}

func TestGetReceiptErrors(t *testing.T) {
	e := newEnv(t, auth.Config{}, nil)

	tests := []struct {
		name string
		path string
		code int
		kind string
	}{
		{"missing period", "/api/v1/abonents/a-1/receipt", http.StatusBadRequest, "bad_request"},
		{"bad period", "/api/v1/abonents/a-1/receipt?period=2024-13", http.StatusBadRequest, "invalid_period"},
		{"unknown abonent", "/api/v1/abonents/ghost/receipt?period=2024-03", http.StatusNotFound, "not_found"},
		{"missing reading", "/api/v1/abonents/a-2/receipt?period=2024-03", http.StatusUnprocessableEntity, "missing_meter_reading"},
		{"no tariff", "/api/v1/abonents/a-1/receipt?period=2023-05", http.StatusUnprocessableEntity, "no_tariff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := e.do(t, http.MethodGet, tt.path, "", "")
			assert.Equal(t, tt.code, code, string(body))
			assert.Equal(t, tt.kind, errorCode(t, body))
		})
	}
}

func TestComputeReceipt(t *testing.T) {
	e := newEnv(t, auth.Config{}, nil)

	input := `{
		"abonent": {
			"id": "walk-in",
			"personal_account": "42",
			"controller_name": "Desk",
			"building_type": "private",
			"water_tariff_type": "by_meter",
			"number_of_people": 2,
			"has_water_service": true,
			"last_meter_reading": "1250",
			"current_meter_reading": "1278.2"
		},
		"period": "2024-03"
	}`
	code, body := e.do(t, http.MethodPost, "/api/v1/receipts/compute", "", input)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, "384.57", decodeMap(t, body)["total_to_pay"])

	garden := strings.Replace(input, `"has_water_service": true,`, `"has_water_service": true, "has_garden": true, "garden_size": "0.7",`, 1)
	code, body = e.do(t, http.MethodPost, "/api/v1/receipts/compute", "", garden)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "unknown_garden_size", errorCode(t, body))

	code, body = e.do(t, http.MethodPost, "/api/v1/receipts/compute", "", `{"abonent": `)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", errorCode(t, body))
}

func TestBatchAndRunProgress(t *testing.T) {
	e := newEnv(t, auth.Config{}, nil)

	code, body := e.do(t, http.MethodPost, "/api/v1/receipts/batch", "", `{"period": "2024-03"}`)
	require.Equal(t, http.StatusOK, code, string(body))
	m := decodeMap(t, body)
	assert.EqualValues(t, 2, m["total"])
	assert.EqualValues(t, 1, m["succeeded"])
	assert.EqualValues(t, 1, m["failed"])
	assert.Nil(t, m["receipts"])
	runID := m["run_id"].(string)

	code, body = e.do(t, http.MethodGet, "/api/v1/runs/"+runID, "", "")
	require.Equal(t, http.StatusOK, code)
	var progress []storage.RunProgress
	require.NoError(t, json.Unmarshal(body, &progress))
	assert.Len(t, progress, 2)

	code, _ = e.do(t, http.MethodGet, "/api/v1/runs/unknown", "", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = e.do(t, http.MethodPost, "/api/v1/receipts/batch?include_receipts=true", "", `{"period": "2024-03", "abonent_ids": ["a-1"]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeMap(t, body)["receipts"], 1)
}

func TestTariffEndpoints(t *testing.T) {
	e := newEnv(t, auth.Config{}, nil)

	code, body := e.do(t, http.MethodGet, "/api/v1/tariffs", "", "")
	require.Equal(t, http.StatusOK, code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	whole := `
- effective_date: 2024-06-01
  water_by_meter_rate: "14.10"
  water_by_person_rate: "16"
  garbage_private_rate: "130"
  garbage_apartment_rate: "48"
  sales_tax_percent: "3"
  penalty_rate_percent: "1"
`
	code, body = e.do(t, http.MethodPost, "/api/v1/tariffs", "", whole)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ambiguous_percent", errorCode(t, body))

	code, body = e.do(t, http.MethodPost, "/api/v1/tariffs?percent_scale=whole", "", whole)
	require.Equal(t, http.StatusCreated, code, string(body))

	versions, err := e.store.ListTariffVersions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestParseNotice(t *testing.T) {
	e := newEnv(t, auth.Config{}, nil)
	notice := `Effective from: 01.06.2024
Water (metered): 14.10 per m3
Water (per person): 16.00
Garbage (private house): 130.00
Garbage (apartment): 48.00
Sales tax: 3%
Late payment penalty: 1%`

	code, body := e.do(t, http.MethodPost, "/api/v1/tariffs/notice", "", notice)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, "2024-06-01", decodeMap(t, body)["effective_date"])

	versions, err := e.store.ListTariffVersions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 1, "parse without import must not store")

	code, _ = e.do(t, http.MethodPost, "/api/v1/tariffs/notice?import=true", "", notice)
	require.Equal(t, http.StatusOK, code)
	versions, err = e.store.ListTariffVersions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	code, _ = e.do(t, http.MethodPost, "/api/v1/tariffs/notice?format=nope", "", notice)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuthorization(t *testing.T) {
	e := newEnv(t, auth.Config{Enabled: true, AdminToken: "root-secret"}, nil)
	require.NoError(t, e.auth.Bootstrap(context.Background()))

	code, _ := e.do(t, http.MethodGet, "/api/v1/tariffs", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := e.do(t, http.MethodPost, "/api/v1/tokens", "root-secret", `{"name": "clerk", "role": "viewer", "expires_in": "30d"}`)
	require.Equal(t, http.StatusCreated, code, string(body))
	m := decodeMap(t, body)
	viewer := m["token"].(string)
	assert.NotEmpty(t, m["expires_at"])

	code, _ = e.do(t, http.MethodGet, "/api/v1/abonents/a-1/receipt?period=2024-03", viewer, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/receipts/batch", viewer, `{"period": "2024-03"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/tokens", viewer, `{"name": "x", "role": "admin"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = e.do(t, http.MethodPost, "/api/v1/tokens", "root-secret", `{"name": "x", "role": "god"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unknown_role", errorCode(t, body))

	// health stays public
	code, _ = e.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)
}
