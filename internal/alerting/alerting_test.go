package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAlert(failed int) RunAlert {
	a := RunAlert{
		JobName:   "monthly_receipts",
		RunID:     "run-1",
		Period:    "2024-07",
		Total:     10,
		Succeeded: 10 - failed,
		Failed:    failed,
		Duration:  2 * time.Second,
		Timestamp: time.Date(2024, 8, 1, 3, 0, 0, 0, time.UTC),
	}
	for i := 0; i < failed; i++ {
		a.Failures = append(a.Failures, AbonentFailure{AbonentID: "a-" + string(rune('0'+i)), Kind: "no_tariff", Error: "no tariff"})
	}
	return a
}

func captureServer(t *testing.T, status int) (*httptest.Server, <-chan []byte) {
	t.Helper()
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, bodies
}

func TestSendRunAlertGeneric(t *testing.T) {
	srv, bodies := captureServer(t, http.StatusOK)
	a := NewAlerter(Config{WebhookURL: srv.URL}, nil)

	require.NoError(t, a.SendRunAlert(context.Background(), sampleAlert(2)))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(<-bodies, &got))
	assert.Equal(t, "receipt_run_failure", got["alert_type"])
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, "2024-07", got["period"])
	assert.EqualValues(t, 2, got["failed_count"])
	assert.EqualValues(t, 2000, got["duration_ms"])
	assert.Equal(t, "2024-08-01T03:00:00Z", got["timestamp"])
	assert.Len(t, got["failed_details"], 2)
}

func TestSendRunAlertSlack(t *testing.T) {
	srv, bodies := captureServer(t, http.StatusOK)
	a := NewAlerter(Config{WebhookURL: srv.URL, WebhookType: "slack"}, nil)

	require.NoError(t, a.SendRunAlert(context.Background(), sampleAlert(1)))
	assert.Contains(t, string(<-bodies), "Receipt run 2024-07")
}

func TestSendRunAlertSkips(t *testing.T) {
	srv, bodies := captureServer(t, http.StatusOK)

	disabled := NewAlerter(Config{}, nil)
	require.NoError(t, disabled.SendRunAlert(context.Background(), sampleAlert(3)))

	threshold := NewAlerter(Config{WebhookURL: srv.URL, MinFailuresBeforeAlert: 5}, nil)
	require.NoError(t, threshold.SendRunAlert(context.Background(), sampleAlert(3)))

	select {
	case <-bodies:
		t.Fatal("webhook should not have been called")
	default:
	}
}

func TestSendRunAlertStatusError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadGateway)
	a := NewAlerter(Config{WebhookURL: srv.URL}, nil)

	err := a.SendRunAlert(context.Background(), sampleAlert(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookTypeDetection(t *testing.T) {
	assert.Equal(t, "slack", Config{WebhookURL: "https://hooks.slack.com/x"}.webhookType())
	assert.Equal(t, "discord", Config{WebhookURL: "https://discord.com/api/webhooks/x"}.webhookType())
	assert.Equal(t, "generic", Config{WebhookURL: "https://example.org/hook"}.webhookType())
	assert.Equal(t, "slack", Config{WebhookURL: "https://example.org", WebhookType: "slack"}.webhookType())
}

func TestFailureLinesTruncates(t *testing.T) {
	a := RunAlert{}
	for i := 0; i < maxListedFailures+5; i++ {
		a.Failures = append(a.Failures, AbonentFailure{AbonentID: "x", Kind: "k", Error: "e"})
	}
	assert.Contains(t, failureLines(a, ""), "and 5 more")
}
