package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxListedFailures caps the failure lines rendered into chat payloads.
const maxListedFailures = 20

// Config holds alerting configuration.
type Config struct {
	// WebhookURL is a Slack, Discord, or custom endpoint.
	WebhookURL string `mapstructure:"webhook_url"`
	// WebhookType determines the payload format: "slack", "discord", or
	// "generic". Empty means detect from the URL.
	WebhookType            string        `mapstructure:"webhook_type"`
	MinFailuresBeforeAlert int           `mapstructure:"min_failures"`
	Timeout                time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a webhook is configured.
func (c Config) Enabled() bool { return c.WebhookURL != "" }

func (c Config) webhookType() string {
	if c.WebhookType != "" {
		return c.WebhookType
	}
	switch {
	case strings.Contains(c.WebhookURL, "slack.com"):
		return "slack"
	case strings.Contains(c.WebhookURL, "discord.com"):
		return "discord"
	default:
		return "generic"
	}
}

// Alerter sends receipt-run alerts to the configured webhook.
type Alerter struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

// NewAlerter creates a new alerter instance.
func NewAlerter(cfg Config, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MinFailuresBeforeAlert <= 0 {
		cfg.MinFailuresBeforeAlert = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.Named("alerting"),
	}
}

// RunAlert summarizes a receipt run with failures.
type RunAlert struct {
	JobName   string           `json:"job_name"`
	RunID     string           `json:"run_id"`
	Period    string           `json:"period"`
	Total     int              `json:"total_count"`
	Succeeded int              `json:"success_count"`
	Failed    int              `json:"failed_count"`
	Duration  time.Duration    `json:"-"`
	Failures  []AbonentFailure `json:"failed_details"`
	Timestamp time.Time        `json:"-"`
}

// AbonentFailure describes one abonent whose receipt could not be computed.
type AbonentFailure struct {
	AbonentID string `json:"abonent_id"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// SendRunAlert posts an alert about a receipt run. Runs below the failure
// threshold, or any run when no webhook is configured, are skipped.
func (a *Alerter) SendRunAlert(ctx context.Context, alert RunAlert) error {
	if !a.cfg.Enabled() {
		a.log.Debug("alerts disabled, skipping")
		return nil
	}
	if alert.Failed < a.cfg.MinFailuresBeforeAlert {
		a.log.Debug("failures below threshold, skipping",
			zap.Int("failed", alert.Failed),
			zap.Int("threshold", a.cfg.MinFailuresBeforeAlert))
		return nil
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	var payload []byte
	var err error
	switch a.cfg.webhookType() {
	case "slack":
		payload, err = buildSlackPayload(alert)
	case "discord":
		payload, err = buildDiscordPayload(alert)
	default:
		payload, err = buildGenericPayload(alert)
	}
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	a.log.Info("sent run alert",
		zap.String("run_id", alert.RunID),
		zap.Int("failed", alert.Failed))
	return nil
}

func failureLines(alert RunAlert, bold string) string {
	var b strings.Builder
	for i, f := range alert.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "… and %d more\n", len(alert.Failures)-maxListedFailures)
			break
		}
		fmt.Fprintf(&b, "• %s%s%s: %s (%s)\n", bold, f.AbonentID, bold, f.Kind, f.Error)
	}
	return b.String()
}

func buildSlackPayload(alert RunAlert) ([]byte, error) {
	emoji := ":warning:"
	if alert.Failed == alert.Total {
		emoji = ":x:"
	}

	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("%s Receipt run %s: %s", emoji, alert.Period, alert.JobName),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Status:*\n%d/%d failed", alert.Failed, alert.Total)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:*\n%s", alert.Duration.Round(time.Millisecond))},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Run:*\n%s", alert.RunID)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Timestamp:*\n%s", alert.Timestamp.Format(time.RFC3339))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Failed abonents:*\n%s", failureLines(alert, "*")),
				},
			},
		},
	}
	return json.Marshal(payload)
}

func buildDiscordPayload(alert RunAlert) ([]byte, error) {
	color := 16776960 // yellow
	if alert.Failed == alert.Total {
		color = 16711680 // red
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       fmt.Sprintf("Receipt run %s: %s", alert.Period, alert.JobName),
				"description": fmt.Sprintf("%d/%d abonents failed", alert.Failed, alert.Total),
				"color":       color,
				"fields": []map[string]interface{}{
					{"name": "Success", "value": fmt.Sprintf("%d", alert.Succeeded), "inline": true},
					{"name": "Failed", "value": fmt.Sprintf("%d", alert.Failed), "inline": true},
					{"name": "Duration", "value": alert.Duration.Round(time.Millisecond).String(), "inline": true},
					{"name": "Failed abonents", "value": failureLines(alert, "**"), "inline": false},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	}
	return json.Marshal(payload)
}

func buildGenericPayload(alert RunAlert) ([]byte, error) {
	payload := struct {
		AlertType string `json:"alert_type"`
		RunAlert
		DurationMs int64  `json:"duration_ms"`
		Timestamp  string `json:"timestamp"`
	}{
		AlertType:  "receipt_run_failure",
		RunAlert:   alert,
		DurationMs: alert.Duration.Milliseconds(),
		Timestamp:  alert.Timestamp.Format(time.RFC3339),
	}
	return json.Marshal(payload)
}
