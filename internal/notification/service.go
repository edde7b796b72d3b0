package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/smtp"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/alerting"
)

// ErrNotConfigured is returned when no provider or recipient is configured.
var ErrNotConfigured = errors.New("email not configured")

var resendURL = "https://api.resend.com/emails"

// Config selects an email provider and its credentials.
type Config struct {
	Provider    string   `mapstructure:"provider"` // smtp, gmail, sendgrid, resend
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	Encryption  string   `mapstructure:"encryption"` // none, ssl, tls
	APIKey      string   `mapstructure:"api_key"`
	FromAddress string   `mapstructure:"from_address"`
	FromName    string   `mapstructure:"from_name"`
	Recipients  []string `mapstructure:"recipients"`
}

// Enabled reports whether summaries can be sent.
func (c Config) Enabled() bool { return c.Provider != "" && len(c.Recipients) > 0 }

// Service emails receipt-run summaries to the billing office.
type Service struct {
	cfg Config
	log *zap.Logger
}

func NewService(cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg, log: log.Named("notification")}
}

// SendRunSummary emails a summary of a receipt run to every recipient.
func (s *Service) SendRunSummary(ctx context.Context, run alerting.RunAlert) error {
	if !s.cfg.Enabled() {
		return ErrNotConfigured
	}
	subject := fmt.Sprintf("Receipt run %s: %d of %d failed", run.Period, run.Failed, run.Total)
	body, err := RenderRunSummary(run)
	if err != nil {
		return err
	}
	var errs []error
	for _, to := range s.cfg.Recipients {
		if err := s.SendEmail(ctx, to, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", to, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.log.Info("sent run summary",
		zap.String("run_id", run.RunID),
		zap.Int("recipients", len(s.cfg.Recipients)))
	return nil
}

// SendEmail sends one HTML message through the configured provider.
func (s *Service) SendEmail(ctx context.Context, to, subject, body string) error {
	switch s.cfg.Provider {
	case "smtp", "gmail":
		return s.sendSMTP(to, subject, body)
	case "sendgrid":
		return s.sendSendgrid(to, subject, body)
	case "resend":
		return s.sendResend(ctx, to, subject, body)
	default:
		return fmt.Errorf("unknown provider: %s", s.cfg.Provider)
	}
}

var summaryTemplate = template.Must(template.New("summary").Parse(`<h2>Receipt run {{.Period}}</h2>
<p>Job {{.JobName}}, run {{.RunID}} finished in {{.Duration}}.</p>
<p>{{.Succeeded}} of {{.Total}} receipts computed, {{.Failed}} failed.</p>
{{if .Failures}}<table>
<tr><th>Abonent</th><th>Kind</th><th>Error</th></tr>
{{range .Failures}}<tr><td>{{.AbonentID}}</td><td>{{.Kind}}</td><td>{{.Error}}</td></tr>
{{end}}</table>
{{end}}`))

// RenderRunSummary renders the HTML body of a run summary.
func RenderRunSummary(run alerting.RunAlert) (string, error) {
	var b bytes.Buffer
	data := struct {
		alerting.RunAlert
		Duration string
	}{run, run.Duration.Round(time.Millisecond).String()}
	if err := summaryTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}
	return b.String(), nil
}

func (s *Service) message(to, subject, body string) []byte {
	return []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=\"UTF-8\"\r\n"+
		"\r\n"+
		"%s\r\n", to, subject, body))
}

func (s *Service) sendSMTP(to, subject, body string) error {
	cfg := s.cfg
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	msg := s.message(to, subject, body)

	switch cfg.Encryption {
	case "ssl":
		// implicit TLS
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.Host})
		if err != nil {
			return err
		}
		defer conn.Close()
		c, err := smtp.NewClient(conn, cfg.Host)
		if err != nil {
			return err
		}
		defer c.Quit()
		return s.deliver(c, to, msg)
	case "tls":
		// STARTTLS
		c, err := smtp.Dial(addr)
		if err != nil {
			return err
		}
		defer c.Quit()
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				return err
			}
		}
		return s.deliver(c, to, msg)
	default:
		var auth smtp.Auth
		if cfg.Username != "" {
			auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		}
		return smtp.SendMail(addr, auth, cfg.FromAddress, []string{to}, msg)
	}
}

func (s *Service) deliver(c *smtp.Client, to string, msg []byte) error {
	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(s.cfg.FromAddress); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

func (s *Service) sendSendgrid(to, subject, body string) error {
	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromAddress)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), body, body)
	resp, err := sendgrid.NewSendClient(s.cfg.APIKey).Send(message)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: %d %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (s *Service) sendResend(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"from":    fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromAddress),
		"to":      to,
		"subject": subject,
		"html":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resend error: %d %s", resp.StatusCode, string(b))
	}
	return nil
}
