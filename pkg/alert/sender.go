package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/mosaico-wp2/agentbench/pkg/store"
)

// Notification is one message to one target on one channel.
type Notification struct {
	Channel store.NotificationChannel
	Target  string
	Subject string
	Body    string
	Alert   *store.AlertConfig
	Value   float64
	FiredAt time.Time
}

// Sender delivers notifications for a single channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// --- IN_APP ---

type logSender struct {
	log logrus.FieldLogger
}

// NewLogSender returns a sender that records notifications in the log.
func NewLogSender(log logrus.FieldLogger) Sender {
	return &logSender{log: log.WithField("component", "notify-in-app")}
}

func (s *logSender) Send(_ context.Context, n Notification) error {
	s.log.WithFields(logrus.Fields{
		"alert_id": n.Alert.ID,
		"severity": n.Alert.Severity,
		"kpi":      n.Alert.KPIName,
		"value":    n.Value,
	}).Warn(n.Subject)

	return nil
}

// --- HTTP based senders ---

// poster POSTs JSON bodies, throttled by an optional limiter.
type poster struct {
	client  *http.Client
	limiter *rate.Limiter
}

func newPoster(cfg *config.WebhookConfig) poster {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}

	p := poster{client: &http.Client{Timeout: timeout}}

	if cfg.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(
			rate.Limit(float64(cfg.RequestsPerMinute)/60.0),
			cfg.RequestsPerMinute,
		)
	}

	return p
}

func (p poster) postJSON(ctx context.Context, url string, payload any) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("posting to %s: unexpected status %d: %s",
			url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return nil
}

type incomingWebhookSender struct {
	poster
	url string
}

// NewIncomingWebhookSender returns a sender posting {"text": body} to a
// chat incoming-webhook URL. Slack and Teams both accept this shape.
func NewIncomingWebhookSender(url string, cfg *config.WebhookConfig) Sender {
	return &incomingWebhookSender{poster: newPoster(cfg), url: url}
}

func (s *incomingWebhookSender) Send(ctx context.Context, n Notification) error {
	return s.postJSON(ctx, s.url, map[string]string{"text": n.Body})
}

// WebhookPayload is the body posted to an alert's own webhook URL.
type WebhookPayload struct {
	AlertID     string    `json:"alert_id"`
	AlertName   string    `json:"alert_name"`
	BenchmarkID string    `json:"benchmark_id"`
	KPIName     string    `json:"kpi_name"`
	Severity    string    `json:"severity"`
	Condition   string    `json:"condition"`
	Threshold   float64   `json:"threshold"`
	Value       float64   `json:"value"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

type webhookSender struct {
	poster
}

// NewWebhookSender returns a sender posting a WebhookPayload to the
// notification target.
func NewWebhookSender(cfg *config.WebhookConfig) Sender {
	return &webhookSender{poster: newPoster(cfg)}
}

func (s *webhookSender) Send(ctx context.Context, n Notification) error {
	return s.postJSON(ctx, n.Target, WebhookPayload{
		AlertID:     n.Alert.ID,
		AlertName:   n.Alert.Name,
		BenchmarkID: n.Alert.BenchmarkID,
		KPIName:     n.Alert.KPIName,
		Severity:    string(n.Alert.Severity),
		Condition:   string(n.Alert.Condition),
		Threshold:   n.Alert.ThresholdValue(),
		Value:       n.Value,
		Message:     n.Body,
		TriggeredAt: n.FiredAt,
	})
}

// --- EMAIL ---

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type emailSender struct {
	cfg      config.EmailConfig
	sendMail sendMailFunc
}

// NewEmailSender returns a plain-text SMTP sender.
func NewEmailSender(cfg config.EmailConfig) Sender {
	return &emailSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (s *emailSender) Send(_ context.Context, n Notification) error {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		s.cfg.From, n.Target, n.Subject, strings.ReplaceAll(n.Body, "\n", "\r\n"),
	)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := s.sendMail(addr, auth, s.cfg.From, []string{n.Target}, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", n.Target, err)
	}

	return nil
}
