package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Config carries the destination webhook URLs. Any empty URL disables
// that channel.
type Config struct {
	SlackWebhookURL   string `env:"ALERT_SLACK_WEBHOOK_URL"`
	DiscordWebhookURL string `env:"ALERT_DISCORD_WEBHOOK_URL"`
	GenericWebhookURL string `env:"ALERT_GENERIC_WEBHOOK_URL"`
}

// Notifier fans alerts out to the configured channels. Delivery is best
// effort: failures are logged, never returned to the caller.
type Notifier struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
	clock  func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the HTTP client used to post alerts.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithLogger sets the logger for channel failures.
func WithLogger(log *slog.Logger) Option {
	return func(n *Notifier) {
		if log != nil {
			n.log = log
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(clock func() time.Time) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// NewNotifier creates a Notifier for the given channel configuration.
func NewNotifier(cfg Config, opts ...Option) *Notifier {
	n := &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Send posts the alert to every configured channel in parallel and waits
// for all posts to finish. It never returns an error.
func (n *Notifier) Send(ctx context.Context, alert Alert) {
	if alert.Time.IsZero() {
		alert.Time = n.clock().UTC()
	}
	if alert.Severity == "" {
		alert.Severity = SeverityInfo
	}

	type channel struct {
		name    string
		url     string
		payload func(Alert) any
	}
	channels := []channel{
		{"slack", n.cfg.SlackWebhookURL, slackPayload},
		{"discord", n.cfg.DiscordWebhookURL, discordPayload},
		{"generic", n.cfg.GenericWebhookURL, genericPayload},
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		if ch.url == "" {
			continue
		}
		wg.Add(1)
		go func(ch channel) {
			defer wg.Done()
			if err := n.post(ctx, ch.url, ch.payload(alert)); err != nil {
				n.log.ErrorContext(ctx, "alert channel failed",
					slog.String("channel", ch.name),
					slog.String("title", alert.Title),
					slog.Any("error", err))
			}
		}(ch)
	}
	wg.Wait()
}

func (n *Notifier) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// slackPayload renders the alert as a single colored attachment with a
// header, the message body, and a context footer.
func slackPayload(a Alert) any {
	footer := fmt.Sprintf("Source: %s | Severity: %s | %s",
		a.Source, a.Severity, a.Time.Format(time.RFC3339))
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type":  "plain_text",
				"text":  fmt.Sprintf("%s %s", a.Severity.emoji(), a.Title),
				"emoji": true,
			},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": a.Message},
		},
	}
	for key, value := range a.Metadata {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s:* %v", key, value),
			},
		})
	}
	blocks = append(blocks, map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": footer},
		},
	})
	return map[string]any{
		"attachments": []map[string]any{
			{"color": a.Severity.color(), "blocks": blocks},
		},
	}
}

// discordPayload renders the alert as one embed with inline metadata
// fields and an ISO-8601 timestamp.
func discordPayload(a Alert) any {
	fields := []map[string]any{
		{"name": "Source", "value": a.Source, "inline": true},
		{"name": "Severity", "value": string(a.Severity), "inline": true},
	}
	for key, value := range a.Metadata {
		fields = append(fields, map[string]any{
			"name":   key,
			"value":  fmt.Sprintf("%v", value),
			"inline": true,
		})
	}
	return map[string]any{
		"embeds": []map[string]any{
			{
				"title":       fmt.Sprintf("%s %s", a.Severity.emoji(), a.Title),
				"description": a.Message,
				"color":       a.Severity.colorInt(),
				"fields":      fields,
				"timestamp":   a.Time.Format(time.RFC3339),
				"footer":      map[string]any{"text": "SkyPlanner Alerts"},
			},
		},
	}
}

// genericPayload wraps the raw alert for custom receivers.
func genericPayload(a Alert) any {
	return map[string]any{
		"alert":     a,
		"timestamp": a.Time.Format(time.RFC3339),
	}
}

// Security sends a security alert.
func (n *Notifier) Security(ctx context.Context, title, message string, meta map[string]any) {
	n.Send(ctx, Alert{Severity: SeverityCritical, Source: "security", Title: title, Message: message, Metadata: meta})
}

// PaymentFailure sends an alert about a failed payment.
func (n *Notifier) PaymentFailure(ctx context.Context, message string, meta map[string]any) {
	n.Send(ctx, Alert{Severity: SeverityError, Source: "payment", Title: "Payment failure", Message: message, Metadata: meta})
}

// SystemError sends an alert about an internal error.
func (n *Notifier) SystemError(ctx context.Context, message string, meta map[string]any) {
	n.Send(ctx, Alert{Severity: SeverityError, Source: "system", Title: "System error", Message: message, Metadata: meta})
}

// DatabaseIssue sends an alert about database trouble.
func (n *Notifier) DatabaseIssue(ctx context.Context, message string, meta map[string]any) {
	n.Send(ctx, Alert{Severity: SeverityCritical, Source: "database", Title: "Database issue", Message: message, Metadata: meta})
}

// ResourceUsage sends a resource usage warning.
func (n *Notifier) ResourceUsage(ctx context.Context, message string, meta map[string]any) {
	n.Send(ctx, Alert{Severity: SeverityWarning, Source: "resources", Title: "Resource usage", Message: message, Metadata: meta})
}

// RateLimited sends an alert about rate limiting kicking in.
func (n *Notifier) RateLimited(ctx context.Context, message string, meta map[string]any) {
	n.Send(ctx, Alert{Severity: SeverityWarning, Source: "ratelimit", Title: "Rate limit triggered", Message: message, Metadata: meta})
}

// BruteForce alerts on suspected credential brute forcing. Below the
// attempt threshold it does nothing, to keep noise out of the channels.
func (n *Notifier) BruteForce(ctx context.Context, identifier string, attempts int, meta map[string]any) {
	if attempts < bruteForceThreshold {
		return
	}
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	meta["identifier"] = identifier
	meta["attempts"] = attempts
	n.Send(ctx, Alert{
		Severity: SeverityCritical,
		Source:   "security",
		Title:    "Brute force suspected",
		Message:  fmt.Sprintf("%d failed attempts for %s", attempts, identifier),
		Metadata: meta,
	})
}
