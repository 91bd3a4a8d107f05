package alerts_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyplanner/eventkit/alerts"
	"github.com/skyplanner/eventkit/pkg/logger"
)

// capture records JSON bodies posted to a test channel.
type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		if c.status != 0 {
			w.WriteHeader(c.status)
		}
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *capture) last(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.bodies)
	var out map[string]any
	require.NoError(t, json.Unmarshal(c.bodies[len(c.bodies)-1], &out))
	return out
}

func fixedClock() time.Time {
	return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
}

func TestSendFansOutToAllChannels(t *testing.T) {
	t.Parallel()

	slack, discord, generic := &capture{}, &capture{}, &capture{}
	slackSrv := httptest.NewServer(slack.handler())
	defer slackSrv.Close()
	discordSrv := httptest.NewServer(discord.handler())
	defer discordSrv.Close()
	genericSrv := httptest.NewServer(generic.handler())
	defer genericSrv.Close()

	notifier := alerts.NewNotifier(alerts.Config{
		SlackWebhookURL:   slackSrv.URL,
		DiscordWebhookURL: discordSrv.URL,
		GenericWebhookURL: genericSrv.URL,
	}, alerts.WithLogger(logger.Noop()), alerts.WithClock(fixedClock))

	notifier.Send(context.Background(), alerts.Alert{
		Severity: alerts.SeverityWarning,
		Source:   "resources",
		Title:    "Disk filling up",
		Message:  "volume /data at 91%",
		Metadata: map[string]any{"host": "db-1"},
	})

	assert.Equal(t, 1, slack.count())
	assert.Equal(t, 1, discord.count())
	assert.Equal(t, 1, generic.count())
}

func TestSlackPayloadShape(t *testing.T) {
	t.Parallel()

	slack := &capture{}
	srv := httptest.NewServer(slack.handler())
	defer srv.Close()

	notifier := alerts.NewNotifier(alerts.Config{SlackWebhookURL: srv.URL},
		alerts.WithLogger(logger.Noop()), alerts.WithClock(fixedClock))
	notifier.Send(context.Background(), alerts.Alert{
		Severity: alerts.SeverityCritical,
		Source:   "security",
		Title:    "Breach attempt",
		Message:  "multiple failed logins",
	})

	body := slack.last(t)
	attachments, ok := body["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	attachment := attachments[0].(map[string]any)
	assert.Equal(t, "#8b0000", attachment["color"])

	blocks := attachment["blocks"].([]any)
	require.GreaterOrEqual(t, len(blocks), 3)
	header := blocks[0].(map[string]any)
	assert.Equal(t, "header", header["type"])
	headerText := header["text"].(map[string]any)["text"].(string)
	assert.Contains(t, headerText, "🚨")
	assert.Contains(t, headerText, "Breach attempt")

	footer := blocks[len(blocks)-1].(map[string]any)
	assert.Equal(t, "context", footer["type"])
	footerText := footer["elements"].([]any)[0].(map[string]any)["text"].(string)
	assert.Contains(t, footerText, "Source: security")
	assert.Contains(t, footerText, "Severity: critical")
	assert.Contains(t, footerText, "2026-08-24T12:00:00Z")
}

func TestDiscordPayloadShape(t *testing.T) {
	t.Parallel()

	discord := &capture{}
	srv := httptest.NewServer(discord.handler())
	defer srv.Close()

	notifier := alerts.NewNotifier(alerts.Config{DiscordWebhookURL: srv.URL},
		alerts.WithLogger(logger.Noop()), alerts.WithClock(fixedClock))
	notifier.Send(context.Background(), alerts.Alert{
		Severity: alerts.SeverityError,
		Source:   "system",
		Title:    "Worker crashed",
		Message:  "sweep loop exited",
		Metadata: map[string]any{"pid": 4242},
	})

	body := discord.last(t)
	embeds := body["embeds"].([]any)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, float64(0xe74c3c), embed["color"])
	assert.Equal(t, "sweep loop exited", embed["description"])
	assert.Equal(t, "2026-08-24T12:00:00Z", embed["timestamp"])
	assert.Equal(t, "SkyPlanner Alerts",
		embed["footer"].(map[string]any)["text"])

	fields := embed["fields"].([]any)
	require.GreaterOrEqual(t, len(fields), 3)
	names := make(map[string]string)
	for _, f := range fields {
		field := f.(map[string]any)
		names[field["name"].(string)] = field["value"].(string)
		assert.Equal(t, true, field["inline"])
	}
	assert.Equal(t, "system", names["Source"])
	assert.Equal(t, "error", names["Severity"])
	assert.Equal(t, "4242", names["pid"])
}

func TestGenericPayloadShape(t *testing.T) {
	t.Parallel()

	generic := &capture{}
	srv := httptest.NewServer(generic.handler())
	defer srv.Close()

	notifier := alerts.NewNotifier(alerts.Config{GenericWebhookURL: srv.URL},
		alerts.WithLogger(logger.Noop()), alerts.WithClock(fixedClock))
	notifier.Send(context.Background(), alerts.Alert{
		Source:  "payment",
		Title:   "Charge failed",
		Message: "card declined",
	})

	body := generic.last(t)
	assert.Equal(t, "2026-08-24T12:00:00Z", body["timestamp"])
	alert := body["alert"].(map[string]any)
	assert.Equal(t, "Charge failed", alert["title"])
	assert.Equal(t, "card declined", alert["message"])
	// Severity defaults to info when unset.
	assert.Equal(t, "info", alert["severity"])
}

func TestChannelFailureIsIsolated(t *testing.T) {
	t.Parallel()

	failing := &capture{status: http.StatusBadGateway}
	healthy := &capture{}
	failingSrv := httptest.NewServer(failing.handler())
	defer failingSrv.Close()
	healthySrv := httptest.NewServer(healthy.handler())
	defer healthySrv.Close()

	notifier := alerts.NewNotifier(alerts.Config{
		SlackWebhookURL:   failingSrv.URL,
		DiscordWebhookURL: healthySrv.URL,
	}, alerts.WithLogger(logger.Noop()))

	// Send returns normally even though one channel rejected the post.
	notifier.Send(context.Background(), alerts.Alert{Title: "ok", Message: "m"})
	assert.Equal(t, 1, healthy.count())
}

func TestBruteForceThreshold(t *testing.T) {
	t.Parallel()

	generic := &capture{}
	srv := httptest.NewServer(generic.handler())
	defer srv.Close()

	notifier := alerts.NewNotifier(alerts.Config{GenericWebhookURL: srv.URL},
		alerts.WithLogger(logger.Noop()), alerts.WithClock(fixedClock))
	ctx := context.Background()

	notifier.BruteForce(ctx, "user@example.com", 9, nil)
	assert.Zero(t, generic.count(), "below threshold must not alert")

	notifier.BruteForce(ctx, "user@example.com", 10, nil)
	require.Equal(t, 1, generic.count())

	alert := generic.last(t)["alert"].(map[string]any)
	assert.Equal(t, "critical", alert["severity"])
	meta := alert["metadata"].(map[string]any)
	assert.Equal(t, "user@example.com", meta["identifier"])
	assert.Equal(t, float64(10), meta["attempts"])
}
