package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skyplanner/eventkit/pkg/audit"
	"github.com/skyplanner/eventkit/pkg/signature"
	"github.com/skyplanner/eventkit/pkg/urlguard"
)

const (
	// attemptTimeout bounds one delivery attempt wall-clock, including DNS,
	// connect, and response read.
	attemptTimeout = 30 * time.Second

	userAgent = "SkyPlanner-Webhooks/1.0"
)

// URLValidator re-checks a destination URL before each delivery attempt.
// *urlguard.Validator satisfies it.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// Engine drives the per-delivery state machine: it consumes the due set from
// the repository, attempts each delivery, and records the outcome. It is
// kicked by the dispatcher after queueing and by a periodic sweep for due
// retries; both paths funnel through a single processing loop, and the
// repository remains the source of truth for delivery state.
type Engine struct {
	repo      Repository
	validator URLValidator
	client    *http.Client
	log       *slog.Logger
	audit     *audit.Logger

	sweepInterval time.Duration
	batchSize     int
	concurrency   int
	now           func() time.Time

	trigger   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	// processMu serializes processing rounds so a trigger arriving during a
	// sweep cannot attempt the same delivery twice within this process.
	processMu sync.Mutex
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithHTTPClient overrides the HTTP client used for delivery attempts.
func WithHTTPClient(client *http.Client) EngineOption {
	return func(e *Engine) {
		if client != nil {
			e.client = client
		}
	}
}

// WithValidator overrides the URL validator, mainly to inject a fixed
// resolver in tests.
func WithValidator(v URLValidator) EngineOption {
	return func(e *Engine) {
		if v != nil {
			e.validator = v
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithAuditLogger records endpoint auto-disable events to the audit trail.
func WithAuditLogger(a *audit.Logger) EngineOption {
	return func(e *Engine) { e.audit = a }
}

// WithSweepInterval sets how often the engine looks for due retries.
func WithSweepInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

// WithBatchSize caps how many due deliveries one round pulls.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithConcurrency caps parallel delivery attempts per round.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a delivery engine. The repository is required.
func NewEngine(repo Repository, opts ...EngineOption) *Engine {
	if repo == nil {
		panic("webhook: repository cannot be nil")
	}

	e := &Engine{
		repo:      repo,
		validator: urlguard.New(),
		client: &http.Client{
			Timeout: attemptTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:           slog.New(slog.DiscardHandler),
		sweepInterval: time.Minute,
		batchSize:     100,
		concurrency:   5,
		now:           time.Now,
		trigger:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start launches the background processing loop. Subsequent calls are no-ops.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.run(ctx)
	})
}

// Stop terminates the background loop and waits for in-flight rounds.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}

// Trigger requests a processing round without blocking the caller. A round
// already pending coalesces with this one.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
		case <-e.trigger:
		}

		if err := e.ProcessDue(ctx); err != nil {
			e.log.ErrorContext(ctx, "delivery round failed", slog.Any("error", err))
		}
	}
}

// ProcessDue attempts every currently due delivery. Exported so callers can
// run a round synchronously; concurrent invocations are serialized.
func (e *Engine) ProcessDue(ctx context.Context) error {
	e.processMu.Lock()
	defer e.processMu.Unlock()

	due, err := e.repo.GetDueDeliveries(ctx, e.now(), e.batchSize)
	if err != nil {
		return fmt.Errorf("fetch due deliveries: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range due {
		delivery := due[i]
		g.Go(func() error {
			e.attempt(gctx, &delivery)
			return nil
		})
	}
	return g.Wait()
}

// attempt runs one delivery attempt and records its outcome. Errors never
// escape to business callers; they mutate delivery state instead.
func (e *Engine) attempt(ctx context.Context, d *Delivery) {
	endpoint, err := e.repo.GetEndpointWithSecret(ctx, d.EndpointID)
	if err != nil || !endpoint.IsActive {
		e.markFailed(ctx, d, "endpoint inactive or not found")
		return
	}

	// DNS may have changed since the endpoint was registered, so the URL is
	// re-checked before every attempt.
	if err := e.validator.Validate(ctx, endpoint.URL); err != nil {
		e.markFailed(ctx, d, err.Error())
		return
	}

	status, body, elapsed, err := e.post(ctx, endpoint, d)

	now := e.now()
	d.AttemptCount++
	d.ResponseTimeMS = ptr(elapsed.Milliseconds())
	if status > 0 {
		d.ResponseStatus = ptr(status)
		d.ResponseBody = truncate(body, maxResponseBodyLen)
	}

	if err == nil && status >= 200 && status < 300 {
		d.Status = StatusDelivered
		d.ErrorMessage = ""
		d.NextRetryAt = nil
		d.DeliveredAt = &now
		if err := e.repo.UpdateDelivery(ctx, d); err != nil {
			e.log.ErrorContext(ctx, "failed to record delivered status",
				slog.Int64("delivery_id", d.ID), slog.Any("error", err))
		}
		if err := e.repo.RecordSuccess(ctx, endpoint.ID); err != nil {
			e.log.ErrorContext(ctx, "failed to reset endpoint failure count",
				slog.Int64("endpoint_id", endpoint.ID), slog.Any("error", err))
		}
		e.log.DebugContext(ctx, "webhook delivered",
			slog.Int64("delivery_id", d.ID),
			slog.String("event_id", d.EventID),
			slog.Int("status", status),
			slog.Int64("ms", elapsed.Milliseconds()))
		return
	}

	errMsg := fmt.Sprintf("endpoint returned status %d", status)
	if err != nil {
		errMsg = err.Error()
	}
	d.ErrorMessage = errMsg

	if d.AttemptCount >= d.MaxAttempts {
		d.Status = StatusFailed
		d.NextRetryAt = nil
	} else {
		d.Status = StatusRetrying
		next := now.Add(RetryDelay(d.AttemptCount))
		d.NextRetryAt = &next
	}

	if err := e.repo.UpdateDelivery(ctx, d); err != nil {
		e.log.ErrorContext(ctx, "failed to record delivery failure",
			slog.Int64("delivery_id", d.ID), slog.Any("error", err))
	}

	failures, err := e.repo.RecordFailure(ctx, endpoint.ID)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to increment endpoint failure count",
			slog.Int64("endpoint_id", endpoint.ID), slog.Any("error", err))
		return
	}

	if failures >= AutoDisableThreshold {
		if err := e.repo.DisableEndpoint(ctx, endpoint.ID, AutoDisableReason); err != nil {
			e.log.ErrorContext(ctx, "failed to auto-disable endpoint",
				slog.Int64("endpoint_id", endpoint.ID), slog.Any("error", err))
			return
		}
		e.log.WarnContext(ctx, "endpoint auto-disabled after repeated failures",
			slog.Int64("endpoint_id", endpoint.ID),
			slog.Int("failure_count", failures))
		if e.audit != nil {
			e.audit.Log(ctx, audit.ActionEndpointDisabled,
				audit.WithOrganization(strconv.FormatInt(endpoint.OrganizationID, 10)),
				audit.WithMetadata("endpoint_id", endpoint.ID),
				audit.WithMetadata("reason", AutoDisableReason))
		}
	}
}

// markFailed finalizes a delivery that was blocked before any HTTP request.
func (e *Engine) markFailed(ctx context.Context, d *Delivery, reason string) {
	d.Status = StatusFailed
	d.ErrorMessage = reason
	d.NextRetryAt = nil
	if err := e.repo.UpdateDelivery(ctx, d); err != nil {
		e.log.ErrorContext(ctx, "failed to mark delivery failed",
			slog.Int64("delivery_id", d.ID), slog.Any("error", err))
	}
}

// post performs the signed HTTP POST for one attempt.
func (e *Engine) post(ctx context.Context, endpoint *Endpoint, d *Delivery) (status int, body string, elapsed time.Duration, err error) {
	payload := []byte(d.Payload)

	reqCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature.SignatureHeader(endpoint.SecretHash, payload))
	req.Header.Set("X-Webhook-Event", string(d.EventType))
	req.Header.Set("X-Webhook-ID", d.EventID)
	req.Header.Set("X-Webhook-Timestamp", e.now().UTC().Format(time.RFC3339))
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := e.client.Do(req)
	elapsed = time.Since(start)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return 0, "", elapsed, fmt.Errorf("request timed out after %s", attemptTimeout)
		}
		return 0, "", elapsed, err
	}
	defer func() { _ = resp.Body.Close() }()

	// Read just past the stored excerpt size; the rest is discarded.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyLen+1))
	return resp.StatusCode, string(raw), elapsed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func ptr[T any](v T) *T {
	return &v
}
