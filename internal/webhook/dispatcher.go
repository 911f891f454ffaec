// Package webhook delivers the deployment_ready notification to the
// caller's webhook_url, with bounded retries and secret masking in
// any logged copy of the payload.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/visgate-ai/visgate-deploy-api/internal/metrics"
	"github.com/visgate-ai/visgate-deploy-api/internal/secret"
)

const (
	connectTimeout = 10 * time.Second
	totalTimeout   = 30 * time.Second
	maxAttempts    = 3
)

// UsageExample is a ready-to-run invocation sample for the caller.
type UsageExample struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	AuthHeader  string `json:"auth_header"`
	SampleBody  string `json:"sample_body"`
}

// Payload is the JSON body delivered to webhook_url on readiness.
type Payload struct {
	Event            string       `json:"event"`
	DeploymentID     string       `json:"deployment_id"`
	Status           string       `json:"status"`
	EndpointURL      string       `json:"endpoint_url"`
	ModelID          string       `json:"model_id"`
	GPUAllocated     string       `json:"gpu_allocated"`
	DurationSeconds  float64      `json:"duration_seconds"`
	UsageExample     UsageExample `json:"usage_example"`
}

// Dispatcher delivers webhook payloads with retry and masking.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a Dispatcher with a pooled client and the given logger.
func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Deliver POSTs payload to webhookURL, retrying on 5xx, 408, 429 and
// network errors on an exponential schedule (1s, 5s, 25s, ...), up to
// maxAttempts tries; with maxAttempts = 3 the waits between tries are
// 1s and 5s.
// secrets lists any raw values (provider key, HF token) that must
// never appear in a logged copy of the request. Returns nil once
// delivered (any 2xx), or the last error once attempts are exhausted.
func (d *Dispatcher) Deliver(ctx context.Context, webhookURL string, payload Payload, secrets ...string) error {
	start := time.Now()
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.Multiplier = 5
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	attempt := 0

	var lastErr error
	for attempt < maxAttempts {
		attempt++
		lastErr = d.attempt(ctx, webhookURL, body)
		if lastErr == nil {
			metrics.WebhookAttempts.WithLabelValues("success").Inc()
			metrics.WebhookDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		terminal, ok := lastErr.(*terminalError)
		if ok {
			metrics.WebhookAttempts.WithLabelValues("terminal").Inc()
			d.logger.Warn("webhook delivery terminal failure",
				"deployment_id", payload.DeploymentID,
				"status_code", terminal.statusCode,
				"masked_url", secret.Mask(webhookURL))
			metrics.WebhookDuration.Observe(time.Since(start).Seconds())
			return lastErr
		}

		if attempt >= maxAttempts {
			break
		}

		wait := bo.NextBackOff()
		d.logger.Warn("webhook delivery retrying",
			"deployment_id", payload.DeploymentID,
			"attempt", attempt,
			"wait", wait,
			"err", maskErr(lastErr, secrets))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	metrics.WebhookAttempts.WithLabelValues("exhausted").Inc()
	metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	d.logger.Error("webhook delivery exhausted retries",
		"deployment_id", payload.DeploymentID,
		"masked_url", secret.Mask(webhookURL),
		"err", maskErr(lastErr, secrets))
	return fmt.Errorf("webhook delivery exhausted %d attempts: %w", maxAttempts, lastErr)
}

// terminalError marks a response that must not be retried (4xx other
// than 408/429).
type terminalError struct {
	statusCode int
}

func (e *terminalError) Error() string {
	return fmt.Sprintf("webhook returned terminal status %d", e.statusCode)
}

func (d *Dispatcher) attempt(ctx context.Context, webhookURL string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("webhook returned retryable status %d", resp.StatusCode)
	}
	return &terminalError{statusCode: resp.StatusCode}
}

// maskErr returns err's message with every listed secret masked, for
// safe logging.
func maskErr(err error, secrets []string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, s := range secrets {
		if s == "" {
			continue
		}
		msg = secret.Redact(msg, s)
	}
	return msg
}
