// Package engine is the Lifecycle Engine: it drives one deployment
// from validating through to ready (or a terminal failure) as a
// single goroutine running a sequence of phase helpers, each recorded
// as a compare-and-set transition in the Store. Grounded on the
// teacher's pipeline decomposition — one helper per stage, each
// logging its own span — adapted from an audio pipeline's stages to
// this system's deployment lifecycle.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/visgate-ai/visgate-deploy-api/internal/apperr"
	"github.com/visgate-ai/visgate-deploy-api/internal/gpuselect"
	"github.com/visgate-ai/visgate-deploy-api/internal/hfvalidator"
	"github.com/visgate-ai/visgate-deploy-api/internal/ids"
	"github.com/visgate-ai/visgate-deploy-api/internal/metrics"
	"github.com/visgate-ai/visgate-deploy-api/internal/provider"
	"github.com/visgate-ai/visgate-deploy-api/internal/readiness"
	"github.com/visgate-ai/visgate-deploy-api/internal/registry"
	"github.com/visgate-ai/visgate-deploy-api/internal/store"
	"github.com/visgate-ai/visgate-deploy-api/internal/streamhub"
	"github.com/visgate-ai/visgate-deploy-api/internal/vram"
	"github.com/visgate-ai/visgate-deploy-api/internal/webhook"
)

// PhaseBudget is the default time allowed in {creating_endpoint,
// downloading_model, loading_model} before a deployment times out.
const PhaseBudget = 20 * time.Minute

// WorkerDefaults carries the scaling knobs injected into every
// created endpoint, sourced from environment configuration.
type WorkerDefaults struct {
	WorkersMin         int
	WorkersMax         int
	IdleTimeoutSeconds int
	ScalerType         string
	ScalerValue        int
}

// Config bundles the Engine's collaborators.
type Config struct {
	Store          store.Store
	Provider       provider.Adapter
	Validator      *hfvalidator.Validator
	Dispatcher     *webhook.Dispatcher
	Logger         *slog.Logger
	WorkerDefaults WorkerDefaults
	WebhookBaseURL string // INTERNAL_WEBHOOK_BASE_URL; callback target injected into worker env
	PollConfig     readiness.PollConfig
	PhaseBudget    time.Duration
	// Stream, if set, receives a JSON snapshot of the deployment after
	// every transition so SSE subscribers observe the same sequence the
	// Store does.
	Stream *streamhub.Hub
}

// Engine runs one goroutine per in-flight deployment and tracks
// cancellation functions so a delete can stop the owning task at its
// next await point.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates an Engine. PhaseBudget and PollConfig default to the
// spec's values if left zero.
func New(cfg Config) *Engine {
	if cfg.PhaseBudget == 0 {
		cfg.PhaseBudget = PhaseBudget
	}
	if cfg.PollConfig.Interval == 0 {
		cfg.PollConfig = readiness.DefaultPollConfig()
	}
	return &Engine{cfg: cfg, cancels: make(map[string]context.CancelFunc)}
}

// Request is the validated input to Start, assembled by the HTTP
// transport from the incoming POST body.
type Request struct {
	HFModelID      string
	ProviderHint   string
	ModelNameAlias string
	RequestedTier  string
	HFToken        string
	WebhookURL     string
	OwnerHash      string
	CacheScope     store.CacheScope
	S3URL          string
	AWSAccessKeyID string
	AWSSecretKey   string
}

// Start creates the Deployment record and launches its lifecycle
// goroutine, returning the created (validating-status) document
// immediately so the caller gets its 202 response.
func (e *Engine) Start(ctx context.Context, req Request) (*store.Deployment, error) {
	now := time.Now().UTC()
	d := &store.Deployment{
		ID:             ids.NewDeploymentID(now),
		OwnerHash:      req.OwnerHash,
		ModelID:        req.HFModelID,
		ProviderHint:   req.ProviderHint,
		ModelNameAlias: req.ModelNameAlias,
		RequestedTier:  req.RequestedTier,
		WebhookURL:     req.WebhookURL,
		CacheScope:     req.CacheScope,
		S3URL:          req.S3URL,
		AWSAccessKeyID: req.AWSAccessKeyID,
		AWSSecretKey:   req.AWSSecretKey,
		Status:         store.StatusValidating,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.cfg.Store.Create(ctx, d); err != nil {
		return nil, err
	}
	metrics.DeploymentsActive.Inc()

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[d.ID] = cancel
	e.mu.Unlock()

	go e.run(runCtx, d.ID, req.HFToken)

	return d, nil
}

// Delete cancels the owning goroutine (if still running) and attempts
// a best-effort provider delete before marking the deployment deleted
// unconditionally. Safe to call repeatedly; idempotent.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
		delete(e.cancels, id)
	}
	e.mu.Unlock()

	d, err := e.cfg.Store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == store.StatusDeleted {
		return nil
	}

	if d.EndpointID != "" {
		if delErr := e.cfg.Provider.DeleteEndpoint(ctx, d.EndpointID); delErr != nil {
			e.cfg.Logger.Warn("provider delete failed, proceeding with local delete",
				"deployment_id", id, "endpoint_id", d.EndpointID, "err", delErr)
			_ = e.cfg.Store.AppendLog(ctx, id, store.LogWarn, fmt.Sprintf("provider delete failed: %v", delErr))
		}
	}

	for {
		cur, err := e.cfg.Store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == store.StatusDeleted {
			return nil
		}
		_, err = e.cfg.Store.Update(ctx, id, cur.Status, store.Patch{NewStatus: store.StatusDeleted})
		if err == nil {
			metrics.DeploymentsTotal.WithLabelValues(string(store.StatusDeleted)).Inc()
			e.broadcast(ctx, id)
			return nil
		}
		if errors.Is(err, store.ErrCASMismatch) {
			continue // status moved under us; retry against its new value
		}
		return err
	}
}

func (e *Engine) run(ctx context.Context, id, hfToken string) {
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
		metrics.DeploymentsActive.Dec()
	}()

	phaseStart := time.Now()
	meta, minVRAM, err := e.runValidation(ctx, id, hfToken)
	metrics.PhaseDuration.WithLabelValues(string(store.StatusValidating)).Observe(time.Since(phaseStart).Seconds())
	if err != nil {
		e.fail(ctx, id, store.StatusValidating, err)
		return
	}
	e.broadcast(ctx, id)

	phaseStart = time.Now()
	candidates, err := e.runSelectGPU(ctx, id, minVRAM)
	metrics.PhaseDuration.WithLabelValues(string(store.StatusSelectingGPU)).Observe(time.Since(phaseStart).Seconds())
	if err != nil {
		e.fail(ctx, id, store.StatusSelectingGPU, err)
		return
	}
	e.broadcast(ctx, id)

	phaseCtx, cancelPhase := context.WithTimeout(ctx, e.cfg.PhaseBudget)
	defer cancelPhase()

	phaseStart = time.Now()
	endpointID, endpointURL, resolvedTier, err := e.runCreateEndpoint(phaseCtx, id, meta, hfToken, candidates)
	metrics.PhaseDuration.WithLabelValues(string(store.StatusCreatingEndpoint)).Observe(time.Since(phaseStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return // deleted mid-creation; Delete already handled the transition
		}
		if phaseCtx.Err() != nil {
			e.timeout(ctx, id, store.StatusCreatingEndpoint)
			return
		}
		e.fail(ctx, id, store.StatusCreatingEndpoint, err)
		return
	}

	e.advance(ctx, id, store.StatusCreatingEndpoint, store.StatusDownloadingModel, store.Patch{
		NewStatus:    store.StatusDownloadingModel,
		EndpointID:   endpointID,
		EndpointURL:  endpointURL,
		ResolvedTier: resolvedTier,
	})
	downloadStart := time.Now()
	e.advance(ctx, id, store.StatusDownloadingModel, store.StatusLoadingModel, store.Patch{
		NewStatus: store.StatusLoadingModel,
	})
	metrics.PhaseDuration.WithLabelValues(string(store.StatusDownloadingModel)).Observe(time.Since(downloadStart).Seconds())

	loadStart := time.Now()
	e.awaitReadiness(phaseCtx, id, endpointID, resolvedTier)
	metrics.PhaseDuration.WithLabelValues(string(store.StatusLoadingModel)).Observe(time.Since(loadStart).Seconds())
}

// runValidation resolves HF model metadata and the VRAM floor,
// transitioning validating -> selecting_gpu on success.
func (e *Engine) runValidation(ctx context.Context, id, hfToken string) (*hfvalidator.ModelMetadata, int, error) {
	_ = e.cfg.Store.AppendLog(ctx, id, store.LogInfo, "validating")

	d, err := e.cfg.Store.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	var minVRAM int
	var meta *hfvalidator.ModelMetadata

	if spec, ok := registry.LookupModel(d.ModelID); ok {
		minVRAM = spec.MinVRAMGB
		meta = &hfvalidator.ModelMetadata{ModelID: d.ModelID, PipelineTag: spec.Pipeline}
		// Still confirm the model is actually reachable/ungated on HF,
		// since a registry entry only records what we expect, not
		// today's access state.
		if _, verr := e.cfg.Validator.Validate(ctx, d.ModelID, hfToken); verr != nil {
			return nil, 0, verr
		}
	} else {
		meta, err = e.cfg.Validator.Validate(ctx, d.ModelID, hfToken)
		if err != nil {
			return nil, 0, err
		}
		minVRAM, err = vram.Estimate(d.ModelID, meta.DtypeCounts)
		if err != nil {
			return nil, 0, err
		}
	}

	_, err = e.cfg.Store.Update(ctx, id, store.StatusValidating, store.Patch{NewStatus: store.StatusSelectingGPU})
	if err != nil {
		return nil, 0, err
	}
	return meta, minVRAM, nil
}

// runSelectGPU orders GPU candidates by cost, recording the chosen
// resolved_tier as soon as one exists, and transitions to
// creating_endpoint.
func (e *Engine) runSelectGPU(ctx context.Context, id string, minVRAM int) ([]registry.GPUSpec, error) {
	d, err := e.cfg.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	candidates, err := gpuselect.Select(minVRAM, d.RequestedTier)
	if err != nil {
		return nil, err
	}

	_, err = e.cfg.Store.Update(ctx, id, store.StatusSelectingGPU, store.Patch{
		NewStatus:    store.StatusCreatingEndpoint,
		ResolvedTier: candidates[0].TierID,
	})
	if err != nil {
		return nil, err
	}
	_ = e.cfg.Store.AppendLog(ctx, id, store.LogInfo, fmt.Sprintf("selected gpu tier %s (min_vram=%dGB)", candidates[0].TierID, minVRAM))
	return candidates, nil
}

// runCreateEndpoint walks the cost-ordered candidate list, retrying on
// capacity errors and recording each attempt, until one succeeds or
// the list is exhausted.
func (e *Engine) runCreateEndpoint(ctx context.Context, id string, meta *hfvalidator.ModelMetadata, hfToken string, candidates []registry.GPUSpec) (endpointID, endpointURL, resolvedTier string, err error) {
	d, err := e.cfg.Store.GetByID(ctx, id)
	if err != nil {
		return "", "", "", err
	}

	envVars := map[string]string{
		"HF_MODEL_ID": d.ModelID,
	}
	if hfToken != "" {
		envVars["HF_TOKEN"] = hfToken
	}
	if e.cfg.WebhookBaseURL != "" {
		envVars["VISGATE_WEBHOOK"] = e.cfg.WebhookBaseURL + "/internal/deployment-ready/" + id
	}
	if d.CacheScope == store.CacheScopePrivate {
		envVars["AWS_ACCESS_KEY_ID"] = d.AWSAccessKeyID
		envVars["AWS_SECRET_ACCESS_KEY"] = d.AWSSecretKey
		envVars["S3_MODEL_URL"] = d.S3URL
	}

	worker := provider.WorkerConfig{
		WorkersMin:         e.cfg.WorkerDefaults.WorkersMin,
		WorkersMax:         e.cfg.WorkerDefaults.WorkersMax,
		IdleTimeoutSeconds: e.cfg.WorkerDefaults.IdleTimeoutSeconds,
		ScalerType:         e.cfg.WorkerDefaults.ScalerType,
		ScalerValue:        e.cfg.WorkerDefaults.ScalerValue,
	}

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return "", "", "", ctx.Err()
		}

		out, createErr := e.cfg.Provider.CreateEndpoint(ctx, provider.CreateEndpointInput{
			Name:      ids.NewEndpointName(id),
			GPUTierID: cand.TierID,
			EnvVars:   envVars,
			Worker:    worker,
		})
		if createErr == nil {
			return out.EndpointID, out.EndpointURL, cand.TierID, nil
		}

		if provider.IsCapacityError(createErr) {
			metrics.GPUFallbackAttempts.WithLabelValues(cand.TierID, "capacity").Inc()
			metrics.ProviderErrors.WithLabelValues("capacity").Inc()
			_ = e.cfg.Store.AppendLog(ctx, id, store.LogWarn, fmt.Sprintf("tier %s: no capacity, trying next candidate", cand.TierID))
			now := time.Now().UTC()
			cur, gerr := e.cfg.Store.GetByID(ctx, id)
			if gerr == nil {
				_, _ = e.cfg.Store.Update(ctx, id, cur.Status, store.Patch{
					NewStatus: cur.Status,
					AppendAttempt: &store.Attempt{
						TierID:        cand.TierID,
						FailureReason: createErr.Error(),
						At:            now,
					},
				})
			}
			continue
		}

		metrics.GPUFallbackAttempts.WithLabelValues(cand.TierID, "error").Inc()
		metrics.ProviderErrors.WithLabelValues("generic").Inc()
		return "", "", "", apperr.Wrap(apperr.KindProvider, "provider endpoint creation failed", createErr)
	}

	return "", "", "", apperr.New(apperr.KindInsufficientGPU, "all candidate GPU tiers exhausted capacity")
}

// awaitReadiness starts the outbound poller and blocks until the
// deployment leaves the active window (readiness, timeout, or
// delete), then fires the webhook if it became ready.
func (e *Engine) awaitReadiness(ctx context.Context, id, endpointID, resolvedTier string) {
	readiness.Poll(ctx, e.cfg.Store, e.cfg.Provider, id, endpointID, e.cfg.PollConfig, e.cfg.Logger)

	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			e.timeout(context.Background(), id, store.StatusLoadingModel)
		}
		return
	}

	d, err := e.cfg.Store.GetByID(context.Background(), id)
	if err != nil || d.Status != store.StatusReady {
		return
	}
	e.broadcast(context.Background(), id)

	e.deliverWebhook(context.Background(), d, resolvedTier)
}

func (e *Engine) deliverWebhook(ctx context.Context, d *store.Deployment, resolvedTier string) {
	display := resolvedTier
	if spec, ok := registry.ResolveGPUAlias(resolvedTier); ok {
		display = spec.DisplayName
	}

	duration := 0.0
	if d.ReadyAt != nil {
		duration = d.ReadyAt.Sub(d.CreatedAt).Seconds()
	}

	payload := webhook.Payload{
		Event:           "deployment_ready",
		DeploymentID:    d.ID,
		Status:          string(store.StatusReady),
		EndpointURL:     d.EndpointURL,
		ModelID:         d.ModelID,
		GPUAllocated:    display,
		DurationSeconds: duration,
		UsageExample: webhook.UsageExample{
			Method:     "POST",
			URL:        d.EndpointURL,
			AuthHeader: "Authorization: Bearer <your-provider-key>",
			SampleBody: `{"input": {"prompt": "a photo of a cat"}}`,
		},
	}

	err := e.cfg.Dispatcher.Deliver(ctx, d.WebhookURL, payload, d.AWSSecretKey)
	if err != nil {
		_, _ = e.cfg.Store.Update(ctx, d.ID, store.StatusReady, store.Patch{
			NewStatus: store.StatusWebhookFailed,
			Error:     &store.DeploymentError{Kind: string(apperr.KindWebhookDelivery), Message: err.Error()},
		})
		_ = e.cfg.Store.AppendLog(ctx, d.ID, store.LogError, fmt.Sprintf("webhook delivery failed: %v", err))
		metrics.DeploymentsTotal.WithLabelValues(string(store.StatusWebhookFailed)).Inc()
		e.broadcast(ctx, d.ID)
		return
	}
	metrics.DeploymentsTotal.WithLabelValues(string(store.StatusReady)).Inc()
	e.broadcast(ctx, d.ID)
}

// advance performs a best-effort CAS transition, logging but not
// failing the run if another caller already moved the status (e.g. a
// racing delete).
func (e *Engine) advance(ctx context.Context, id string, from, to store.Status, patch store.Patch) {
	_, err := e.cfg.Store.Update(ctx, id, from, patch)
	if err != nil {
		e.cfg.Logger.Debug("phase advance skipped", "deployment_id", id, "from", from, "to", to, "err", err)
		return
	}
	_ = e.cfg.Store.AppendLog(ctx, id, store.LogInfo, string(to))
	e.broadcast(ctx, id)
}

func (e *Engine) fail(ctx context.Context, id string, from store.Status, cause error) {
	kind := apperr.KindOf(cause)
	msg := cause.Error()

	d, err := e.cfg.Store.GetByID(ctx, id)
	if err != nil {
		return
	}
	_, _ = e.cfg.Store.Update(ctx, id, d.Status, store.Patch{
		NewStatus: store.StatusFailed,
		Error:     &store.DeploymentError{Kind: string(kind), Message: msg},
	})
	_ = e.cfg.Store.AppendLog(ctx, id, store.LogError, fmt.Sprintf("failed in %s: %s", from, msg))
	metrics.DeploymentsTotal.WithLabelValues(string(store.StatusFailed)).Inc()
	e.broadcast(ctx, id)
}

func (e *Engine) timeout(ctx context.Context, id string, from store.Status) {
	d, err := e.cfg.Store.GetByID(ctx, id)
	if err != nil {
		return
	}
	if !isActive(d.Status) {
		return
	}
	_, _ = e.cfg.Store.Update(ctx, id, d.Status, store.Patch{
		NewStatus: store.StatusTimeout,
		Error:     &store.DeploymentError{Kind: string(apperr.KindTimeout), Message: fmt.Sprintf("phase budget exceeded from %s", from)},
	})
	_ = e.cfg.Store.AppendLog(ctx, id, store.LogError, "phase budget exceeded")
	metrics.DeploymentsTotal.WithLabelValues(string(store.StatusTimeout)).Inc()
	e.broadcast(ctx, id)
}

// broadcast pushes the current deployment snapshot to any SSE
// subscribers. Best-effort: a lookup failure just means no update is
// sent this round.
func (e *Engine) broadcast(ctx context.Context, id string) {
	if e.cfg.Stream == nil {
		return
	}
	d, err := e.cfg.Store.GetByID(ctx, id)
	if err != nil {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	e.cfg.Stream.Broadcast(id, data)
}

func isActive(s store.Status) bool {
	switch s {
	case store.StatusCreatingEndpoint, store.StatusDownloadingModel, store.StatusLoadingModel:
		return true
	default:
		return false
	}
}
