package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visgate-ai/visgate-deploy-api/internal/apperr"
	"github.com/visgate-ai/visgate-deploy-api/internal/engine"
	"github.com/visgate-ai/visgate-deploy-api/internal/ratelimit"
	"github.com/visgate-ai/visgate-deploy-api/internal/readiness"
	"github.com/visgate-ai/visgate-deploy-api/internal/store"
	"github.com/visgate-ai/visgate-deploy-api/internal/streamhub"
)

const defaultLogTail = 100

// deps holds everything the HTTP handlers need, grounded on the
// teacher's routes.go deps struct holding handler dependencies.
type deps struct {
	engine       *engine.Engine
	store        store.Store
	stream       *streamhub.Hub
	limiter      *ratelimit.PerOwnerLimiter
	internalSecret string
	logger       *slog.Logger
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /readiness", d.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/deployments", d.handleCreateDeployment)
	mux.HandleFunc("GET /v1/deployments/{id}", d.handleGetDeployment)
	mux.HandleFunc("DELETE /v1/deployments/{id}", d.handleDeleteDeployment)
	mux.HandleFunc("GET /v1/deployments/{id}/stream", d.handleStreamDeployment)

	mux.HandleFunc("POST /internal/deployment-ready/{id}", d.handleDeploymentReady)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (d deps) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if _, err := d.store.GetByID(r.Context(), "__readiness_probe__"); err != nil && err != store.ErrNotFound {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type createDeploymentRequest struct {
	HFModelID      string `json:"hf_model_id"`
	ModelName      string `json:"model_name"`
	ProviderHint   string `json:"provider"`
	UserWebhookURL string `json:"user_webhook_url"`
	GPUTier        string `json:"gpu_tier"`
	HFToken        string `json:"hf_token"`
	CacheScope     string `json:"cache_scope"`
	UserS3URL      string `json:"user_s3_url"`
	UserAWSKeyID   string `json:"user_aws_access_key_id"`
	UserAWSSecret  string `json:"user_aws_secret_access_key"`
}

type createDeploymentResponse struct {
	DeploymentID          string    `json:"deployment_id"`
	Status                string    `json:"status"`
	ModelID               string    `json:"model_id"`
	EstimatedReadySeconds int       `json:"estimated_ready_seconds"`
	WebhookURL            string    `json:"webhook_url"`
	CreatedAt             time.Time `json:"created_at"`
}

// estimatedReadySeconds is a rough default used in the 202 response;
// it reflects typical cold-start time, not a measured forecast.
const estimatedReadySeconds = 180

func (d deps) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	providerKey, ok := extractProviderKey(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindUnauthorized, "missing provider credential"))
		return
	}
	ownerHash := hashOwner(providerKey)

	if d.limiter != nil && !d.limiter.Allow(ownerHash) {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.limiter.Reserve(ownerHash).Seconds())+1))
		apperr.WriteJSON(w, apperr.New(apperr.KindRateLimit, "rate limit exceeded, retry later"))
		return
	}

	var body createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteJSON(w, apperr.New(apperr.KindValidation, "malformed request body"))
		return
	}

	hasHF := body.HFModelID != ""
	hasName := body.ModelName != ""
	if hasHF == hasName {
		apperr.WriteJSON(w, apperr.New(apperr.KindValidation, "exactly one of hf_model_id or model_name is required"))
		return
	}
	if body.UserWebhookURL == "" {
		apperr.WriteJSON(w, apperr.New(apperr.KindValidation, "user_webhook_url is required"))
		return
	}

	cacheScope := store.CacheScope(body.CacheScope)
	if cacheScope == "" {
		cacheScope = store.CacheScopeOff
	}
	hasS3 := body.UserS3URL != "" || body.UserAWSKeyID != "" || body.UserAWSSecret != ""
	if cacheScope == store.CacheScopePrivate && !hasS3 {
		apperr.WriteJSON(w, apperr.New(apperr.KindValidation, "cache_scope=private requires user_s3_url and AWS credentials"))
		return
	}
	if cacheScope != store.CacheScopePrivate && hasS3 {
		apperr.WriteJSON(w, apperr.New(apperr.KindValidation, "S3 fields are only valid with cache_scope=private"))
		return
	}

	modelID := body.HFModelID
	if hasName {
		modelID = body.ModelName
	}

	dep, err := d.engine.Start(r.Context(), engine.Request{
		HFModelID:      modelID,
		ProviderHint:   body.ProviderHint,
		ModelNameAlias: body.ModelName,
		RequestedTier:  body.GPUTier,
		HFToken:        body.HFToken,
		WebhookURL:     body.UserWebhookURL,
		OwnerHash:      ownerHash,
		CacheScope:     cacheScope,
		S3URL:          body.UserS3URL,
		AWSAccessKeyID: body.UserAWSKeyID,
		AWSSecretKey:   body.UserAWSSecret,
	})
	if err != nil {
		apperr.WriteJSON(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(createDeploymentResponse{
		DeploymentID:          dep.ID,
		Status:                string(dep.Status),
		ModelID:               dep.ModelID,
		EstimatedReadySeconds: estimatedReadySeconds,
		WebhookURL:            dep.WebhookURL,
		CreatedAt:             dep.CreatedAt,
	})
}

type deploymentSnapshot struct {
	*store.Deployment
	Logs []store.LogEntry `json:"logs"`
}

func (d deps) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	providerKey, ok := extractProviderKey(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindUnauthorized, "missing provider credential"))
		return
	}
	ownerHash := hashOwner(providerKey)
	id := r.PathValue("id")

	dep, err := d.store.Get(r.Context(), id, ownerHash)
	if err != nil {
		apperr.WriteJSON(w, apperr.New(apperr.KindNotFound, "deployment not found"))
		return
	}

	limit := queryInt(r, "log_limit", defaultLogTail)
	logs, err := d.store.Logs(r.Context(), id)
	if err == nil && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deploymentSnapshot{Deployment: dep, Logs: logs})
}

func (d deps) handleDeleteDeployment(w http.ResponseWriter, r *http.Request) {
	providerKey, ok := extractProviderKey(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindUnauthorized, "missing provider credential"))
		return
	}
	ownerHash := hashOwner(providerKey)
	id := r.PathValue("id")

	if _, err := d.store.Get(r.Context(), id, ownerHash); err != nil {
		apperr.WriteJSON(w, apperr.New(apperr.KindNotFound, "deployment not found"))
		return
	}
	if err := d.engine.Delete(r.Context(), id); err != nil {
		apperr.WriteJSON(w, apperr.Wrap(apperr.KindProvider, "delete failed", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d deps) handleStreamDeployment(w http.ResponseWriter, r *http.Request) {
	providerKey, ok := extractProviderKey(r)
	if !ok {
		apperr.WriteJSON(w, apperr.New(apperr.KindUnauthorized, "missing provider credential"))
		return
	}
	ownerHash := hashOwner(providerKey)
	id := r.PathValue("id")

	dep, err := d.store.Get(r.Context(), id, ownerHash)
	if err != nil {
		apperr.WriteJSON(w, apperr.New(apperr.KindNotFound, "deployment not found"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if data, err := json.Marshal(dep); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	if isTerminal(dep.Status) {
		return
	}

	ch := d.stream.Subscribe(id)
	defer d.stream.Unsubscribe(id, ch)
	d.logger.Info("deployment stream client connected", "deployment_id", id, "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()

			var snap store.Deployment
			if json.Unmarshal(msg, &snap) == nil && isTerminal(snap.Status) {
				return
			}
		}
	}
}

func (d deps) handleDeploymentReady(w http.ResponseWriter, r *http.Request) {
	if d.internalSecret != "" && r.Header.Get("X-Internal-Secret") != d.internalSecret {
		w.WriteHeader(http.StatusOK) // spec: respond 200 regardless, change nothing
		return
	}

	id := r.PathValue("id")
	var payload readiness.CallbackPayload
	_ = json.NewDecoder(r.Body).Decode(&payload)

	dep, became, err := readiness.HandleCallback(r.Context(), d.store, id, payload)
	if err != nil {
		d.logger.Warn("deployment-ready callback failed", "deployment_id", id, "err", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if became && dep != nil {
		if data, merr := json.Marshal(dep); merr == nil {
			d.stream.Broadcast(id, data)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func isTerminal(s store.Status) bool {
	switch s {
	case store.StatusReady, store.StatusFailed, store.StatusWebhookFailed, store.StatusDeleted, store.StatusTimeout:
		return true
	default:
		return false
	}
}

// extractProviderKey reads the caller's GPU-provider credential from
// either Authorization: Bearer or X-Provider-Api-Key.
func extractProviderKey(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		key := strings.TrimPrefix(auth, "Bearer ")
		if key != "" {
			return key, true
		}
	}
	if key := r.Header.Get("X-Provider-Api-Key"); key != "" {
		return key, true
	}
	return "", false
}

// hashOwner derives owner_hash from a raw provider key: a 64-hex SHA-256
// digest, never the raw key itself.
func hashOwner(providerKey string) string {
	sum := sha256.Sum256([]byte(providerKey))
	return hex.EncodeToString(sum[:])
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
