package main

import (
	"time"

	"github.com/visgate-ai/visgate-deploy-api/internal/engine"
	"github.com/visgate-ai/visgate-deploy-api/internal/env"
	"github.com/visgate-ai/visgate-deploy-api/internal/readiness"
)

// config is loaded once at startup from the environment (spec.md
// §6.3). Grounded on the teacher's cmd/gateway/config.go env-reading
// shape, here delegating to internal/env instead of re-declaring local
// envStr/envInt helpers.
type config struct {
	Port string

	GCPProjectID   string
	UseMemoryRepo  bool

	RunpodBaseURL    string
	RunpodAPIKey     string
	RunpodTemplateID string
	DockerImage      string

	WorkerDefaults engine.WorkerDefaults

	InternalWebhookBaseURL string
	InternalWebhookSecret  string

	HFAPIBaseURL string

	IngressRateLimitPerMinute int

	PhaseBudget  time.Duration
	PollConfig   readiness.PollConfig

	LogLevel string
}

func loadConfig() config {
	return config{
		Port: env.Str("PORT", "8080"),

		GCPProjectID:  env.Str("GCP_PROJECT_ID", ""),
		UseMemoryRepo: env.Bool("USE_MEMORY_REPO", false),

		RunpodBaseURL:    env.Str("RUNPOD_BASE_URL", "https://api.runpod.ai"),
		RunpodAPIKey:     env.Str("RUNPOD_API_KEY", ""),
		RunpodTemplateID: env.Str("RUNPOD_TEMPLATE_ID", ""),
		DockerImage:      env.Str("DOCKER_IMAGE", ""),

		WorkerDefaults: engine.WorkerDefaults{
			WorkersMin:         env.Int("RUNPOD_WORKERS_MIN", 0),
			WorkersMax:         env.Int("RUNPOD_WORKERS_MAX", 3),
			IdleTimeoutSeconds: env.Int("RUNPOD_IDLE_TIMEOUT_SECONDS", 120),
			ScalerType:         env.Str("RUNPOD_SCALER_TYPE", "QUEUE_DELAY"),
			ScalerValue:        env.Int("RUNPOD_SCALER_VALUE", 1),
		},

		InternalWebhookBaseURL: env.Str("INTERNAL_WEBHOOK_BASE_URL", ""),
		InternalWebhookSecret:  env.Str("INTERNAL_WEBHOOK_SECRET", ""),

		HFAPIBaseURL: env.Str("HF_API_BASE_URL", ""),

		IngressRateLimitPerMinute: env.Int("INGRESS_RATE_LIMIT_PER_MINUTE", 100),

		PhaseBudget: env.Duration("DEPLOYMENT_PHASE_BUDGET_SECONDS", 20*time.Minute),
		PollConfig: readiness.PollConfig{
			Interval:     env.Duration("READINESS_POLL_INTERVAL_SECONDS", 5*time.Second),
			StableWindow: env.Duration("READINESS_STABLE_WINDOW_SECONDS", 10*time.Second),
		},

		LogLevel: env.Str("LOG_LEVEL", "info"),
	}
}
