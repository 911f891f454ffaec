// Package store persists Deployment and LogEntry documents behind one
// interface with two interchangeable implementations: an in-memory
// store for local development and tests, and a Firestore-backed store
// for production. Both provide compare-and-set on Deployment.Status so
// the Lifecycle Engine can treat a transition as a correctness
// boundary rather than a best-effort write.
package store

import (
	"context"
	"errors"
	"time"
)

// Status is a Deployment's position in the lifecycle state machine.
type Status string

const (
	StatusValidating       Status = "validating"
	StatusSelectingGPU     Status = "selecting_gpu"
	StatusCreatingEndpoint Status = "creating_endpoint"
	StatusDownloadingModel Status = "downloading_model"
	StatusLoadingModel     Status = "loading_model"
	StatusReady            Status = "ready"
	StatusFailed           Status = "failed"
	StatusWebhookFailed    Status = "webhook_failed"
	StatusDeleted          Status = "deleted"
	StatusTimeout          Status = "timeout"
)

// CacheScope selects where the worker takes model weights from. The
// engine acts only on CacheScopePrivate, passing the caller's S3 URL
// and AWS credentials into the worker environment; off and shared add
// nothing to it.
type CacheScope string

const (
	CacheScopeOff     CacheScope = "off"
	CacheScopeShared  CacheScope = "shared"
	CacheScopePrivate CacheScope = "private"
)

// LogLevel is the severity of a LogEntry.
type LogLevel string

const (
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// Attempt records one capacity-fallback try during endpoint creation.
type Attempt struct {
	TierID        string    `json:"tier_id" firestore:"tier_id"`
	FailureReason string    `json:"failure_reason" firestore:"failure_reason"`
	At            time.Time `json:"at" firestore:"at"`
}

// DeploymentError carries a terminal non-ready error's kind and
// message, persisted alongside the deployment.
type DeploymentError struct {
	Kind    string `json:"kind" firestore:"kind"`
	Message string `json:"message" firestore:"message"`
}

// Deployment is the central entity: a caller's request to run a
// specific model on a rented GPU, and the lifecycle state that
// fulfills it.
type Deployment struct {
	ID             string     `json:"id" firestore:"id"`
	OwnerHash      string     `json:"owner_hash" firestore:"owner_hash"`
	ModelID        string     `json:"model_id" firestore:"model_id"`
	ProviderHint   string     `json:"provider_hint,omitempty" firestore:"provider_hint,omitempty"`
	ModelNameAlias string     `json:"model_name_alias,omitempty" firestore:"model_name_alias,omitempty"`
	RequestedTier  string     `json:"requested_tier,omitempty" firestore:"requested_tier,omitempty"`
	ResolvedTier   string     `json:"resolved_tier,omitempty" firestore:"resolved_tier,omitempty"`
	MinVRAMGB      int        `json:"min_vram_gb" firestore:"min_vram_gb"`
	EndpointID     string     `json:"endpoint_id,omitempty" firestore:"endpoint_id,omitempty"`
	EndpointURL    string     `json:"endpoint_url,omitempty" firestore:"endpoint_url,omitempty"`
	WebhookURL     string     `json:"webhook_url" firestore:"webhook_url"`
	CacheScope     CacheScope `json:"cache_scope" firestore:"cache_scope"`
	S3URL          string     `json:"user_s3_url,omitempty" firestore:"user_s3_url,omitempty"`
	AWSAccessKeyID string     `json:"-" firestore:"aws_access_key_id,omitempty"`
	AWSSecretKey   string     `json:"-" firestore:"aws_secret_key,omitempty"`

	Status Status `json:"status" firestore:"status"`

	Error *DeploymentError `json:"error,omitempty" firestore:"error,omitempty"`

	CreatedAt time.Time  `json:"created_at" firestore:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" firestore:"updated_at"`
	ReadyAt   *time.Time `json:"ready_at,omitempty" firestore:"ready_at,omitempty"`

	Attempts []Attempt `json:"attempts" firestore:"attempts"`
}

// LogEntry is an append-only record parented by deployment id.
type LogEntry struct {
	ID        string    `json:"id" firestore:"id"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
	Level     LogLevel  `json:"level" firestore:"level"`
	Message   string    `json:"message" firestore:"message"`
}

var (
	// ErrNotFound is returned by Get when no deployment exists for id,
	// or exists but owner_hash does not match.
	ErrNotFound = errors.New("store: deployment not found")
	// ErrAlreadyExists is returned by Create when id is already taken.
	ErrAlreadyExists = errors.New("store: deployment already exists")
	// ErrCASMismatch is returned by Update when the deployment's current
	// status does not equal the caller's expected status.
	ErrCASMismatch = errors.New("store: compare-and-set mismatch")
)

// Patch carries the fields Update may change, applied only if the
// compare-and-set on Status succeeds. Nil/zero fields are left
// untouched except NewStatus, which is always written.
type Patch struct {
	NewStatus    Status
	ResolvedTier string
	EndpointID   string
	EndpointURL  string
	Error        *DeploymentError
	ReadyAt      *time.Time
	AppendAttempt *Attempt
}

// Store is the abstract persistence boundary the Lifecycle Engine and
// Readiness Monitor operate against. Every write to a Deployment is
// either an unconditional create or a compare-and-set on Status (log
// entries are plain appends), so concurrent
// callers (an inbound webhook callback racing an outbound poller) can
// never apply conflicting transitions.
type Store interface {
	Create(ctx context.Context, d *Deployment) error
	Get(ctx context.Context, id, ownerHash string) (*Deployment, error)
	// GetByID fetches without an ownership check, for internal callers
	// (the engine itself, the readiness callback) that already hold the
	// deployment id from a trusted source.
	GetByID(ctx context.Context, id string) (*Deployment, error)
	Update(ctx context.Context, id string, expectedStatus Status, patch Patch) (*Deployment, error)
	AppendLog(ctx context.Context, id string, level LogLevel, message string) error
	Logs(ctx context.Context, id string) ([]LogEntry, error)
	FindReusable(ctx context.Context, ownerHash, modelID, gpuTier string) (*Deployment, error)
}
