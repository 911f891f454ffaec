package store

import (
	"context"
	"sync"
	"time"

	"github.com/visgate-ai/visgate-deploy-api/internal/ids"
)

// MemoryStore is a single-mutex in-memory Store, used for local
// development and tests. Every mutation holds the same lock, so
// compare-and-set has the same semantics as a database transaction
// would in the durable implementation.
type MemoryStore struct {
	mu          sync.Mutex
	deployments map[string]*Deployment
	logs        map[string][]LogEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deployments: make(map[string]*Deployment),
		logs:        make(map[string][]LogEntry),
	}
}

func (s *MemoryStore) Create(_ context.Context, d *Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[d.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id, ownerHash string) (*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok || d.OwnerHash != ownerHash {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, expectedStatus Status, patch Patch) (*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != expectedStatus {
		return nil, ErrCASMismatch
	}

	d.Status = patch.NewStatus
	if patch.ResolvedTier != "" {
		d.ResolvedTier = patch.ResolvedTier
	}
	if patch.EndpointID != "" {
		d.EndpointID = patch.EndpointID
	}
	if patch.EndpointURL != "" {
		d.EndpointURL = patch.EndpointURL
	}
	if patch.Error != nil {
		d.Error = patch.Error
	}
	if patch.ReadyAt != nil && d.ReadyAt == nil {
		d.ReadyAt = patch.ReadyAt
	}
	if patch.AppendAttempt != nil {
		d.Attempts = append(d.Attempts, *patch.AppendAttempt)
	}
	d.UpdatedAt = time.Now().UTC()

	cp := *d
	return &cp, nil
}

func (s *MemoryStore) AppendLog(_ context.Context, id string, level LogLevel, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[id] = append(s.logs[id], LogEntry{
		ID:        ids.NewLogEntryID(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	})
	return nil
}

func (s *MemoryStore) Logs(_ context.Context, id string) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.logs[id]))
	copy(out, s.logs[id])
	return out, nil
}

func (s *MemoryStore) FindReusable(_ context.Context, ownerHash, modelID, gpuTier string) (*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deployments {
		if d.OwnerHash != ownerHash || d.ModelID != modelID {
			continue
		}
		if d.Status == StatusFailed || d.Status == StatusDeleted || d.Status == StatusTimeout {
			continue
		}
		if gpuTier != "" && d.RequestedTier != gpuTier {
			continue
		}
		cp := *d
		return &cp, nil
	}
	return nil, ErrNotFound
}
