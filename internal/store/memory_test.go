package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDeployment(id, ownerHash string) *Deployment {
	now := time.Now().UTC()
	return &Deployment{
		ID:        id,
		OwnerHash: ownerHash,
		ModelID:   "stabilityai/sd-turbo",
		MinVRAMGB: 8,
		Status:    StatusValidating,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := newTestDeployment("dep_1", "owner-a")

	if err := s.Create(ctx, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Get(ctx, "dep_1", "owner-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "dep_1" || got.Status != StatusValidating {
		t.Errorf("unexpected deployment: %+v", got)
	}
}

func TestMemoryStoreCreateDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := newTestDeployment("dep_1", "owner-a")
	_ = s.Create(ctx, d)

	if err := s.Create(ctx, d); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryStoreGetWrongOwnerNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, newTestDeployment("dep_1", "owner-a"))

	if _, err := s.Get(ctx, "dep_1", "owner-b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for mismatched owner, got %v", err)
	}
}

func TestMemoryStoreUpdateCASSucceedsOnMatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, newTestDeployment("dep_1", "owner-a"))

	updated, err := s.Update(ctx, "dep_1", StatusValidating, Patch{NewStatus: StatusSelectingGPU})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusSelectingGPU {
		t.Errorf("expected status selecting_gpu, got %s", updated.Status)
	}
}

func TestMemoryStoreUpdateCASFailsOnMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, newTestDeployment("dep_1", "owner-a"))
	_, _ = s.Update(ctx, "dep_1", StatusValidating, Patch{NewStatus: StatusSelectingGPU})

	// Stale caller still believes status is "validating".
	if _, err := s.Update(ctx, "dep_1", StatusValidating, Patch{NewStatus: StatusFailed}); !errors.Is(err, ErrCASMismatch) {
		t.Fatalf("expected ErrCASMismatch, got %v", err)
	}
}

func TestMemoryStoreUpdateReadyAtSetOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, newTestDeployment("dep_1", "owner-a"))
	_, _ = s.Update(ctx, "dep_1", StatusValidating, Patch{NewStatus: StatusCreatingEndpoint})

	first := time.Now().UTC()
	d1, err := s.Update(ctx, "dep_1", StatusCreatingEndpoint, Patch{NewStatus: StatusReady, ReadyAt: &first})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1.ReadyAt == nil || !d1.ReadyAt.Equal(first) {
		t.Fatalf("expected ready_at to be set to %v, got %v", first, d1.ReadyAt)
	}

	later := first.Add(time.Minute)
	d2, err := s.Update(ctx, "dep_1", StatusReady, Patch{NewStatus: StatusWebhookFailed, ReadyAt: &later})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d2.ReadyAt == nil || !d2.ReadyAt.Equal(first) {
		t.Errorf("expected ready_at to stay %v after a second set, got %v", first, d2.ReadyAt)
	}
}

func TestMemoryStoreCreateAndUpdateDoNotAliasCallerStruct(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := newTestDeployment("dep_1", "owner-a")
	_ = s.Create(ctx, d)

	// Mutating the caller's own struct after Create must not affect
	// what the store holds.
	d.Status = StatusFailed

	got, _ := s.Get(ctx, "dep_1", "owner-a")
	if got.Status != StatusValidating {
		t.Fatalf("expected stored status unaffected by caller mutation, got %s", got.Status)
	}

	// Mutating the copy Update returns must not affect the store either.
	updated, err := s.Update(ctx, "dep_1", StatusValidating, Patch{NewStatus: StatusSelectingGPU})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated.Status = StatusFailed

	got, _ = s.Get(ctx, "dep_1", "owner-a")
	if got.Status != StatusSelectingGPU {
		t.Fatalf("expected stored status unaffected by mutating Update's result, got %s", got.Status)
	}
}

func TestMemoryStoreAppendLogAssignsIDsAndPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.AppendLog(ctx, "dep_1", LogInfo, "first")
	_ = s.AppendLog(ctx, "dep_1", LogWarn, "second")

	logs, err := s.Logs(ctx, "dep_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if logs[0].Message != "first" || logs[1].Message != "second" {
		t.Errorf("expected log order preserved, got %+v", logs)
	}
	if logs[0].ID == "" || logs[1].ID == "" || logs[0].ID == logs[1].ID {
		t.Errorf("expected distinct non-empty log entry ids, got %q and %q", logs[0].ID, logs[1].ID)
	}
}

func TestMemoryStoreFindReusableExcludesTerminalStatuses(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	failed := newTestDeployment("dep_failed", "owner-a")
	failed.Status = StatusFailed
	_ = s.Create(ctx, failed)

	if _, err := s.FindReusable(ctx, "owner-a", "stabilityai/sd-turbo", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when only a failed deployment exists, got %v", err)
	}

	ready := newTestDeployment("dep_ready", "owner-a")
	ready.Status = StatusReady
	_ = s.Create(ctx, ready)

	got, err := s.FindReusable(ctx, "owner-a", "stabilityai/sd-turbo", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "dep_ready" {
		t.Errorf("expected to reuse dep_ready, got %s", got.ID)
	}
}

func TestMemoryStoreFindReusableHonorsRequestedTier(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := newTestDeployment("dep_a10", "owner-a")
	d.Status = StatusReady
	d.RequestedTier = "a10"
	_ = s.Create(ctx, d)

	if _, err := s.FindReusable(ctx, "owner-a", "stabilityai/sd-turbo", "h100"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a differing requested tier, got %v", err)
	}

	got, err := s.FindReusable(ctx, "owner-a", "stabilityai/sd-turbo", "a10")
	if err != nil || got.ID != "dep_a10" {
		t.Fatalf("expected to reuse dep_a10, got %v, err %v", got, err)
	}
}

func TestMemoryStoreGetByIDNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
