package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/visgate-ai/visgate-deploy-api/internal/store"
)

func newActiveDeployment(id string) *store.Deployment {
	now := time.Now().UTC()
	return &store.Deployment{
		ID:        id,
		OwnerHash: "owner-a",
		ModelID:   "stabilityai/sd-turbo",
		Status:    store.StatusCreatingEndpoint,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestHandleCallbackTransitionsActiveDeploymentToReady(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_ = st.Create(ctx, newActiveDeployment("dep_1"))

	d, became, err := HandleCallback(ctx, st, "dep_1", CallbackPayload{Status: "ready"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !became {
		t.Fatal("expected becameReady true on first callback")
	}
	if d.Status != store.StatusReady {
		t.Errorf("expected status ready, got %s", d.Status)
	}
	if d.ReadyAt == nil {
		t.Error("expected ready_at to be set")
	}
}

func TestHandleCallbackIsIdempotentOnSecondCall(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_ = st.Create(ctx, newActiveDeployment("dep_1"))

	first, became1, err := HandleCallback(ctx, st, "dep_1", CallbackPayload{Status: "ready"})
	if err != nil || !became1 {
		t.Fatalf("expected first callback to succeed, got d=%+v err=%v", first, err)
	}

	second, became2, err := HandleCallback(ctx, st, "dep_1", CallbackPayload{Status: "ready"})
	if err != nil {
		t.Fatalf("unexpected error on second callback: %v", err)
	}
	if became2 {
		t.Error("expected second callback to be a no-op, not a fresh transition")
	}
	if !second.ReadyAt.Equal(*first.ReadyAt) {
		t.Errorf("expected ready_at to remain stable across repeated callbacks: %v vs %v", first.ReadyAt, second.ReadyAt)
	}
}

func TestHandleCallbackOnTerminalDeploymentIsNoop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	d := newActiveDeployment("dep_1")
	d.Status = store.StatusFailed
	_ = st.Create(ctx, d)

	got, became, err := HandleCallback(ctx, st, "dep_1", CallbackPayload{Status: "ready"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if became {
		t.Error("expected no transition for a deployment outside the active window")
	}
	if got.Status != store.StatusFailed {
		t.Errorf("expected status to remain failed, got %s", got.Status)
	}
}

func TestHandleCallbackUnknownDeploymentReturnsError(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	if _, _, err := HandleCallback(ctx, st, "missing", CallbackPayload{Status: "ready"}); err == nil {
		t.Fatal("expected an error for an unknown deployment id")
	}
}

func TestIsActiveWindow(t *testing.T) {
	active := []store.Status{store.StatusCreatingEndpoint, store.StatusDownloadingModel, store.StatusLoadingModel}
	for _, s := range active {
		if !isActive(s) {
			t.Errorf("expected %s to be active", s)
		}
	}
	inactive := []store.Status{store.StatusValidating, store.StatusSelectingGPU, store.StatusReady, store.StatusFailed, store.StatusDeleted, store.StatusTimeout}
	for _, s := range inactive {
		if isActive(s) {
			t.Errorf("expected %s to not be active", s)
		}
	}
}
