// Package readiness converges the two paths that can observe a
// deployment becoming live — an inbound callback from the worker
// container, and the engine's own outbound polling — onto a single
// compare-and-set transition to ready. Whichever path wins, the other
// observes the CAS mismatch and becomes a no-op.
package readiness

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/visgate-ai/visgate-deploy-api/internal/metrics"
	"github.com/visgate-ai/visgate-deploy-api/internal/provider"
	"github.com/visgate-ai/visgate-deploy-api/internal/store"
)

// activeStatuses are the statuses from which a readiness signal is
// meaningful; outside these, an inbound callback or poll tick is
// stale and must change nothing.
var activeStatuses = []store.Status{
	store.StatusCreatingEndpoint,
	store.StatusDownloadingModel,
	store.StatusLoadingModel,
}

func isActive(s store.Status) bool {
	for _, a := range activeStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// CallbackPayload is the worker container's self-reported status.
type CallbackPayload struct {
	Status      string `json:"status"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// HandleCallback processes an inbound POST to
// /internal/deployment-ready/{id}. It always returns a nil error for a
// stale or already-terminal deployment (the caller should still
// respond 200); becameReady reports whether this call performed the
// ready transition.
func HandleCallback(ctx context.Context, st store.Store, deploymentID string, payload CallbackPayload) (ready *store.Deployment, becameReady bool, err error) {
	return transitionToReady(ctx, st, deploymentID)
}

// transitionToReady attempts the ready CAS against whatever the
// deployment's current status actually is, retrying a bounded number
// of times if it races another caller doing the same thing. It is a
// no-op (not an error) if the deployment has already left the active
// window.
func transitionToReady(ctx context.Context, st store.Store, deploymentID string) (*store.Deployment, bool, error) {
	const maxRaceRetries = 3

	for i := 0; i < maxRaceRetries; i++ {
		d, err := st.GetByID(ctx, deploymentID)
		if err != nil {
			return nil, false, err
		}
		if !isActive(d.Status) {
			return d, false, nil
		}

		now := time.Now().UTC()
		updated, err := st.Update(ctx, deploymentID, d.Status, store.Patch{
			NewStatus: store.StatusReady,
			ReadyAt:   &now,
		})
		if err == nil {
			metrics.ReadinessPollLatency.Observe(now.Sub(d.CreatedAt).Seconds())
			return updated, true, nil
		}
		if errors.Is(err, store.ErrCASMismatch) {
			continue // another path (or another poll tick) won the race
		}
		return nil, false, err
	}
	// Lost the race every time; whichever caller won already holds the
	// canonical ready_at, which is the only invariant that matters.
	d, err := st.GetByID(ctx, deploymentID)
	return d, false, err
}

// PollConfig controls the outbound polling loop.
type PollConfig struct {
	Interval     time.Duration
	StableWindow time.Duration
}

// DefaultPollConfig matches the spec's default 5s interval.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: 5 * time.Second, StableWindow: 10 * time.Second}
}

// Poll polls adapter.GetEndpointStatus for endpointID on cfg.Interval
// while the deployment remains in an active status, transitioning to
// ready once workers_ready stays >= 1 for cfg.StableWindow. It returns
// as soon as the deployment leaves the active window by any means
// (this call winning, the callback path winning, a delete, or a
// timeout recorded elsewhere), or when ctx is cancelled.
func Poll(ctx context.Context, st store.Store, adapter provider.Adapter, deploymentID, endpointID string, cfg PollConfig, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	var stableSince time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d, err := st.GetByID(ctx, deploymentID)
		if err != nil {
			logger.Warn("readiness poll: lookup failed", "deployment_id", deploymentID, "err", err)
			continue
		}
		if !isActive(d.Status) {
			return // terminal, deleted, or already made ready by the callback path
		}

		status, err := adapter.GetEndpointStatus(ctx, endpointID)
		if err != nil {
			logger.Warn("readiness poll: status check failed", "deployment_id", deploymentID, "err", err)
			stableSince = time.Time{}
			continue
		}

		if status.WorkersReady < 1 {
			stableSince = time.Time{}
			continue
		}
		if stableSince.IsZero() {
			stableSince = time.Now()
			continue
		}
		if time.Since(stableSince) < cfg.StableWindow {
			continue
		}

		if _, became, err := transitionToReady(ctx, st, deploymentID); err != nil {
			logger.Warn("readiness poll: transition failed", "deployment_id", deploymentID, "err", err)
		} else if became {
			logger.Info("readiness poll: deployment ready", "deployment_id", deploymentID)
		}
		return
	}
}
