// Package ids generates human-recognizable identifiers for deployments
// and their log entries.
package ids

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewDeploymentID returns an opaque, monotonic-ish, human-recognizable
// deployment id: a fixed prefix, the current year, and a short random
// suffix (e.g. "dep_2026_9f3ac1d0").
func NewDeploymentID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("dep_%d_%s", now.Year(), suffix)
}

// NewLogEntryID returns a unique id for a LogEntry.
func NewLogEntryID() string {
	return uuid.NewString()
}

// NewEndpointName derives the deterministic provider-side endpoint
// name for a deployment, per spec §4.5 ("visgate-" prefix + short id
// suffix).
func NewEndpointName(deploymentID string) string {
	short := deploymentID
	if idx := strings.LastIndex(deploymentID, "_"); idx != -1 {
		short = deploymentID[idx+1:]
	}
	return "visgate-" + short
}
