// Package health reports the state of memory levels and their persistence
// backends.
//
// A level whose backend cannot be reached keeps serving from its in-process
// mirror, so a failed probe yields a degraded status rather than an
// unhealthy one. Combine folds per-level statuses into a system status:
//
//   - Unhealthy: any check is unhealthy
//   - Degraded: any check is degraded and none unhealthy
//   - Healthy: every check is healthy
package health

import (
	"context"
	"fmt"
	"time"
)

// PingFunc probes a backend.
type PingFunc func(ctx context.Context) error

// DefaultTimeout bounds a probe when the caller's context has no deadline.
const DefaultTimeout = 2 * time.Second

// BackendCheck probes a persistence backend. A nil ping means the level has
// no backend and is reported healthy.
func BackendCheck(ctx context.Context, name string, ping PingFunc) Status {
	if ping == nil {
		return Healthy(fmt.Sprintf("%s: in-memory", name))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	if err := ping(ctx); err != nil {
		return Degraded(
			fmt.Sprintf("%s: backend unreachable", name),
			map[string]any{
				"backend": name,
				"error":   err.Error(),
			},
		)
	}

	return Healthy(fmt.Sprintf("%s: backend reachable", name))
}

// Combine aggregates multiple statuses into one, worst status first.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthy),
				"degraded":      len(degraded),
				"healthy":       healthyCount,
				"failed_checks": unhealthy,
			},
		)
	}

	if len(degraded) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degraded),
				"healthy":         healthyCount,
				"degraded_checks": degraded,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}
