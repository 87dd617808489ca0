package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendCheck(t *testing.T) {
	t.Run("no backend", func(t *testing.T) {
		status := BackendCheck(context.Background(), "working", nil)
		assert.True(t, status.IsHealthy())
		assert.Contains(t, status.Message, "in-memory")
	})

	t.Run("reachable", func(t *testing.T) {
		status := BackendCheck(context.Background(), "session", func(context.Context) error { return nil })
		assert.True(t, status.IsHealthy())
	})

	t.Run("unreachable degrades", func(t *testing.T) {
		status := BackendCheck(context.Background(), "session", func(context.Context) error {
			return errors.New("connection refused")
		})
		require.True(t, status.IsDegraded())
		assert.Equal(t, "session", status.Details["backend"])
		assert.Equal(t, "connection refused", status.Details["error"])
	})

	t.Run("applies default timeout", func(t *testing.T) {
		var hadDeadline bool
		BackendCheck(context.Background(), "daily", func(ctx context.Context) error {
			_, hadDeadline = ctx.Deadline()
			return nil
		})
		assert.True(t, hadDeadline)
	})

	t.Run("keeps caller deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		want, _ := ctx.Deadline()

		var got time.Time
		BackendCheck(ctx, "daily", func(ctx context.Context) error {
			got, _ = ctx.Deadline()
			return nil
		})
		assert.Equal(t, want, got)
	})
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name   string
		checks []Status
		want   string
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all healthy", checks: []Status{Healthy("a"), Healthy("b")}, want: StatusHealthy},
		{name: "one degraded", checks: []Status{Healthy("a"), Degraded("b", nil)}, want: StatusDegraded},
		{name: "unhealthy wins", checks: []Status{Degraded("a", nil), Unhealthy("b", nil)}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Combine(tt.checks...).Status)
		})
	}
}

func TestCombine_Details(t *testing.T) {
	status := Combine(Healthy("a"), Degraded("", nil), Degraded("c", nil))
	require.True(t, status.IsDegraded())
	assert.Equal(t, 3, status.Details["total"])
	assert.Equal(t, 1, status.Details["healthy"])
	assert.Equal(t, []string{"unnamed check", "c"}, status.Details["degraded_checks"])
}
