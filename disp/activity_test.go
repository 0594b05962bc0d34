package disp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/webitel/actorkit/id"
)

func TestActivityTrackingWrapsQueue(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	hook, err := ActivityTracking(provider.Meter("actorkit-test"))
	require.NoError(t, err)

	inner := NewFIFOQueue(nil)
	wrapped := hook(id.Agent(1), inner)

	executed := false
	require.NoError(t, wrapped.Push(Demand{Exec: func() error {
		executed = true
		return nil
	}}))

	d, ok := wrapped.Pop()
	require.True(t, ok)
	require.NoError(t, d.Exec())
	assert.True(t, executed)
}
