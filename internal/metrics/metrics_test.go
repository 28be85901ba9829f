package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/notify"
)

func TestCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := New(reg, "test")
	require.NoError(t, err)

	c.ObserveOperation("join", application.TierJoinedConfirmed, 3*time.Millisecond)
	c.ObserveOperation("join", application.TierJoinedConfirmed, time.Millisecond)
	c.ObserveOperation("join", application.TierAlreadyRegistered, time.Millisecond)
	c.ObserveMoves("leave", 2, 0)
	c.ObserveMoves("set_capacity", 0, 1)
	c.ObserveMoves("join", 0, 0)
	c.ObserveDelivery("telegram", application.EventPromoted, notify.OutcomeDelivered)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("join", "joined_confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("join", "already_registered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.moves.WithLabelValues("leave", "promoted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.moves.WithLabelValues("set_capacity", "demoted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("telegram", "promoted", "delivered")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.latency))
	assert.Equal(t, 2, testutil.CollectAndCount(c.moves))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := New(reg, "")
	require.NoError(t, err)
	_, err = New(reg, "")
	assert.Error(t, err)
}
