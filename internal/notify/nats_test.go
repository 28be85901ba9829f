package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/session-roster/internal/application"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestNATSSinkPublishesJSON(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	sink := NewNATSSink(conn, "club.roster")

	require.NoError(t, sink.Deliver(context.Background(), promotedEvent()))
	require.Equal(t, []string{"club.roster.promoted"}, conn.subjects)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(conn.payloads[0], &decoded))
	assert.Equal(t, "promoted", decoded["kind"])
	assert.Equal(t, "session-1", decoded["session_id"])
	assert.EqualValues(t, 1003, decoded["external_id"])
	assert.Equal(t, "confirmed", decoded["new_status"])
}

func TestNATSSinkErrors(t *testing.T) {
	t.Parallel()

	closed := NewNATSSink(&fakeConn{err: nats.ErrConnectionClosed}, "")
	err := closed.Deliver(context.Background(), promotedEvent())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	flaky := NewNATSSink(&fakeConn{err: errors.New("nats: timeout")}, "")
	err = flaky.Deliver(context.Background(), promotedEvent())
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	assert.Equal(t, "roster.events.roster_changed", flaky.Subject(application.EventRosterChanged))
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Deliver(context.Background(), promotedEvent()))
}
