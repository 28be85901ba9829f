package sheets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/session-roster/internal/allocation"
	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/persistence"
)

type call struct {
	op    string
	rng   string
	title string
	rows  [][]any
}

type fakeWriter struct {
	calls []call
	err   error
}

func (w *fakeWriter) EnsureSheet(ctx context.Context, spreadsheetID, title string) error {
	w.calls = append(w.calls, call{op: "ensure", title: title})
	return w.err
}

func (w *fakeWriter) Clear(ctx context.Context, spreadsheetID, rng string) error {
	w.calls = append(w.calls, call{op: "clear", rng: rng})
	return w.err
}

func (w *fakeWriter) Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	w.calls = append(w.calls, call{op: "update", rng: rng, rows: rows})
	return w.err
}

type fakeRoster struct {
	view application.RosterView
	err  error
}

func (r fakeRoster) ListRoster(ctx context.Context, sessionID string) (application.RosterView, error) {
	return r.view, r.err
}

func sampleView() application.RosterView {
	return application.RosterView{
		Session: persistence.Session{ID: "session-1", StartsAt: time.Date(2024, 1, 4, 19, 0, 0, 0, time.UTC), Capacity: 3},
		Entries: []application.RosterLine{
			{Position: 1, DisplayName: "Ann", Status: allocation.StatusConfirmed, GroupSize: 1, MainCount: 1, PresenceConfirmed: true},
			{Position: 2, DisplayName: "Bob", Status: allocation.StatusMixed, GroupSize: 3, MainCount: 2, ReserveCount: 1},
		},
		Confirmed: 3,
		Reserve:   1,
	}
}

func TestMirrorRewritesSessionSheet(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	mirror := NewMirror(writer, fakeRoster{view: sampleView()}, "sheet-id")

	err := mirror.Deliver(context.Background(), application.Event{Kind: application.EventRosterChanged, SessionID: "session-1"})
	require.NoError(t, err)

	require.Len(t, writer.calls, 3)
	assert.Equal(t, call{op: "ensure", title: "2024-01-04"}, writer.calls[0])
	assert.Equal(t, call{op: "clear", rng: "'2024-01-04'!A:G"}, writer.calls[1])
	assert.Equal(t, "update", writer.calls[2].op)
	assert.Equal(t, [][]any{
		Header,
		{1, "Ann", "confirmed", 1, 1, 0, "yes"},
		{2, "Bob", "mixed", 3, 2, 1, ""},
	}, writer.calls[2].rows)
}

func TestMirrorIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	mirror := NewMirror(writer, fakeRoster{view: sampleView()}, "sheet-id")

	require.NoError(t, mirror.Deliver(context.Background(), application.Event{Kind: application.EventPromoted, SessionID: "session-1"}))
	assert.Empty(t, writer.calls)
}

func TestMirrorErrors(t *testing.T) {
	t.Parallel()

	t.Run("deleted session is skipped", func(t *testing.T) {
		t.Parallel()
		writer := &fakeWriter{}
		mirror := NewMirror(writer, fakeRoster{err: application.ErrSessionNotFound}, "sheet-id")
		require.NoError(t, mirror.Deliver(context.Background(), application.Event{Kind: application.EventRosterChanged}))
		assert.Empty(t, writer.calls)
	})

	t.Run("store failure is returned for retry", func(t *testing.T) {
		t.Parallel()
		mirror := NewMirror(&fakeWriter{}, fakeRoster{err: application.ErrStoreUnavailable}, "sheet-id")
		err := mirror.Deliver(context.Background(), application.Event{Kind: application.EventRosterChanged})
		assert.ErrorIs(t, err, application.ErrStoreUnavailable)
	})

	t.Run("writer failure is returned", func(t *testing.T) {
		t.Parallel()
		writer := &fakeWriter{err: errors.New("quota exceeded")}
		mirror := NewMirror(writer, fakeRoster{view: sampleView()}, "sheet-id")
		err := mirror.Deliver(context.Background(), application.Event{Kind: application.EventSessionOpened})
		assert.EqualError(t, err, "quota exceeded")
		assert.Len(t, writer.calls, 1)
	})
}
