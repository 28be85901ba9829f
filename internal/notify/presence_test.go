package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/persistence"
)

type fakeUpdates struct {
	updates chan tgbotapi.Update

	mu       sync.Mutex
	answered []tgbotapi.CallbackConfig
	stopped  bool
}

func (f *fakeUpdates) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeUpdates) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeUpdates) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.answered = append(f.answered, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type peopleByExternalID map[int64]persistence.Person

func (p peopleByExternalID) Resolve(_ context.Context, externalID int64) (persistence.Person, error) {
	person, ok := p[externalID]
	if !ok {
		return persistence.Person{}, application.ErrPersonNotFound
	}
	return person, nil
}

type presenceRecorder struct {
	confirmed []string
	err       error
}

func (r *presenceRecorder) ConfirmPresence(_ context.Context, sessionID, personID string) error {
	if r.err != nil {
		return r.err
	}
	r.confirmed = append(r.confirmed, sessionID+"/"+personID)
	return nil
}

func callback(id string, from int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{ID: id, From: &tgbotapi.User{ID: from}, Data: data}
}

func TestPresenceListenerHandle(t *testing.T) {
	t.Parallel()

	people := peopleByExternalID{100: {ID: "p1", ExternalID: 100}}

	t.Run("confirms a registered person", func(t *testing.T) {
		t.Parallel()
		recorder := &presenceRecorder{}
		listener := NewPresenceListener(nil, people, recorder, nil)

		reply, handled := listener.Handle(context.Background(), callback("q1", 100, PresenceCallbackPrefix+"session-1"))
		require.True(t, handled)
		assert.Equal(t, "Thanks, see you there!", reply)
		assert.Equal(t, []string{"session-1/p1"}, recorder.confirmed)
	})

	t.Run("ignores foreign callbacks", func(t *testing.T) {
		t.Parallel()
		recorder := &presenceRecorder{}
		listener := NewPresenceListener(nil, people, recorder, nil)

		_, handled := listener.Handle(context.Background(), callback("q2", 100, "menu:open"))
		assert.False(t, handled)
		assert.Empty(t, recorder.confirmed)
	})

	t.Run("maps service errors to replies", func(t *testing.T) {
		t.Parallel()
		cases := map[error]string{
			application.ErrNotRegistered:    "You are not registered for this session.",
			application.ErrSessionNotFound:  "This session is no longer open.",
			application.ErrStoreUnavailable: "Something went wrong, please try again.",
		}
		for err, want := range cases {
			listener := NewPresenceListener(nil, people, &presenceRecorder{err: err}, nil)
			reply, handled := listener.Handle(context.Background(), callback("q3", 100, PresenceCallbackPrefix+"s"))
			require.True(t, handled)
			assert.Equal(t, want, reply, "error %v", err)
		}
	})

	t.Run("unknown person", func(t *testing.T) {
		t.Parallel()
		listener := NewPresenceListener(nil, people, &presenceRecorder{err: errors.New("unused")}, nil)
		reply, handled := listener.Handle(context.Background(), callback("q4", 999, PresenceCallbackPrefix+"s"))
		require.True(t, handled)
		assert.Equal(t, "You are not registered for this session.", reply)
	})
}

func TestPresenceListenerRun(t *testing.T) {
	t.Parallel()

	source := &fakeUpdates{updates: make(chan tgbotapi.Update, 3)}
	source.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Text: "hello"}}
	source.updates <- tgbotapi.Update{CallbackQuery: callback("q1", 100, PresenceCallbackPrefix+"session-1")}
	source.updates <- tgbotapi.Update{CallbackQuery: callback("q2", 100, "other")}
	close(source.updates)

	recorder := &presenceRecorder{}
	listener := NewPresenceListener(source, peopleByExternalID{100: {ID: "p1"}}, recorder, nil)

	require.NoError(t, listener.Run(context.Background()))

	source.mu.Lock()
	defer source.mu.Unlock()
	require.Len(t, source.answered, 1)
	assert.Equal(t, "q1", source.answered[0].CallbackQueryID)
	assert.True(t, source.stopped)
	assert.Equal(t, []string{"session-1/p1"}, recorder.confirmed)
}
