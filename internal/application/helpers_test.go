package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/session-roster/internal/persistence"
	"github.com/example/session-roster/internal/persistence/memory"
)

var testSessionStart = time.Date(2024, 1, 4, 19, 0, 0, 0, time.UTC)

func fixedNow() time.Time {
	return time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
}

func sequence(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func (p *recordingPublisher) ofKind(kind EventKind) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

type metricsRecorder struct {
	mu         sync.Mutex
	operations []string
	tiers      []MessageTier
	promoted   int
	demoted    int
}

func (m *metricsRecorder) ObserveOperation(operation string, tier MessageTier, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, operation)
	m.tiers = append(m.tiers, tier)
}

func (m *metricsRecorder) ObserveMoves(_ string, promoted, demoted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promoted += promoted
	m.demoted += demoted
}

// newTestStore returns a memory store holding one active session with the
// given capacity and people p1..pN named "Player N".
func newTestStore(t *testing.T, capacity, people int) (*memory.Store, persistence.Session) {
	t.Helper()

	store := memory.New(time.UTC)
	ctx := context.Background()
	session := persistence.Session{
		ID:        "session-1",
		Name:      SessionName(testSessionStart),
		StartsAt:  testSessionStart,
		Capacity:  capacity,
		Status:    persistence.SessionActive,
		CreatedAt: fixedNow(),
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	for i := 1; i <= people; i++ {
		if _, err := store.UpsertPerson(ctx, persistence.Person{
			ID:         fmt.Sprintf("p%d", i),
			ExternalID: int64(1000 + i),
			FirstName:  "Player",
			LastName:   fmt.Sprint(i),
		}); err != nil {
			t.Fatalf("upsert person: %v", err)
		}
	}
	return store, session
}

type rosterHarness struct {
	store     *memory.Store
	session   persistence.Session
	svc       *RosterService
	publisher *recordingPublisher
	metrics   *metricsRecorder
}

func newRosterHarness(t *testing.T, capacity int, policy Policy) *rosterHarness {
	t.Helper()

	store, session := newTestStore(t, capacity, 40)
	h := &rosterHarness{
		store:     store,
		session:   session,
		publisher: &recordingPublisher{},
		metrics:   &metricsRecorder{},
	}
	h.svc = NewRosterService(RosterServiceDeps{
		Store:       store,
		Policy:      StaticPolicy(policy),
		Publisher:   h.publisher,
		Metrics:     h.metrics,
		IDGenerator: sequence("entry"),
		Now:         fixedNow,
	})
	return h
}

func (h *rosterHarness) join(t *testing.T, personID string, group int) Result {
	t.Helper()
	result, err := h.svc.Join(context.Background(), JoinParams{SessionID: h.session.ID, PersonID: personID, GroupSize: group})
	if err != nil {
		t.Fatalf("join %s: %v", personID, err)
	}
	return result
}

func (h *rosterHarness) entries(t *testing.T) []persistence.RosterEntry {
	t.Helper()
	entries, err := h.store.ListEntries(context.Background(), h.session.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	return entries
}

func (h *rosterHarness) entryOf(t *testing.T, personID string) persistence.RosterEntry {
	t.Helper()
	entry, err := h.store.GetParticipant(context.Background(), h.session.ID, personID)
	if err != nil {
		t.Fatalf("get participant %s: %v", personID, err)
	}
	return entry
}

func assertSplit(t *testing.T, entry persistence.RosterEntry, position, main, reserve int, status string) {
	t.Helper()
	if entry.Position != position || entry.MainCount != main || entry.ReserveCount != reserve || entry.Status != status {
		t.Fatalf("entry %s: got position=%d main=%d reserve=%d status=%s, want position=%d main=%d reserve=%d status=%s",
			entry.PersonID, entry.Position, entry.MainCount, entry.ReserveCount, entry.Status,
			position, main, reserve, status)
	}
}
