package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/session-roster/internal/persistence"
	"github.com/example/session-roster/internal/persistence/memory"
)

type failingPeopleStore struct {
	*memory.Store
}

func (failingPeopleStore) UpsertPerson(context.Context, persistence.Person) (persistence.Person, error) {
	return persistence.Person{}, errors.New("disk I/O error")
}

func TestPeopleServiceRegister(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New(time.UTC)
	svc := NewPeopleService(store, sequence("person"), fixedNow)

	person, err := svc.Register(ctx, PersonInput{ExternalID: 42, Username: " @alice ", FirstName: "Alice"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if person.ID != "person-1" || person.Username != "alice" || !person.Subscribed {
		t.Fatalf("unexpected person %+v", person)
	}

	again, err := svc.Register(ctx, PersonInput{ExternalID: 42, LastName: "Liddell"})
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if again.ID != person.ID || again.FirstName != "Alice" || again.LastName != "Liddell" || again.Username != "alice" {
		t.Fatalf("expected merged person, got %+v", again)
	}
	if DisplayName(again) != "Alice Liddell" {
		t.Fatalf("display name = %q", DisplayName(again))
	}

	resolved, err := svc.Resolve(ctx, 42)
	if err != nil || resolved.ID != person.ID {
		t.Fatalf("resolve: %+v %v", resolved, err)
	}
}

func TestPeopleServiceRegisterValidation(t *testing.T) {
	t.Parallel()

	svc := NewPeopleService(memory.New(time.UTC), nil, nil)
	_, err := svc.Register(context.Background(), PersonInput{Username: "nobody"})

	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.FieldErrors["external_id"] == "" {
		t.Fatalf("expected external_id validation error, got %v", err)
	}
}

func TestPeopleServiceErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewPeopleService(memory.New(time.UTC), sequence("person"), fixedNow)

	if _, err := svc.Resolve(ctx, 7); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("resolve: expected ErrPersonNotFound, got %v", err)
	}
	if err := svc.Unsubscribe(ctx, 7); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("unsubscribe: expected ErrPersonNotFound, got %v", err)
	}

	broken := NewPeopleService(failingPeopleStore{memory.New(time.UTC)}, sequence("person"), fixedNow)
	if _, err := broken.Register(ctx, PersonInput{ExternalID: 1}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("register: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPeopleServiceSubscriptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewPeopleService(memory.New(time.UTC), sequence("person"), fixedNow)
	for _, id := range []int64{3, 1, 2} {
		if _, err := svc.Register(ctx, PersonInput{ExternalID: id}); err != nil {
			t.Fatalf("register %d: %v", id, err)
		}
	}

	if err := svc.Unsubscribe(ctx, 2); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	subscribed, err := svc.ListSubscribed(ctx)
	if err != nil {
		t.Fatalf("list subscribed: %v", err)
	}
	if len(subscribed) != 2 || subscribed[0].ExternalID != 1 || subscribed[1].ExternalID != 3 {
		t.Fatalf("unexpected subscribers %+v", subscribed)
	}

	if err := svc.SetSubscription(ctx, 2, true); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if subscribed, _ = svc.ListSubscribed(ctx); len(subscribed) != 3 {
		t.Fatalf("expected three subscribers, got %d", len(subscribed))
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		person persistence.Person
		want   string
	}{
		{persistence.Person{FirstName: "Ann", LastName: "Lee", Username: "ann"}, "Ann Lee"},
		{persistence.Person{FirstName: " Ann "}, "Ann"},
		{persistence.Person{Username: "ann", ExternalID: 5}, "@ann"},
		{persistence.Person{ExternalID: 5}, "5"},
	}
	for _, tc := range cases {
		if got := DisplayName(tc.person); got != tc.want {
			t.Fatalf("DisplayName(%+v) = %q, want %q", tc.person, got, tc.want)
		}
	}
}

func TestPeopleServiceListAllAndStatistics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, session := newTestStore(t, 4, 3)
	svc := NewPeopleService(store, sequence("person"), fixedNow)

	if err := svc.Unsubscribe(ctx, 1002); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	all, err := svc.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "p1" || all[1].ID != "p2" || all[2].ID != "p3" {
		t.Fatalf("unexpected people %+v", all)
	}

	later := persistence.Session{
		ID:        "session-2",
		Name:      SessionName(testSessionStart.AddDate(0, 0, 3)),
		StartsAt:  testSessionStart.AddDate(0, 0, 3),
		Capacity:  4,
		Status:    persistence.SessionActive,
		CreatedAt: fixedNow(),
	}
	if err := store.CreateSession(ctx, later); err != nil {
		t.Fatalf("create session: %v", err)
	}
	roster := NewRosterService(RosterServiceDeps{Store: store, Policy: StaticPolicy(groupPolicy(3)), IDGenerator: sequence("entry"), Now: fixedNow})
	for _, join := range []JoinParams{
		{SessionID: session.ID, PersonID: "p1", GroupSize: 3},
		{SessionID: session.ID, PersonID: "p2", GroupSize: 2},
		{SessionID: later.ID, PersonID: "p3", GroupSize: 1},
	} {
		if _, err := roster.Join(ctx, join); err != nil {
			t.Fatalf("join %s: %v", join.PersonID, err)
		}
	}

	stats, err := svc.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.People != 3 || stats.Subscribed != 2 || stats.ActiveSessions != 2 {
		t.Fatalf("unexpected statistics %+v", stats)
	}
	if stats.Nearest == nil || stats.Nearest.Session.ID != session.ID {
		t.Fatalf("expected nearest session %s, got %+v", session.ID, stats.Nearest)
	}
	if n := stats.Nearest; n.Registrations != 2 || n.Headcount != 5 || n.Confirmed != 4 || n.Reserve != 1 {
		t.Fatalf("unexpected nearest counts %+v", n)
	}

	empty, err := NewPeopleService(memory.New(time.UTC), nil, nil).Statistics(ctx)
	if err != nil || empty.Nearest != nil || empty.ActiveSessions != 0 {
		t.Fatalf("expected empty statistics, got %+v %v", empty, err)
	}
}
