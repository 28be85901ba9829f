package testfixtures

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/session-roster/internal/application"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []application.Event
}

func (c *capturingPublisher) Publish(ctx context.Context, event application.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func TestServiceFactoryNewServices(t *testing.T) {
	for name, open := range Stores() {
		t.Run(name, func(t *testing.T) {
			factory := NewServiceFactory(WithPolicy(application.Policy{DefaultCapacity: 2, MaxGroupSize: 3, GroupRegistrationEnabled: true}))
			publisher := &capturingPublisher{}
			services := factory.NewServices(open(t), publisher)
			ctx := context.Background()

			session, err := services.Sessions.CreateNextSession(ctx)
			if err != nil {
				t.Fatalf("CreateNextSession returned error: %v", err)
			}
			if session.ID != "session-1" || session.Capacity != 2 {
				t.Fatalf("unexpected session %+v", session)
			}
			wantStart := time.Date(2024, 1, 4, 19, 0, 0, 0, time.UTC)
			if !session.StartsAt.Equal(wantStart) {
				t.Fatalf("expected start %v, got %v", wantStart, session.StartsAt)
			}

			person, err := services.People.Register(ctx, application.PersonInput{ExternalID: 7, FirstName: "Ann"})
			if err != nil {
				t.Fatalf("Register returned error: %v", err)
			}
			result, err := services.Roster.Join(ctx, application.JoinParams{SessionID: session.ID, PersonID: person.ID, GroupSize: 3})
			if err != nil {
				t.Fatalf("Join returned error: %v", err)
			}
			if result.Tier != application.TierJoinedMixed {
				t.Fatalf("expected mixed join, got %s", result.Tier)
			}

			view, err := services.Roster.ListRoster(ctx, session.ID)
			if err != nil {
				t.Fatalf("ListRoster returned error: %v", err)
			}
			if len(view.Entries) != 1 || view.Entries[0].DisplayName != "Ann" {
				t.Fatalf("unexpected roster %+v", view)
			}

			publisher.mu.Lock()
			defer publisher.mu.Unlock()
			if len(publisher.events) != 2 || publisher.events[0].Kind != application.EventSessionOpened {
				t.Fatalf("unexpected events %+v", publisher.events)
			}
		})
	}
}

func TestDailyTimetableNext(t *testing.T) {
	timetable := DailyTimetable{Hour: 19}
	morning := time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC)
	if got := timetable.Next(morning); !got.Equal(time.Date(2024, 1, 4, 19, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected same-day start, got %v", got)
	}
	evening := time.Date(2024, 1, 4, 19, 0, 0, 0, time.UTC)
	if got := timetable.Next(evening); !got.Equal(time.Date(2024, 1, 5, 19, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected next-day start, got %v", got)
	}
}
