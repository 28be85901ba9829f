package persistence_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/example/session-roster/internal/persistence"
	"github.com/example/session-roster/internal/testfixtures"
)

// forEachStore runs fn once per store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, store persistence.Store)) {
	t.Helper()
	for name, open := range testfixtures.Stores() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, open(t))
		})
	}
}

func TestSessionRepository(t *testing.T) {
	t.Parallel()

	t.Run("creates and reads sessions", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			session := testfixtures.NewSessionFixture(testfixtures.WithSessionCapacity(12)).Persistence()

			if err := store.CreateSession(ctx, session); err != nil {
				t.Fatalf("CreateSession failed: %v", err)
			}

			fetched, err := store.GetSession(ctx, session.ID)
			if err != nil {
				t.Fatalf("GetSession failed: %v", err)
			}
			if fetched.Capacity != 12 || fetched.Status != persistence.SessionActive || !fetched.StartsAt.Equal(session.StartsAt) {
				t.Fatalf("unexpected session: %#v", fetched)
			}

			byDate, err := store.GetSessionByDate(ctx, session.StartsAt.Add(-10*time.Hour))
			if err != nil {
				t.Fatalf("GetSessionByDate failed: %v", err)
			}
			if byDate.ID != session.ID {
				t.Fatalf("expected %s by date, got %s", session.ID, byDate.ID)
			}

			if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected persistence.ErrNotFound, got %v", err)
			}
		})
	})

	t.Run("enforces one session per date", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			first := testfixtures.NewSessionFixture()
			second := testfixtures.NewSessionFixture(testfixtures.WithSessionStart(first.StartsAt.Add(-2 * time.Hour)))

			if err := store.CreateSession(ctx, first.Persistence()); err != nil {
				t.Fatalf("CreateSession failed: %v", err)
			}
			if err := store.CreateSession(ctx, second.Persistence()); !errors.Is(err, persistence.ErrDuplicate) {
				t.Fatalf("expected persistence.ErrDuplicate, got %v", err)
			}
		})
	})

	t.Run("lists by status in start order and deletes", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			late := testfixtures.NewSessionFixture()
			early := testfixtures.NewSessionFixture(testfixtures.WithSessionStart(late.StartsAt.AddDate(0, 0, -3)))
			testfixtures.Seed(t, store, []testfixtures.SessionFixture{late, early}, nil, nil)

			active, err := store.ListSessions(ctx, persistence.SessionActive)
			if err != nil {
				t.Fatalf("ListSessions failed: %v", err)
			}
			got := []string{active[0].ID, active[1].ID}
			if !slices.Equal(got, []string{early.ID, late.ID}) {
				t.Fatalf("unexpected order: %v", got)
			}

			if err := store.UpdateSessionStatus(ctx, early.ID, persistence.SessionPast); err != nil {
				t.Fatalf("UpdateSessionStatus failed: %v", err)
			}
			past, err := store.ListSessions(ctx, persistence.SessionPast)
			if err != nil {
				t.Fatalf("ListSessions failed: %v", err)
			}
			if len(past) != 1 || past[0].ID != early.ID {
				t.Fatalf("expected only %s to be past, got %#v", early.ID, past)
			}

			if err := store.DeleteSession(ctx, early.ID); err != nil {
				t.Fatalf("DeleteSession failed: %v", err)
			}
			if err := store.DeleteSession(ctx, early.ID); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected persistence.ErrNotFound, got %v", err)
			}
			if err := store.UpdateSessionStatus(ctx, "missing", persistence.SessionPast); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected persistence.ErrNotFound, got %v", err)
			}
		})
	})
}

func TestPersonRepository(t *testing.T) {
	t.Parallel()

	t.Run("upsert merges non-empty fields", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			person := testfixtures.NewPersonFixture(testfixtures.WithPersonName("anna", "Anna", "Petrova")).Persistence()

			created, err := store.UpsertPerson(ctx, person)
			if err != nil {
				t.Fatalf("UpsertPerson failed: %v", err)
			}
			if !created.Subscribed || created.ID != person.ID {
				t.Fatalf("unexpected person: %#v", created)
			}

			updated, err := store.UpsertPerson(ctx, persistence.Person{ID: "ignored", ExternalID: person.ExternalID, Username: "anna_p"})
			if err != nil {
				t.Fatalf("UpsertPerson failed: %v", err)
			}
			if updated.ID != person.ID || updated.Username != "anna_p" || updated.FirstName != "Anna" || updated.LastName != "Petrova" {
				t.Fatalf("unexpected merge result: %#v", updated)
			}

			byExternal, err := store.GetPersonByExternalID(ctx, person.ExternalID)
			if err != nil {
				t.Fatalf("GetPersonByExternalID failed: %v", err)
			}
			if byExternal.Username != "anna_p" {
				t.Fatalf("unexpected person: %#v", byExternal)
			}
		})
	})

	t.Run("tracks subscriptions", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			a := testfixtures.NewPersonFixture()
			b := testfixtures.NewPersonFixture()
			testfixtures.Seed(t, store, nil, []testfixtures.PersonFixture{a, b}, nil)

			if err := store.SetSubscribed(ctx, a.ExternalID, false); err != nil {
				t.Fatalf("SetSubscribed failed: %v", err)
			}
			subscribed, err := store.ListSubscribedPeople(ctx)
			if err != nil {
				t.Fatalf("ListSubscribedPeople failed: %v", err)
			}
			if len(subscribed) != 1 || subscribed[0].ID != b.ID {
				t.Fatalf("expected only %s subscribed, got %#v", b.ID, subscribed)
			}

			if err := store.SetSubscribed(ctx, 1, true); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected persistence.ErrNotFound, got %v", err)
			}

			people, err := store.ListPeople(ctx, []string{b.ID, "missing", a.ID})
			if err != nil {
				t.Fatalf("ListPeople failed: %v", err)
			}
			if len(people) != 2 || people[0].ID != b.ID || people[1].ID != a.ID {
				t.Fatalf("unexpected people: %#v", people)
			}
		})
	})

	t.Run("lists and counts everyone regardless of subscription", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			later := testfixtures.NewPersonFixture(testfixtures.WithExternalID(5))
			later.CreatedAt = later.CreatedAt.Add(time.Hour)
			first := testfixtures.NewPersonFixture(testfixtures.WithExternalID(9))
			second := testfixtures.NewPersonFixture(testfixtures.WithExternalID(7))
			testfixtures.Seed(t, store, nil, []testfixtures.PersonFixture{later, first, second}, nil)

			if err := store.SetSubscribed(ctx, first.ExternalID, false); err != nil {
				t.Fatalf("SetSubscribed failed: %v", err)
			}

			all, err := store.ListAllPeople(ctx)
			if err != nil {
				t.Fatalf("ListAllPeople failed: %v", err)
			}
			got := make([]string, 0, len(all))
			for _, p := range all {
				got = append(got, p.ID)
			}
			if want := []string{second.ID, first.ID, later.ID}; !slices.Equal(got, want) {
				t.Fatalf("expected %v, got %v", want, got)
			}

			count, err := store.CountPeople(ctx)
			if err != nil {
				t.Fatalf("CountPeople failed: %v", err)
			}
			if count != 3 {
				t.Fatalf("expected 3 people, got %d", count)
			}
		})
	})
}

func TestRosterRepository(t *testing.T) {
	t.Parallel()

	t.Run("applies inserts, updates, deletes and capacity together", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			session := testfixtures.NewSessionFixture(testfixtures.WithSessionCapacity(2))
			a := testfixtures.NewPersonFixture()
			b := testfixtures.NewPersonFixture()
			c := testfixtures.NewPersonFixture()
			ea := testfixtures.NewEntryFixture(session.ID, a.ID, testfixtures.WithPosition(1), testfixtures.WithSplit(2, 0))
			eb := testfixtures.NewEntryFixture(session.ID, b.ID, testfixtures.WithPosition(2), testfixtures.WithSplit(0, 1))
			testfixtures.Seed(t, store, []testfixtures.SessionFixture{session}, []testfixtures.PersonFixture{a, b, c}, []testfixtures.EntryFixture{ea, eb})

			capacity := 3
			promoted := eb.Persistence()
			promoted.Position = 1
			promoted.MainCount, promoted.ReserveCount, promoted.Status = 1, 0, "confirmed"
			ec := testfixtures.NewEntryFixture(session.ID, c.ID, testfixtures.WithPosition(2), testfixtures.WithSplit(1, 0))

			change := persistence.RosterChange{
				SessionID: session.ID,
				Capacity:  &capacity,
				Delete:    []string{ea.ID},
				Update:    []persistence.RosterEntry{promoted},
				Insert:    []persistence.RosterEntry{ec.Persistence()},
			}
			if err := store.ApplyRosterChange(ctx, change); err != nil {
				t.Fatalf("ApplyRosterChange failed: %v", err)
			}

			entries, err := store.ListEntries(ctx, session.ID)
			if err != nil {
				t.Fatalf("ListEntries failed: %v", err)
			}
			if len(entries) != 2 || entries[0].ID != eb.ID || entries[1].ID != ec.ID {
				t.Fatalf("unexpected entries: %#v", entries)
			}
			if entries[0].Position != 1 || entries[0].MainCount != 1 || entries[0].Status != "confirmed" {
				t.Fatalf("update not applied: %#v", entries[0])
			}

			stored, err := store.GetSession(ctx, session.ID)
			if err != nil {
				t.Fatalf("GetSession failed: %v", err)
			}
			if stored.Capacity != 3 {
				t.Fatalf("expected capacity 3, got %d", stored.Capacity)
			}
		})
	})

	t.Run("rejects the whole change when one part fails", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			session := testfixtures.NewSessionFixture()
			a := testfixtures.NewPersonFixture()
			ea := testfixtures.NewEntryFixture(session.ID, a.ID)
			testfixtures.Seed(t, store, []testfixtures.SessionFixture{session}, []testfixtures.PersonFixture{a}, []testfixtures.EntryFixture{ea})

			capacity := 1
			change := persistence.RosterChange{
				SessionID: session.ID,
				Capacity:  &capacity,
				Delete:    []string{"missing-entry"},
			}
			if err := store.ApplyRosterChange(ctx, change); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected persistence.ErrNotFound, got %v", err)
			}

			stored, err := store.GetSession(ctx, session.ID)
			if err != nil {
				t.Fatalf("GetSession failed: %v", err)
			}
			if stored.Capacity != session.Capacity {
				t.Fatalf("capacity changed despite failure: %d", stored.Capacity)
			}
		})
	})

	t.Run("rejects a second registration of the same person", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			session := testfixtures.NewSessionFixture()
			a := testfixtures.NewPersonFixture()
			ea := testfixtures.NewEntryFixture(session.ID, a.ID)
			testfixtures.Seed(t, store, []testfixtures.SessionFixture{session}, []testfixtures.PersonFixture{a}, []testfixtures.EntryFixture{ea})

			again := testfixtures.NewEntryFixture(session.ID, a.ID, testfixtures.WithPosition(2))
			change := persistence.RosterChange{SessionID: session.ID, Insert: []persistence.RosterEntry{again.Persistence()}}
			if err := store.ApplyRosterChange(ctx, change); !errors.Is(err, persistence.ErrDuplicate) {
				t.Fatalf("expected persistence.ErrDuplicate, got %v", err)
			}
		})
	})

	t.Run("rejects an entry for an unknown person", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			session := testfixtures.NewSessionFixture()
			testfixtures.Seed(t, store, []testfixtures.SessionFixture{session}, nil, nil)

			ghost := testfixtures.NewEntryFixture(session.ID, "ghost")
			change := persistence.RosterChange{SessionID: session.ID, Insert: []persistence.RosterEntry{ghost.Persistence()}}
			if err := store.ApplyRosterChange(ctx, change); !errors.Is(err, persistence.ErrConstraintViolation) {
				t.Fatalf("expected persistence.ErrConstraintViolation, got %v", err)
			}

			entries, err := store.ListEntries(ctx, session.ID)
			if err != nil {
				t.Fatalf("ListEntries failed: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("expected no entries, got %#v", entries)
			}
		})
	})

	t.Run("tracks presence and reminders", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			session := testfixtures.NewSessionFixture()
			a := testfixtures.NewPersonFixture()
			ea := testfixtures.NewEntryFixture(session.ID, a.ID)
			testfixtures.Seed(t, store, []testfixtures.SessionFixture{session}, []testfixtures.PersonFixture{a}, []testfixtures.EntryFixture{ea})

			if err := store.MarkReminderSent(ctx, session.ID, a.ID, persistence.SecondReminder); err != nil {
				t.Fatalf("MarkReminderSent failed: %v", err)
			}
			if err := store.ConfirmPresence(ctx, session.ID, a.ID); err != nil {
				t.Fatalf("ConfirmPresence failed: %v", err)
			}

			entry, err := store.GetParticipant(ctx, session.ID, a.ID)
			if err != nil {
				t.Fatalf("GetParticipant failed: %v", err)
			}
			if !entry.PresenceConfirmed || entry.FirstReminderSent || !entry.SecondReminderSent {
				t.Fatalf("unexpected flags: %#v", entry)
			}

			if err := store.ConfirmPresence(ctx, session.ID, "nobody"); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected persistence.ErrNotFound, got %v", err)
			}
		})
	})

	t.Run("repacks positions densely", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			session := testfixtures.NewSessionFixture()
			a := testfixtures.NewPersonFixture()
			b := testfixtures.NewPersonFixture()
			ea := testfixtures.NewEntryFixture(session.ID, a.ID, testfixtures.WithPosition(3))
			eb := testfixtures.NewEntryFixture(session.ID, b.ID, testfixtures.WithPosition(7))
			testfixtures.Seed(t, store, []testfixtures.SessionFixture{session}, []testfixtures.PersonFixture{a, b}, []testfixtures.EntryFixture{ea, eb})

			if err := store.RepackPositions(ctx, session.ID); err != nil {
				t.Fatalf("RepackPositions failed: %v", err)
			}
			entries, err := store.ListEntries(ctx, session.ID)
			if err != nil {
				t.Fatalf("ListEntries failed: %v", err)
			}
			if entries[0].ID != ea.ID || entries[0].Position != 1 || entries[1].Position != 2 {
				t.Fatalf("unexpected positions: %#v", entries)
			}

			if err := store.RemoveEntry(ctx, ea.ID); err != nil {
				t.Fatalf("RemoveEntry failed: %v", err)
			}
			if err := store.RemoveEntry(ctx, ea.ID); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected persistence.ErrNotFound, got %v", err)
			}
		})
	})

	t.Run("deleting a session removes its roster", func(t *testing.T) {
		t.Parallel()
		forEachStore(t, func(t *testing.T, store persistence.Store) {
			ctx := context.Background()
			session := testfixtures.NewSessionFixture()
			a := testfixtures.NewPersonFixture()
			ea := testfixtures.NewEntryFixture(session.ID, a.ID)
			testfixtures.Seed(t, store, []testfixtures.SessionFixture{session}, []testfixtures.PersonFixture{a}, []testfixtures.EntryFixture{ea})

			if err := store.DeleteSession(ctx, session.ID); err != nil {
				t.Fatalf("DeleteSession failed: %v", err)
			}
			if _, err := store.GetParticipant(ctx, session.ID, a.ID); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected persistence.ErrNotFound, got %v", err)
			}
		})
	})
}

func TestSettingsRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, store persistence.Store) {
		ctx := context.Background()
		now := testfixtures.ReferenceTime()

		if _, err := store.GetSetting(ctx, "max_group_size"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected persistence.ErrNotFound, got %v", err)
		}

		for _, s := range []persistence.Setting{
			{Key: "max_group_size", Value: "3", UpdatedAt: now},
			{Key: "group_registration_enabled", Value: "false", UpdatedAt: now},
			{Key: "max_group_size", Value: "5", UpdatedAt: now.Add(time.Minute)},
		} {
			if err := store.PutSetting(ctx, s); err != nil {
				t.Fatalf("PutSetting failed: %v", err)
			}
		}

		setting, err := store.GetSetting(ctx, "max_group_size")
		if err != nil {
			t.Fatalf("GetSetting failed: %v", err)
		}
		if setting.Value != "5" || !setting.UpdatedAt.Equal(now.Add(time.Minute)) {
			t.Fatalf("unexpected setting: %#v", setting)
		}

		all, err := store.ListSettings(ctx)
		if err != nil {
			t.Fatalf("ListSettings failed: %v", err)
		}
		if len(all) != 2 || all[0].Key != "group_registration_enabled" {
			t.Fatalf("unexpected settings: %#v", all)
		}
	})
}
