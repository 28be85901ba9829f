package persistence

import (
	"context"
	"time"
)

// SessionRepository stores session occurrences.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// GetSessionByDate matches on the calendar date of StartsAt in the store's zone.
	GetSessionByDate(ctx context.Context, date time.Time) (Session, error)
	// ListSessions returns sessions with the given status ordered by start time.
	ListSessions(ctx context.Context, status SessionStatus) ([]Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error
	// DeleteSession removes the session together with its roster entries.
	DeleteSession(ctx context.Context, id string) error
}

// PersonRepository stores participant identities.
type PersonRepository interface {
	// UpsertPerson inserts by external id or merges the non-empty fields into the
	// existing record. The stored record is returned.
	UpsertPerson(ctx context.Context, person Person) (Person, error)
	GetPerson(ctx context.Context, id string) (Person, error)
	GetPersonByExternalID(ctx context.Context, externalID int64) (Person, error)
	ListPeople(ctx context.Context, ids []string) ([]Person, error)
	// ListAllPeople returns every person in registration order.
	ListAllPeople(ctx context.Context) ([]Person, error)
	CountPeople(ctx context.Context) (int, error)
	ListSubscribedPeople(ctx context.Context) ([]Person, error)
	SetSubscribed(ctx context.Context, externalID int64, subscribed bool) error
}

// RosterRepository stores roster entries. Positions are never repacked
// implicitly; callers invoke RepackPositions or submit updated positions.
type RosterRepository interface {
	GetParticipant(ctx context.Context, sessionID, personID string) (RosterEntry, error)
	// ListEntries returns entries ordered by position ascending.
	ListEntries(ctx context.Context, sessionID string) ([]RosterEntry, error)
	RemoveEntry(ctx context.Context, id string) error
	RepackPositions(ctx context.Context, sessionID string) error
	ApplyRosterChange(ctx context.Context, change RosterChange) error
	ConfirmPresence(ctx context.Context, sessionID, personID string) error
	MarkReminderSent(ctx context.Context, sessionID, personID string, kind ReminderKind) error
}

// SettingsRepository stores persisted configuration overrides.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (Setting, error)
	ListSettings(ctx context.Context) ([]Setting, error)
	PutSetting(ctx context.Context, setting Setting) error
}

// Store is the full persistence surface used by the service layer.
type Store interface {
	SessionRepository
	PersonRepository
	RosterRepository
	SettingsRepository
	Close() error
}
