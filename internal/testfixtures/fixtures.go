package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/session-roster/internal/allocation"
	"github.com/example/session-roster/internal/persistence"
)

var (
	sessionCounter uint64
	personCounter  uint64
	entryCounter   uint64
)

// Thursday morning, a few hours before a 19:00 session.
var referenceTime = time.Date(2024, time.January, 4, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Session fixtures -----------------------------

// SessionFixture represents a deterministic session occurrence.
type SessionFixture struct {
	ID        string
	Name      string
	StartsAt  time.Time
	Capacity  int
	Status    persistence.SessionStatus
	CreatedAt time.Time
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a session starting on its own day so that fixtures
// never collide on the unique date index.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	start := time.Date(2024, time.January, 4, 19, 0, 0, 0, time.UTC).AddDate(0, 0, int(idx)*7)
	fixture := SessionFixture{
		ID:        fmt.Sprintf("session-%03d", idx),
		Name:      fmt.Sprintf("Training %s", start.Format(time.DateOnly)),
		StartsAt:  start,
		Capacity:  18,
		Status:    persistence.SessionActive,
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ID = id
	}
}

// WithSessionStart overrides the start time.
func WithSessionStart(t time.Time) SessionOption {
	return func(f *SessionFixture) {
		f.StartsAt = t
	}
}

// WithSessionCapacity overrides the capacity.
func WithSessionCapacity(capacity int) SessionOption {
	return func(f *SessionFixture) {
		f.Capacity = capacity
	}
}

// WithSessionStatus overrides the lifecycle status.
func WithSessionStatus(status persistence.SessionStatus) SessionOption {
	return func(f *SessionFixture) {
		f.Status = status
	}
}

// Persistence returns the fixture as a persistence.Session value.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:        f.ID,
		Name:      f.Name,
		StartsAt:  f.StartsAt,
		Capacity:  f.Capacity,
		Status:    f.Status,
		CreatedAt: f.CreatedAt,
	}
}

// ----------------------------- Person fixtures -----------------------------

// PersonFixture represents a deterministic participant.
type PersonFixture struct {
	ID         string
	ExternalID int64
	Username   string
	FirstName  string
	LastName   string
	CreatedAt  time.Time
}

// PersonOption configures the generated person fixture.
type PersonOption func(*PersonFixture)

// NewPersonFixture returns a deterministic person fixture with optional overrides.
func NewPersonFixture(opts ...PersonOption) PersonFixture {
	idx := atomic.AddUint64(&personCounter, 1)
	fixture := PersonFixture{
		ID:         fmt.Sprintf("person-%03d", idx),
		ExternalID: int64(100000 + idx),
		Username:   fmt.Sprintf("player%03d", idx),
		FirstName:  fmt.Sprintf("Player %03d", idx),
		CreatedAt:  referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithPersonID overrides the generated person ID.
func WithPersonID(id string) PersonOption {
	return func(f *PersonFixture) {
		f.ID = id
	}
}

// WithExternalID overrides the external account id.
func WithExternalID(id int64) PersonOption {
	return func(f *PersonFixture) {
		f.ExternalID = id
	}
}

// WithPersonName overrides the display names.
func WithPersonName(username, firstName, lastName string) PersonOption {
	return func(f *PersonFixture) {
		f.Username = username
		f.FirstName = firstName
		f.LastName = lastName
	}
}

// Persistence returns the fixture as a persistence.Person value.
func (f PersonFixture) Persistence() persistence.Person {
	return persistence.Person{
		ID:         f.ID,
		ExternalID: f.ExternalID,
		Username:   f.Username,
		FirstName:  f.FirstName,
		LastName:   f.LastName,
		Subscribed: true,
		CreatedAt:  f.CreatedAt,
	}
}

// ----------------------------- Roster fixtures -----------------------------

// EntryFixture represents a roster registration. Counts default to a fully
// confirmed group.
type EntryFixture struct {
	ID        string
	SessionID string
	PersonID  string
	Position  int
	GroupSize int
	Main      int
	Reserve   int
	CreatedAt time.Time
}

// EntryOption configures the generated entry fixture.
type EntryOption func(*EntryFixture)

// NewEntryFixture returns an entry for the given session and person.
func NewEntryFixture(sessionID, personID string, opts ...EntryOption) EntryFixture {
	idx := atomic.AddUint64(&entryCounter, 1)
	fixture := EntryFixture{
		ID:        fmt.Sprintf("entry-%03d", idx),
		SessionID: sessionID,
		PersonID:  personID,
		Position:  1,
		GroupSize: 1,
		Main:      1,
		CreatedAt: referenceTime.Add(time.Duration(idx) * time.Second),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithEntryID overrides the generated entry ID.
func WithEntryID(id string) EntryOption {
	return func(f *EntryFixture) {
		f.ID = id
	}
}

// WithPosition overrides the queue position.
func WithPosition(position int) EntryOption {
	return func(f *EntryFixture) {
		f.Position = position
	}
}

// WithSplit sets the main and reserve counts; the group size follows.
func WithSplit(main, reserve int) EntryOption {
	return func(f *EntryFixture) {
		f.Main = main
		f.Reserve = reserve
		f.GroupSize = main + reserve
	}
}

// Persistence returns the fixture as a persistence.RosterEntry value.
func (f EntryFixture) Persistence() persistence.RosterEntry {
	return persistence.RosterEntry{
		ID:           f.ID,
		SessionID:    f.SessionID,
		PersonID:     f.PersonID,
		Status:       string(allocation.DeriveStatus(f.Main, f.Reserve)),
		Position:     f.Position,
		GroupSize:    f.GroupSize,
		MainCount:    f.Main,
		ReserveCount: f.Reserve,
		CreatedAt:    f.CreatedAt,
	}
}
