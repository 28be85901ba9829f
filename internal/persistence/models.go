package persistence

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPast   SessionStatus = "past"
)

// Session is one occurrence of the recurring activity.
type Session struct {
	ID        string
	Name      string
	StartsAt  time.Time
	Capacity  int
	Status    SessionStatus
	CreatedAt time.Time
}

// Person is a participant identity keyed by an external account id.
type Person struct {
	ID         string
	ExternalID int64
	Username   string
	FirstName  string
	LastName   string
	Subscribed bool
	CreatedAt  time.Time
}

// RosterEntry is one person's registration for one session.
type RosterEntry struct {
	ID                 string
	SessionID          string
	PersonID           string
	Status             string
	Position           int
	GroupSize          int
	MainCount          int
	ReserveCount       int
	PresenceConfirmed  bool
	FirstReminderSent  bool
	SecondReminderSent bool
	CreatedAt          time.Time
}

// Setting is a persisted key/value override.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// ReminderKind selects which attendance reminder flag to set.
type ReminderKind string

const (
	FirstReminder  ReminderKind = "first"
	SecondReminder ReminderKind = "second"
)

// RosterChange is applied atomically: either every part is written or none is.
type RosterChange struct {
	SessionID string
	// Capacity, when set, replaces the session capacity.
	Capacity *int
	Insert   []RosterEntry
	Update   []RosterEntry
	Delete   []string
}

// Empty reports whether the change writes nothing.
func (c RosterChange) Empty() bool {
	return c.Capacity == nil && len(c.Insert) == 0 && len(c.Update) == 0 && len(c.Delete) == 0
}
