// Package memory provides a process-local implementation of the roster store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/session-roster/internal/persistence"
)

// Store keeps every record in maps guarded by a single lock. Roster changes are
// validated in full before any map is touched, so a rejected change leaves no
// trace.
type Store struct {
	mu       sync.RWMutex
	location *time.Location
	sessions map[string]persistence.Session
	people   map[string]persistence.Person
	entries  map[string]persistence.RosterEntry
	settings map[string]persistence.Setting
	idSeq    uint64
}

var _ persistence.Store = (*Store)(nil)

// New returns an empty store. Session dates are compared in location, which
// defaults to UTC.
func New(location *time.Location) *Store {
	if location == nil {
		location = time.UTC
	}
	return &Store{
		location: location,
		sessions: make(map[string]persistence.Session),
		people:   make(map[string]persistence.Person),
		entries:  make(map[string]persistence.RosterEntry),
		settings: make(map[string]persistence.Setting),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// --- SessionRepository implementation ---

func (s *Store) CreateSession(ctx context.Context, session persistence.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("memory: session %s: %w", session.ID, persistence.ErrDuplicate)
	}
	day := dateKey(session.StartsAt, s.location)
	for _, existing := range s.sessions {
		if dateKey(existing.StartsAt, s.location) == day {
			return fmt.Errorf("memory: session on %s: %w", day, persistence.ErrDuplicate)
		}
	}
	if session.Status == "" {
		session.Status = persistence.SessionActive
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (s *Store) GetSessionByDate(ctx context.Context, date time.Time) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := dateKey(date, s.location)
	for _, session := range s.sessions {
		if dateKey(session.StartsAt, s.location) == day {
			return session, nil
		}
	}
	return persistence.Session{}, persistence.ErrNotFound
}

func (s *Store) ListSessions(ctx context.Context, status persistence.SessionStatus) ([]persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]persistence.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if status == "" || session.Status == status {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartsAt.Equal(sessions[j].StartsAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartsAt.Before(sessions[j].StartsAt)
	})
	return sessions, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status persistence.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	session.Status = status
	s.sessions[id] = session
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.sessions, id)
	for entryID, entry := range s.entries {
		if entry.SessionID == id {
			delete(s.entries, entryID)
		}
	}
	return nil
}

// --- PersonRepository implementation ---

func (s *Store) UpsertPerson(ctx context.Context, person persistence.Person) (persistence.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.people {
		if existing.ExternalID != person.ExternalID {
			continue
		}
		existing.Username = coalesce(person.Username, existing.Username)
		existing.FirstName = coalesce(person.FirstName, existing.FirstName)
		existing.LastName = coalesce(person.LastName, existing.LastName)
		s.people[id] = existing
		return existing, nil
	}

	if person.ID == "" {
		s.idSeq++
		person.ID = fmt.Sprintf("person-%d", s.idSeq)
	}
	if _, ok := s.people[person.ID]; ok {
		return persistence.Person{}, fmt.Errorf("memory: person %s: %w", person.ID, persistence.ErrDuplicate)
	}
	person.Subscribed = true
	s.people[person.ID] = person
	return person, nil
}

func (s *Store) GetPerson(ctx context.Context, id string) (persistence.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	person, ok := s.people[id]
	if !ok {
		return persistence.Person{}, persistence.ErrNotFound
	}
	return person, nil
}

func (s *Store) GetPersonByExternalID(ctx context.Context, externalID int64) (persistence.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, person := range s.people {
		if person.ExternalID == externalID {
			return person, nil
		}
	}
	return persistence.Person{}, persistence.ErrNotFound
}

func (s *Store) ListPeople(ctx context.Context, ids []string) ([]persistence.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	people := make([]persistence.Person, 0, len(ids))
	for _, id := range ids {
		if person, ok := s.people[id]; ok {
			people = append(people, person)
		}
	}
	return people, nil
}

func (s *Store) ListAllPeople(ctx context.Context) ([]persistence.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	people := make([]persistence.Person, 0, len(s.people))
	for _, person := range s.people {
		people = append(people, person)
	}
	sort.Slice(people, func(i, j int) bool {
		if !people[i].CreatedAt.Equal(people[j].CreatedAt) {
			return people[i].CreatedAt.Before(people[j].CreatedAt)
		}
		return people[i].ExternalID < people[j].ExternalID
	})
	return people, nil
}

func (s *Store) CountPeople(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.people), nil
}

func (s *Store) ListSubscribedPeople(ctx context.Context) ([]persistence.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	people := make([]persistence.Person, 0)
	for _, person := range s.people {
		if person.Subscribed {
			people = append(people, person)
		}
	}
	sort.Slice(people, func(i, j int) bool { return people[i].ExternalID < people[j].ExternalID })
	return people, nil
}

func (s *Store) SetSubscribed(ctx context.Context, externalID int64, subscribed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, person := range s.people {
		if person.ExternalID == externalID {
			person.Subscribed = subscribed
			s.people[id] = person
			return nil
		}
	}
	return persistence.ErrNotFound
}

// --- RosterRepository implementation ---

func (s *Store) GetParticipant(ctx context.Context, sessionID, personID string) (persistence.RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.findEntryLocked(sessionID, personID); ok {
		return entry, nil
	}
	return persistence.RosterEntry{}, persistence.ErrNotFound
}

func (s *Store) ListEntries(ctx context.Context, sessionID string) ([]persistence.RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sessionEntriesLocked(sessionID), nil
}

func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *Store) RepackPositions(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range s.sessionEntriesLocked(sessionID) {
		entry.Position = i + 1
		s.entries[entry.ID] = entry
	}
	return nil
}

func (s *Store) ApplyRosterChange(ctx context.Context, change persistence.RosterChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[change.SessionID]
	if !ok {
		return persistence.ErrNotFound
	}

	for _, id := range change.Delete {
		entry, ok := s.entries[id]
		if !ok || entry.SessionID != change.SessionID {
			return fmt.Errorf("memory: delete entry %s: %w", id, persistence.ErrNotFound)
		}
	}
	for _, entry := range change.Update {
		current, ok := s.entries[entry.ID]
		if !ok || current.SessionID != change.SessionID {
			return fmt.Errorf("memory: update entry %s: %w", entry.ID, persistence.ErrNotFound)
		}
	}
	for _, entry := range change.Insert {
		if entry.SessionID != change.SessionID {
			return fmt.Errorf("memory: insert entry %s for session %s: %w", entry.ID, entry.SessionID, persistence.ErrConstraintViolation)
		}
		if _, ok := s.entries[entry.ID]; ok {
			return fmt.Errorf("memory: insert entry %s: %w", entry.ID, persistence.ErrDuplicate)
		}
		if _, ok := s.people[entry.PersonID]; !ok {
			return fmt.Errorf("memory: insert entry %s for unknown person %s: %w", entry.ID, entry.PersonID, persistence.ErrConstraintViolation)
		}
		if existing, ok := s.findEntryLocked(entry.SessionID, entry.PersonID); ok && !contains(change.Delete, existing.ID) {
			return fmt.Errorf("memory: person %s already registered: %w", entry.PersonID, persistence.ErrDuplicate)
		}
	}

	if change.Capacity != nil {
		session.Capacity = *change.Capacity
		s.sessions[session.ID] = session
	}
	for _, id := range change.Delete {
		delete(s.entries, id)
	}
	for _, entry := range change.Update {
		current := s.entries[entry.ID]
		current.Status = entry.Status
		current.Position = entry.Position
		current.GroupSize = entry.GroupSize
		current.MainCount = entry.MainCount
		current.ReserveCount = entry.ReserveCount
		s.entries[entry.ID] = current
	}
	for _, entry := range change.Insert {
		s.entries[entry.ID] = entry
	}
	return nil
}

func (s *Store) ConfirmPresence(ctx context.Context, sessionID, personID string) error {
	return s.updateEntry(sessionID, personID, func(entry *persistence.RosterEntry) {
		entry.PresenceConfirmed = true
	})
}

func (s *Store) MarkReminderSent(ctx context.Context, sessionID, personID string, kind persistence.ReminderKind) error {
	return s.updateEntry(sessionID, personID, func(entry *persistence.RosterEntry) {
		switch kind {
		case persistence.SecondReminder:
			entry.SecondReminderSent = true
		default:
			entry.FirstReminderSent = true
		}
	})
}

func (s *Store) updateEntry(sessionID, personID string, mutate func(*persistence.RosterEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.findEntryLocked(sessionID, personID)
	if !ok {
		return persistence.ErrNotFound
	}
	mutate(&entry)
	s.entries[entry.ID] = entry
	return nil
}

func (s *Store) findEntryLocked(sessionID, personID string) (persistence.RosterEntry, bool) {
	for _, entry := range s.entries {
		if entry.SessionID == sessionID && entry.PersonID == personID {
			return entry, true
		}
	}
	return persistence.RosterEntry{}, false
}

func (s *Store) sessionEntriesLocked(sessionID string) []persistence.RosterEntry {
	entries := make([]persistence.RosterEntry, 0)
	for _, entry := range s.entries {
		if entry.SessionID == sessionID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Position == entries[j].Position {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Position < entries[j].Position
	})
	return entries
}

// --- SettingsRepository implementation ---

func (s *Store) GetSetting(ctx context.Context, key string) (persistence.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	setting, ok := s.settings[key]
	if !ok {
		return persistence.Setting{}, persistence.ErrNotFound
	}
	return setting, nil
}

func (s *Store) ListSettings(ctx context.Context) ([]persistence.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := make([]persistence.Setting, 0, len(s.settings))
	for _, setting := range s.settings {
		settings = append(settings, setting)
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}

func (s *Store) PutSetting(ctx context.Context, setting persistence.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[setting.Key] = setting
	return nil
}

func dateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}

func coalesce(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
