package application

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/session-roster/internal/allocation"
	"github.com/example/session-roster/internal/persistence"
)

// MessageTier tells the transport which fixed message to render for a result.
type MessageTier string

const (
	TierJoinedConfirmed   MessageTier = "joined_confirmed"
	TierJoinedReserve     MessageTier = "joined_reserve"
	TierJoinedMixed       MessageTier = "joined_mixed"
	TierLeft              MessageTier = "left"
	TierGroupReduced      MessageTier = "group_reduced"
	TierCapacityChanged   MessageTier = "capacity_changed"
	TierCapacityUnchanged MessageTier = "capacity_unchanged"

	TierAlreadyRegistered         MessageTier = "already_registered"
	TierNotRegistered             MessageTier = "not_registered"
	TierSessionNotFound           MessageTier = "session_not_found"
	TierPersonNotFound            MessageTier = "person_not_found"
	TierInvalidGroupSize          MessageTier = "invalid_group_size"
	TierInvalidReduceAmount       MessageTier = "invalid_reduce_amount"
	TierInvalidCapacity           MessageTier = "invalid_capacity"
	TierGroupRegistrationDisabled MessageTier = "group_registration_disabled"
	TierStoreUnavailable          MessageTier = "store_unavailable"
)

// TierFor returns the fixed tier of an error. Anything outside the taxonomy is
// reported as a store failure.
func TierFor(err error) MessageTier {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyRegistered):
		return TierAlreadyRegistered
	case errors.Is(err, ErrNotRegistered):
		return TierNotRegistered
	case errors.Is(err, ErrSessionNotFound):
		return TierSessionNotFound
	case errors.Is(err, ErrPersonNotFound):
		return TierPersonNotFound
	case errors.Is(err, ErrInvalidGroupSize):
		return TierInvalidGroupSize
	case errors.Is(err, ErrInvalidReduceAmount):
		return TierInvalidReduceAmount
	case errors.Is(err, ErrInvalidCapacity):
		return TierInvalidCapacity
	case errors.Is(err, ErrGroupRegistrationDisabled):
		return TierGroupRegistrationDisabled
	default:
		return TierStoreUnavailable
	}
}

func joinTier(status allocation.Status) MessageTier {
	switch status {
	case allocation.StatusConfirmed:
		return TierJoinedConfirmed
	case allocation.StatusMixed:
		return TierJoinedMixed
	default:
		return TierJoinedReserve
	}
}

// SideEffect is one person whose confirmed head-count changed as a consequence
// of someone else's operation.
type SideEffect struct {
	PersonID     string
	ExternalID   int64
	DisplayName  string
	OldStatus    allocation.Status
	NewStatus    allocation.Status
	OldMainCount int
	NewMainCount int
}

// Promoted reports whether the person gained confirmed places.
func (e SideEffect) Promoted() bool { return e.NewMainCount > e.OldMainCount }

// Result is the uniform outcome of a roster operation.
type Result struct {
	Success      bool
	Tier         MessageTier
	SessionID    string
	PersonID     string
	OldGroupSize int
	NewGroupSize int
	OldStatus    allocation.Status
	NewStatus    allocation.Status
	SideEffects  []SideEffect
}

// Promotions returns the side effects that gained confirmed places.
func (r Result) Promotions() []SideEffect {
	var out []SideEffect
	for _, e := range r.SideEffects {
		if e.Promoted() {
			out = append(out, e)
		}
	}
	return out
}

// Demotions returns the side effects that lost confirmed places.
func (r Result) Demotions() []SideEffect {
	var out []SideEffect
	for _, e := range r.SideEffects {
		if !e.Promoted() {
			out = append(out, e)
		}
	}
	return out
}

type JoinParams struct {
	SessionID string
	PersonID  string
	GroupSize int
}

type LeaveParams struct {
	SessionID string
	PersonID  string
}

type ReduceParams struct {
	SessionID string
	PersonID  string
	Amount    int
}

type SetCapacityParams struct {
	SessionID string
	Capacity  int
}

// Policy holds the tunables the roster rules depend on.
type Policy struct {
	DefaultCapacity          int
	MaxGroupSize             int
	GroupRegistrationEnabled bool
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{DefaultCapacity: 18, MaxGroupSize: 3}
}

// PersonInput is the identity data received on contact.
type PersonInput struct {
	ExternalID int64
	Username   string
	FirstName  string
	LastName   string
}

// DisplayName renders a person the way rosters and messages show them.
func DisplayName(p persistence.Person) string {
	if name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName)); name != "" {
		return name
	}
	if p.Username != "" {
		return "@" + p.Username
	}
	return strconv.FormatInt(p.ExternalID, 10)
}

// RosterLine is one entry of a rendered roster.
type RosterLine struct {
	EntryID           string
	PersonID          string
	ExternalID        int64
	DisplayName       string
	Position          int
	GroupSize         int
	MainCount         int
	ReserveCount      int
	Status            allocation.Status
	PresenceConfirmed bool
}

// RosterView is a session together with its ordered, allocated roster.
type RosterView struct {
	Session   persistence.Session
	Entries   []RosterLine
	Confirmed int
	Reserve   int
}

// Lines renders the numbered confirmed list followed by the reserve list. A
// mixed entry appears in both, with the part that belongs there.
func (v RosterView) Lines() []string {
	lines := []string{
		fmt.Sprintf("%s (%s)", v.Session.Name, v.Session.StartsAt.Format("Mon 02 Jan 15:04")),
		fmt.Sprintf("Confirmed %d/%d", v.Confirmed, v.Session.Capacity),
	}

	n := 0
	for _, e := range v.Entries {
		if e.MainCount == 0 {
			continue
		}
		n++
		lines = append(lines, fmt.Sprintf("%d. %s%s", n, e.DisplayName, companions(e.MainCount)))
	}

	if v.Reserve == 0 {
		return lines
	}
	lines = append(lines, fmt.Sprintf("Reserve %d", v.Reserve))
	n = 0
	for _, e := range v.Entries {
		if e.ReserveCount == 0 {
			continue
		}
		n++
		lines = append(lines, fmt.Sprintf("%d. %s%s", n, e.DisplayName, companions(e.ReserveCount)))
	}
	return lines
}

func companions(count int) string {
	if count <= 1 {
		return ""
	}
	return fmt.Sprintf(" +%d", count-1)
}
