// Package allocation decides which members of a session roster are confirmed and
// which wait in reserve.
//
// Recalculate is the reference semantics: a single pass over entries in position
// order that hands out capacity first come, first served. Join, Leave, Reduce and
// ChangeCapacity are incremental forms of the same rule and always produce the
// roster Recalculate would produce for the resulting state.
package allocation

import (
	"errors"
	"fmt"
	"sort"
)

// Status is the derived allocation tag of a roster entry.
type Status string

const (
	// StatusConfirmed marks an entry whose whole group holds main slots.
	StatusConfirmed Status = "confirmed"
	// StatusReserve marks an entry whose whole group is waitlisted.
	StatusReserve Status = "reserve"
	// StatusMixed marks the single entry straddling the capacity boundary.
	StatusMixed Status = "mixed"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusReserve, StatusMixed:
		return true
	}
	return false
}

var (
	// ErrInvalidGroupSize indicates a group size below one.
	ErrInvalidGroupSize = errors.New("allocation: group size must be at least 1")
	// ErrInvalidReduceAmount indicates a non-positive reduction.
	ErrInvalidReduceAmount = errors.New("allocation: reduce amount must be positive")
	// ErrInvalidCapacity indicates a negative capacity.
	ErrInvalidCapacity = errors.New("allocation: capacity cannot be negative")
	// ErrEntryNotFound indicates the referenced entry is not part of the roster.
	ErrEntryNotFound = errors.New("allocation: entry not found")
	// ErrInvariantViolated indicates a roster that breaks an allocation invariant.
	ErrInvariantViolated = errors.New("allocation: invariant violated")
)

// Entry is the allocation view of one registration.
type Entry struct {
	ID        string
	PersonID  string
	Position  int
	GroupSize int
	Main      int
	Reserve   int
	Status    Status
}

// DeriveStatus maps main and reserve counts onto a status.
func DeriveStatus(main, reserve int) Status {
	switch {
	case main > 0 && reserve > 0:
		return StatusMixed
	case main > 0:
		return StatusConfirmed
	default:
		return StatusReserve
	}
}

// Recalculate assigns main and reserve counts to every entry in position order.
func Recalculate(entries []Entry, capacity int) []Entry {
	out := sortedClone(entries)
	running := 0
	for i := range out {
		main := min(out[i].GroupSize, max(0, capacity-running))
		out[i].Main = main
		out[i].Reserve = out[i].GroupSize - main
		out[i].Status = DeriveStatus(out[i].Main, out[i].Reserve)
		running += main
	}
	return out
}

// Repack renumbers positions densely from 1 while preserving order.
func Repack(entries []Entry) []Entry {
	out := sortedClone(entries)
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

// TotalMain sums confirmed head-count.
func TotalMain(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Main
	}
	return total
}

// TotalReserve sums waitlisted head-count.
func TotalReserve(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Reserve
	}
	return total
}

// Verify checks every roster invariant and reports the first violation found.
func Verify(entries []Entry, capacity int) error {
	ordered := sortedClone(entries)
	running := 0
	mixed := 0
	unmet := false
	for i, e := range ordered {
		if e.Position != i+1 {
			return violation("entry %s has position %d, want %d", e.ID, e.Position, i+1)
		}
		if e.GroupSize < 1 || e.Main < 0 || e.Reserve < 0 {
			return violation("entry %s has negative or empty counts", e.ID)
		}
		if e.Main+e.Reserve != e.GroupSize {
			return violation("entry %s splits %d+%d for a group of %d", e.ID, e.Main, e.Reserve, e.GroupSize)
		}
		if e.Status != DeriveStatus(e.Main, e.Reserve) {
			return violation("entry %s is tagged %s but counts say %s", e.ID, e.Status, DeriveStatus(e.Main, e.Reserve))
		}
		if e.Status == StatusMixed {
			mixed++
		}
		if unmet && e.Main > 0 {
			return violation("entry %s holds main slots behind an earlier reserve", e.ID)
		}
		if e.Reserve > 0 {
			unmet = true
		}
		running += e.Main
	}
	if running > capacity {
		return violation("confirmed head-count %d exceeds capacity %d", running, capacity)
	}
	if mixed > 1 {
		return violation("%d mixed entries", mixed)
	}
	return nil
}

// IsCanonical reports whether entries already equal their own recalculation.
func IsCanonical(entries []Entry, capacity int) bool {
	if Verify(entries, capacity) != nil {
		return false
	}
	return Equal(sortedClone(entries), Recalculate(entries, capacity))
}

// Equal compares two rosters entry by entry in position order.
func Equal(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	left, right := sortedClone(a), sortedClone(b)
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolated, fmt.Sprintf(format, args...))
}

func sortedClone(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

func indexOf(entries []Entry, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}
