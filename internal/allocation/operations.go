package allocation

// Promotion records individuals moved from reserve to main for one entry.
type Promotion struct {
	EntryID   string
	PersonID  string
	Count     int
	OldStatus Status
	NewStatus Status
}

// Transition describes how one entry's allocation changed between two rosters.
type Transition struct {
	EntryID   string
	PersonID  string
	OldMain   int
	NewMain   int
	OldStatus Status
	NewStatus Status
}

// Promoted reports whether the entry gained main slots.
func (t Transition) Promoted() bool { return t.NewMain > t.OldMain }

// Demoted reports whether the entry lost main slots.
func (t Transition) Demoted() bool { return t.NewMain < t.OldMain }

// JoinOutcome is the result of appending a registration.
type JoinOutcome struct {
	Roster []Entry
	Entry  Entry
}

// LeaveOutcome is the result of removing a registration.
type LeaveOutcome struct {
	Roster     []Entry
	Removed    Entry
	Promotions []Promotion
}

// ReduceOutcome is the result of shrinking a registration.
type ReduceOutcome struct {
	Roster []Entry
	Before Entry
	// After is the zero value when Removed is set.
	After      Entry
	Removed    bool
	Promotions []Promotion
}

// CapacityOutcome is the result of a capacity change.
type CapacityOutcome struct {
	Roster   []Entry
	Promoted []Transition
	Demoted  []Transition
}

// Join appends entry after the last position and allocates it against the
// capacity left over by earlier entries.
func Join(entries []Entry, entry Entry, capacity int) (JoinOutcome, error) {
	if entry.GroupSize < 1 {
		return JoinOutcome{}, ErrInvalidGroupSize
	}

	out := sortedClone(entries)
	next := 1
	if n := len(out); n > 0 {
		next = out[n-1].Position + 1
	}

	entry.Position = next
	entry.Main = min(entry.GroupSize, max(0, capacity-TotalMain(out)))
	entry.Reserve = entry.GroupSize - entry.Main
	entry.Status = DeriveStatus(entry.Main, entry.Reserve)

	out = append(out, entry)
	return JoinOutcome{Roster: out, Entry: entry}, nil
}

// Leave removes the entry, repacks positions and promotes reserve individuals
// into the main slots it held.
func Leave(entries []Entry, entryID string, capacity int) (LeaveOutcome, error) {
	ordered := sortedClone(entries)
	idx := indexOf(ordered, entryID)
	if idx < 0 {
		return LeaveOutcome{}, ErrEntryNotFound
	}

	removed := ordered[idx]
	remaining := make([]Entry, 0, len(ordered)-1)
	remaining = append(remaining, ordered[:idx]...)
	remaining = append(remaining, ordered[idx+1:]...)
	remaining = Repack(remaining)

	promotions := promote(remaining, freeSlots(remaining, removed.Main, capacity))
	return LeaveOutcome{Roster: remaining, Removed: removed, Promotions: promotions}, nil
}

// Reduce shrinks the entry's group by k. A mixed entry gives up reserve places
// before main ones. When k covers the whole group the call behaves as Leave.
func Reduce(entries []Entry, entryID string, k, capacity int) (ReduceOutcome, error) {
	if k <= 0 {
		return ReduceOutcome{}, ErrInvalidReduceAmount
	}

	out := sortedClone(entries)
	idx := indexOf(out, entryID)
	if idx < 0 {
		return ReduceOutcome{}, ErrEntryNotFound
	}

	before := out[idx]
	if k >= before.GroupSize {
		left, err := Leave(out, entryID, capacity)
		if err != nil {
			return ReduceOutcome{}, err
		}
		return ReduceOutcome{Roster: left.Roster, Before: before, Removed: true, Promotions: left.Promotions}, nil
	}

	after := before
	switch before.Status {
	case StatusMixed:
		fromReserve := min(k, after.Reserve)
		after.Reserve -= fromReserve
		after.Main -= k - fromReserve
	case StatusConfirmed:
		after.Main -= k
	default:
		after.Reserve -= k
	}
	after.GroupSize -= k
	after.Status = DeriveStatus(after.Main, after.Reserve)
	out[idx] = after

	promotions := promote(out, freeSlots(out, before.Main-after.Main, capacity))
	return ReduceOutcome{Roster: out, Before: before, After: out[idx], Promotions: promotions}, nil
}

// ChangeCapacity recalculates the roster for a new capacity and reports who
// moved across the boundary.
func ChangeCapacity(entries []Entry, capacity int) (CapacityOutcome, error) {
	if capacity < 0 {
		return CapacityOutcome{}, ErrInvalidCapacity
	}

	before := sortedClone(entries)
	after := Recalculate(before, capacity)

	outcome := CapacityOutcome{Roster: after}
	for _, t := range Diff(before, after) {
		if t.Promoted() {
			outcome.Promoted = append(outcome.Promoted, t)
		} else {
			outcome.Demoted = append(outcome.Demoted, t)
		}
	}
	return outcome, nil
}

// Diff lists entries present in both rosters whose main count changed, in the
// position order of after.
func Diff(before, after []Entry) []Transition {
	previous := make(map[string]Entry, len(before))
	for _, e := range before {
		previous[e.ID] = e
	}

	var transitions []Transition
	for _, e := range sortedClone(after) {
		old, ok := previous[e.ID]
		if !ok || old.Main == e.Main {
			continue
		}
		transitions = append(transitions, Transition{
			EntryID:   e.ID,
			PersonID:  e.PersonID,
			OldMain:   old.Main,
			NewMain:   e.Main,
			OldStatus: old.Status,
			NewStatus: e.Status,
		})
	}
	return transitions
}

// freeSlots bounds the slots released by an operation to what capacity allows.
func freeSlots(entries []Entry, released, capacity int) int {
	return max(0, min(released, capacity-TotalMain(entries)))
}

// promote moves individuals from reserve to main one at a time, draining the
// earliest reserve holder before the next. entries must be position ordered and
// is modified in place.
func promote(entries []Entry, slots int) []Promotion {
	var promotions []Promotion
	byEntry := make(map[string]int)

	for ; slots > 0; slots-- {
		idx := -1
		for i := range entries {
			if entries[i].Reserve > 0 {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}

		e := &entries[idx]
		old := e.Status
		e.Main++
		e.Reserve--
		e.Status = DeriveStatus(e.Main, e.Reserve)

		if p, ok := byEntry[e.ID]; ok {
			promotions[p].Count++
			promotions[p].NewStatus = e.Status
			continue
		}
		byEntry[e.ID] = len(promotions)
		promotions = append(promotions, Promotion{
			EntryID:   e.ID,
			PersonID:  e.PersonID,
			Count:     1,
			OldStatus: old,
			NewStatus: e.Status,
		})
	}
	return promotions
}
