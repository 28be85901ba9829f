package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/session-roster/internal/allocation"
	"github.com/example/session-roster/internal/persistence"
)

// RosterStore captures the persistence operations needed by the roster service.
type RosterStore interface {
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	ListEntries(ctx context.Context, sessionID string) ([]persistence.RosterEntry, error)
	ListPeople(ctx context.Context, ids []string) ([]persistence.Person, error)
	ApplyRosterChange(ctx context.Context, change persistence.RosterChange) error
}

// RosterServiceDeps captures dependencies for constructing a roster service.
type RosterServiceDeps struct {
	Store     RosterStore
	Policy    PolicySource
	Publisher EventPublisher
	Metrics   Metrics
	Locks     *SessionLocks
	// StoreTimeout bounds the store I/O of one operation. Zero disables it.
	StoreTimeout time.Duration
	IDGenerator  func() string
	Now          func() time.Time
	Logger       *slog.Logger
}

// RosterService applies join, leave, reduce and capacity changes to a session
// roster. Every mutation is computed by the allocation engine over a snapshot
// and written back in one atomic change while the session lock is held.
type RosterService struct {
	store        RosterStore
	policy       PolicySource
	publisher    EventPublisher
	metrics      Metrics
	locks        *SessionLocks
	storeTimeout time.Duration
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewRosterService constructs a roster service with the provided dependencies.
func NewRosterService(deps RosterServiceDeps) *RosterService {
	svc := &RosterService{
		store:        deps.Store,
		policy:       deps.Policy,
		publisher:    deps.Publisher,
		metrics:      deps.Metrics,
		locks:        sharedLocks(deps.Locks),
		storeTimeout: deps.StoreTimeout,
		idGenerator:  deps.IDGenerator,
		now:          deps.Now,
		logger:       defaultLogger(deps.Logger),
	}
	if svc.policy == nil {
		svc.policy = StaticPolicy(DefaultPolicy())
	}
	if svc.publisher == nil {
		svc.publisher = nopPublisher{}
	}
	if svc.metrics == nil {
		svc.metrics = nopMetrics{}
	}
	if svc.idGenerator == nil {
		svc.idGenerator = func() string { return "" }
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

func (s *RosterService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RosterService", operation, attrs...)
}

// snapshot is a session roster as read from the store together with the
// canonical allocation the next operation starts from.
type snapshot struct {
	session persistence.Session
	stored  []persistence.RosterEntry
	roster  []allocation.Entry
}

func (s snapshot) entryFor(personID string) (allocation.Entry, bool) {
	for _, e := range s.roster {
		if e.PersonID == personID {
			return e, true
		}
	}
	return allocation.Entry{}, false
}

// Join registers a person, alone or with companions, at the end of the queue.
func (s *RosterService) Join(ctx context.Context, params JoinParams) (result Result, err error) {
	if s == nil {
		return Result{}, fmt.Errorf("RosterService is nil")
	}

	started := time.Now()
	result = Result{SessionID: params.SessionID, PersonID: params.PersonID}
	logger := s.loggerWith(ctx, "Join",
		"session_id", params.SessionID,
		"person_id", params.PersonID,
		"group_size", params.GroupSize,
	)
	defer func() { s.finish(ctx, logger, "join", started, &result, err) }()

	policy, err := s.policy.Effective(ctx)
	if err != nil {
		err = unavailable(err)
		return
	}
	if params.GroupSize < 1 || params.GroupSize > policy.MaxGroupSize {
		err = fmt.Errorf("%w: %d not in 1..%d", ErrInvalidGroupSize, params.GroupSize, policy.MaxGroupSize)
		return
	}
	if params.GroupSize > 1 && !policy.GroupRegistrationEnabled {
		err = ErrGroupRegistrationDisabled
		return
	}

	mu := s.locks.forSession(params.SessionID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	snap, err := s.load(ctx, logger, params.SessionID, true)
	if err != nil {
		return
	}
	if _, ok := snap.entryFor(params.PersonID); ok {
		err = ErrAlreadyRegistered
		return
	}
	known, err := s.people(ctx, []string{params.PersonID})
	if err != nil {
		return
	}
	if _, ok := known[params.PersonID]; !ok {
		err = ErrPersonNotFound
		return
	}

	out, err := allocation.Join(snap.roster, allocation.Entry{
		ID:        s.idGenerator(),
		PersonID:  params.PersonID,
		GroupSize: params.GroupSize,
	}, snap.session.Capacity)
	if err != nil {
		err = mapEngineError(err)
		return
	}

	effects, err := s.commit(ctx, snap, out.Roster, nil, params.PersonID)
	if err != nil {
		return
	}

	result.Success = true
	result.Tier = joinTier(out.Entry.Status)
	result.NewGroupSize = out.Entry.GroupSize
	result.NewStatus = out.Entry.Status
	result.SideEffects = effects
	s.publish(ctx, logger, snap.session, effects)
	return
}

// Leave removes a person's whole entry and promotes reserve individuals into
// the places it held.
func (s *RosterService) Leave(ctx context.Context, params LeaveParams) (result Result, err error) {
	if s == nil {
		return Result{}, fmt.Errorf("RosterService is nil")
	}

	started := time.Now()
	result = Result{SessionID: params.SessionID, PersonID: params.PersonID}
	logger := s.loggerWith(ctx, "Leave",
		"session_id", params.SessionID,
		"person_id", params.PersonID,
	)
	defer func() { s.finish(ctx, logger, "leave", started, &result, err) }()

	mu := s.locks.forSession(params.SessionID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	snap, err := s.load(ctx, logger, params.SessionID, true)
	if err != nil {
		return
	}
	entry, ok := snap.entryFor(params.PersonID)
	if !ok {
		err = ErrNotRegistered
		return
	}

	out, err := allocation.Leave(snap.roster, entry.ID, snap.session.Capacity)
	if err != nil {
		err = mapEngineError(err)
		return
	}

	effects, err := s.commit(ctx, snap, out.Roster, nil, params.PersonID)
	if err != nil {
		return
	}

	result.Success = true
	result.Tier = TierLeft
	result.OldGroupSize = entry.GroupSize
	result.OldStatus = entry.Status
	result.SideEffects = effects
	s.publish(ctx, logger, snap.session, effects)
	return
}

// Reduce shrinks a person's group by Amount. An amount covering the whole
// group is a full leave.
func (s *RosterService) Reduce(ctx context.Context, params ReduceParams) (result Result, err error) {
	if s == nil {
		return Result{}, fmt.Errorf("RosterService is nil")
	}

	started := time.Now()
	result = Result{SessionID: params.SessionID, PersonID: params.PersonID}
	logger := s.loggerWith(ctx, "Reduce",
		"session_id", params.SessionID,
		"person_id", params.PersonID,
		"amount", params.Amount,
	)
	defer func() { s.finish(ctx, logger, "reduce", started, &result, err) }()

	if params.Amount <= 0 {
		err = fmt.Errorf("%w: %d", ErrInvalidReduceAmount, params.Amount)
		return
	}

	mu := s.locks.forSession(params.SessionID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	snap, err := s.load(ctx, logger, params.SessionID, true)
	if err != nil {
		return
	}
	entry, ok := snap.entryFor(params.PersonID)
	if !ok {
		err = ErrNotRegistered
		return
	}

	out, err := allocation.Reduce(snap.roster, entry.ID, params.Amount, snap.session.Capacity)
	if err != nil {
		err = mapEngineError(err)
		return
	}

	effects, err := s.commit(ctx, snap, out.Roster, nil, params.PersonID)
	if err != nil {
		return
	}

	result.Success = true
	result.OldGroupSize = out.Before.GroupSize
	result.OldStatus = out.Before.Status
	result.SideEffects = effects
	if out.Removed {
		result.Tier = TierLeft
	} else {
		result.Tier = TierGroupReduced
		result.NewGroupSize = out.After.GroupSize
		result.NewStatus = out.After.Status
	}
	s.publish(ctx, logger, snap.session, effects)
	return
}

// SetCapacity changes a session's capacity and reallocates the whole roster.
func (s *RosterService) SetCapacity(ctx context.Context, params SetCapacityParams) (result Result, err error) {
	if s == nil {
		return Result{}, fmt.Errorf("RosterService is nil")
	}

	started := time.Now()
	result = Result{SessionID: params.SessionID}
	logger := s.loggerWith(ctx, "SetCapacity",
		"session_id", params.SessionID,
		"capacity", params.Capacity,
	)
	defer func() { s.finish(ctx, logger, "set_capacity", started, &result, err) }()

	if params.Capacity < 0 {
		err = fmt.Errorf("%w: %d", ErrInvalidCapacity, params.Capacity)
		return
	}

	mu := s.locks.forSession(params.SessionID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	snap, err := s.load(ctx, logger, params.SessionID, true)
	if err != nil {
		return
	}

	out, err := allocation.ChangeCapacity(snap.roster, params.Capacity)
	if err != nil {
		err = mapEngineError(err)
		return
	}

	var capacity *int
	if params.Capacity != snap.session.Capacity {
		capacity = &params.Capacity
	}
	effects, err := s.commit(ctx, snap, out.Roster, capacity, "")
	if err != nil {
		return
	}

	result.Success = true
	result.Tier = TierCapacityChanged
	if capacity == nil && len(effects) == 0 {
		result.Tier = TierCapacityUnchanged
	}
	result.SideEffects = effects
	s.publish(ctx, logger, snap.session, effects)
	return
}

// ListRoster returns the ordered roster of a session with display names.
func (s *RosterService) ListRoster(ctx context.Context, sessionID string) (view RosterView, err error) {
	if s == nil {
		return RosterView{}, fmt.Errorf("RosterService is nil")
	}

	logger := s.loggerWith(ctx, "ListRoster", "session_id", sessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list roster", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	mu := s.locks.forSession(sessionID)
	mu.RLock()
	defer mu.RUnlock()

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	snap, err := s.load(ctx, logger, sessionID, false)
	if err != nil {
		return
	}

	ids := make([]string, 0, len(snap.roster))
	for _, e := range snap.roster {
		ids = append(ids, e.PersonID)
	}
	people, err := s.people(ctx, ids)
	if err != nil {
		return
	}

	stored := make(map[string]persistence.RosterEntry, len(snap.stored))
	for _, e := range snap.stored {
		stored[e.ID] = e
	}

	view = RosterView{Session: snap.session, Entries: make([]RosterLine, 0, len(snap.roster))}
	for _, e := range snap.roster {
		person := people[e.PersonID]
		view.Entries = append(view.Entries, RosterLine{
			EntryID:           e.ID,
			PersonID:          e.PersonID,
			ExternalID:        person.ExternalID,
			DisplayName:       displayNameOrID(person, e.PersonID),
			Position:          e.Position,
			GroupSize:         e.GroupSize,
			MainCount:         e.Main,
			ReserveCount:      e.Reserve,
			Status:            e.Status,
			PresenceConfirmed: stored[e.ID].PresenceConfirmed,
		})
	}
	view.Confirmed = allocation.TotalMain(snap.roster)
	view.Reserve = allocation.TotalReserve(snap.roster)
	return
}

// load reads a session and its roster. A roster that is not canonical for the
// session capacity is recalculated in memory; the next commit writes the repair.
func (s *RosterService) load(ctx context.Context, logger *slog.Logger, sessionID string, activeOnly bool) (snapshot, error) {
	if s.store == nil {
		return snapshot{}, unavailable(errors.New("roster store not configured"))
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return snapshot{}, ErrSessionNotFound
		}
		return snapshot{}, unavailable(err)
	}
	if activeOnly && session.Status == persistence.SessionPast {
		return snapshot{}, fmt.Errorf("%w: session %s is past", ErrSessionNotFound, sessionID)
	}

	stored, err := s.store.ListEntries(ctx, sessionID)
	if err != nil {
		return snapshot{}, unavailable(err)
	}

	roster := make([]allocation.Entry, 0, len(stored))
	for _, e := range stored {
		roster = append(roster, toEngine(e))
	}
	if !allocation.IsCanonical(roster, session.Capacity) {
		logger.WarnContext(ctx, "roster snapshot not canonical, recalculating",
			"entries", len(roster),
			"capacity", session.Capacity,
			"violation", allocation.Verify(roster, session.Capacity),
		)
		roster = allocation.Recalculate(allocation.Repack(roster), session.Capacity)
	}

	return snapshot{session: session, stored: stored, roster: roster}, nil
}

// commit writes the difference between the stored roster and next as one
// change and returns the side effects on everyone but the acting person.
func (s *RosterService) commit(ctx context.Context, snap snapshot, next []allocation.Entry, capacity *int, actor string) ([]SideEffect, error) {
	previous := make([]allocation.Entry, 0, len(snap.stored))
	for _, e := range snap.stored {
		previous = append(previous, toEngine(e))
	}

	var affected []allocation.Transition
	for _, t := range allocation.Diff(previous, next) {
		if t.PersonID != actor {
			affected = append(affected, t)
		}
	}

	var effects []SideEffect
	if len(affected) > 0 {
		ids := make([]string, 0, len(affected))
		for _, t := range affected {
			ids = append(ids, t.PersonID)
		}
		people, err := s.people(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, t := range affected {
			person := people[t.PersonID]
			effects = append(effects, SideEffect{
				PersonID:     t.PersonID,
				ExternalID:   person.ExternalID,
				DisplayName:  displayNameOrID(person, t.PersonID),
				OldStatus:    t.OldStatus,
				NewStatus:    t.NewStatus,
				OldMainCount: t.OldMain,
				NewMainCount: t.NewMain,
			})
		}
	}

	change := buildChange(snap.session.ID, snap.stored, next, s.now())
	change.Capacity = capacity
	if change.Empty() {
		return effects, nil
	}
	if err := s.store.ApplyRosterChange(ctx, change); err != nil {
		switch {
		case errors.Is(err, persistence.ErrDuplicate):
			return nil, ErrAlreadyRegistered
		case errors.Is(err, persistence.ErrNotFound):
			// The session or an entry vanished between read and write.
			return nil, ErrSessionNotFound
		}
		return nil, unavailable(err)
	}
	return effects, nil
}

func (s *RosterService) people(ctx context.Context, ids []string) (map[string]persistence.Person, error) {
	if len(ids) == 0 {
		return map[string]persistence.Person{}, nil
	}
	list, err := s.store.ListPeople(ctx, ids)
	if err != nil {
		return nil, unavailable(err)
	}
	people := make(map[string]persistence.Person, len(list))
	for _, p := range list {
		people[p.ID] = p
	}
	return people, nil
}

// publish hands committed side effects to the delivery layer. The mutation is
// already durable, so publish failures are logged rather than returned.
func (s *RosterService) publish(ctx context.Context, logger *slog.Logger, session persistence.Session, effects []SideEffect) {
	at := s.now()
	events := make([]Event, 0, len(effects)+1)
	for _, effect := range effects {
		events = append(events, sideEffectEvent(session, effect, at))
	}
	events = append(events, sessionEvent(EventRosterChanged, session, at))

	for _, event := range events {
		if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
			logger.WarnContext(ctx, "failed to publish event",
				"event_kind", event.Kind,
				"person_id", event.PersonID,
				"error", err,
			)
		}
	}
}

func (s *RosterService) finish(ctx context.Context, logger *slog.Logger, operation string, started time.Time, result *Result, err error) {
	if err != nil {
		result.Success = false
		result.Tier = TierFor(err)
		result.SideEffects = nil
		s.metrics.ObserveOperation(operation, result.Tier, time.Since(started))
		logger.ErrorContext(ctx, "roster operation failed", "error", err, "error_kind", ErrorKind(err))
		return
	}

	promoted := len(result.Promotions())
	demoted := len(result.Demotions())
	s.metrics.ObserveOperation(operation, result.Tier, time.Since(started))
	s.metrics.ObserveMoves(operation, promoted, demoted)
	logger.InfoContext(ctx, "roster operation completed",
		"tier", result.Tier,
		"promoted", promoted,
		"demoted", demoted,
	)
}

func (s *RosterService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withStoreTimeout(ctx, s.storeTimeout)
}

// withStoreTimeout bounds ctx by d; a non-positive d only adds cancellation.
func withStoreTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func toEngine(e persistence.RosterEntry) allocation.Entry {
	return allocation.Entry{
		ID:        e.ID,
		PersonID:  e.PersonID,
		Position:  e.Position,
		GroupSize: e.GroupSize,
		Main:      e.MainCount,
		Reserve:   e.ReserveCount,
		Status:    allocation.Status(e.Status),
	}
}

// buildChange diffs stored rows against the next roster: rows missing from
// next are deleted, rows whose allocation moved are updated and entries
// without a stored row are inserted.
func buildChange(sessionID string, stored []persistence.RosterEntry, next []allocation.Entry, now time.Time) persistence.RosterChange {
	change := persistence.RosterChange{SessionID: sessionID}

	current := make(map[string]persistence.RosterEntry, len(stored))
	for _, e := range stored {
		current[e.ID] = e
	}
	kept := make(map[string]bool, len(next))

	for _, e := range next {
		kept[e.ID] = true
		row, ok := current[e.ID]
		if !ok {
			change.Insert = append(change.Insert, persistence.RosterEntry{
				ID:           e.ID,
				SessionID:    sessionID,
				PersonID:     e.PersonID,
				Status:       string(e.Status),
				Position:     e.Position,
				GroupSize:    e.GroupSize,
				MainCount:    e.Main,
				ReserveCount: e.Reserve,
				CreatedAt:    now,
			})
			continue
		}
		if toEngine(row) == e {
			continue
		}
		row.Status = string(e.Status)
		row.Position = e.Position
		row.GroupSize = e.GroupSize
		row.MainCount = e.Main
		row.ReserveCount = e.Reserve
		change.Update = append(change.Update, row)
	}

	for _, e := range stored {
		if !kept[e.ID] {
			change.Delete = append(change.Delete, e.ID)
		}
	}
	return change
}

func mapEngineError(err error) error {
	switch {
	case errors.Is(err, allocation.ErrInvalidGroupSize):
		return ErrInvalidGroupSize
	case errors.Is(err, allocation.ErrInvalidReduceAmount):
		return ErrInvalidReduceAmount
	case errors.Is(err, allocation.ErrInvalidCapacity):
		return ErrInvalidCapacity
	case errors.Is(err, allocation.ErrEntryNotFound):
		return ErrNotRegistered
	}
	return unavailable(err)
}

func displayNameOrID(person persistence.Person, personID string) string {
	if person.ID == "" {
		return personID
	}
	return DisplayName(person)
}
