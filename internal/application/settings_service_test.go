package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/session-roster/internal/persistence"
	"github.com/example/session-roster/internal/persistence/memory"
)

type failingSettingsStore struct{}

func (failingSettingsStore) ListSettings(context.Context) ([]persistence.Setting, error) {
	return nil, errors.New("database is locked")
}

func (failingSettingsStore) PutSetting(context.Context, persistence.Setting) error {
	return errors.New("database is locked")
}

func TestSettingsServiceEffective(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New(time.UTC)
	defaults := DefaultPolicy()
	svc := NewSettingsService(store, defaults, fixedNow)

	policy, err := svc.Effective(ctx)
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if policy != defaults {
		t.Fatalf("expected defaults without overrides, got %+v", policy)
	}

	for _, s := range []persistence.Setting{
		{Key: SettingMaxGroupSize, Value: "5"},
		{Key: SettingDefaultCapacity, Value: "not-a-number"},
		{Key: SettingGroupRegistration, Value: "true"},
	} {
		if err := store.PutSetting(ctx, s); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	policy, err = svc.Effective(ctx)
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	want := Policy{DefaultCapacity: defaults.DefaultCapacity, MaxGroupSize: 5, GroupRegistrationEnabled: true}
	if policy != want {
		t.Fatalf("policy = %+v, want %+v", policy, want)
	}
}

func TestSettingsServiceUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New(time.UTC)
	svc := NewSettingsService(store, DefaultPolicy(), fixedNow)

	policy, err := svc.SetGroupRegistration(ctx, true)
	if err != nil || !policy.GroupRegistrationEnabled {
		t.Fatalf("enable groups: %+v %v", policy, err)
	}
	if policy, err = svc.SetMaxGroupSize(ctx, 4); err != nil || policy.MaxGroupSize != 4 {
		t.Fatalf("max group size: %+v %v", policy, err)
	}
	if policy, err = svc.SetDefaultCapacity(ctx, 0); err != nil || policy.DefaultCapacity != 0 {
		t.Fatalf("default capacity: %+v %v", policy, err)
	}

	stored, err := store.GetSetting(ctx, SettingMaxGroupSize)
	if err != nil || stored.Value != "4" || !stored.UpdatedAt.Equal(fixedNow()) {
		t.Fatalf("stored setting = %+v %v", stored, err)
	}

	zero, negative := 0, -1
	_, err = svc.Update(ctx, SettingsUpdate{MaxGroupSize: &zero, DefaultCapacity: &negative})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || len(vErr.FieldErrors) != 2 {
		t.Fatalf("expected two field errors, got %v", err)
	}
	if policy, _ = svc.Effective(ctx); policy.MaxGroupSize != 4 {
		t.Fatalf("rejected update must not be stored, got %+v", policy)
	}
}

func TestSettingsServiceDrivesRosterPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, session := newTestStore(t, 4, 2)
	settings := NewSettingsService(store, DefaultPolicy(), fixedNow)
	roster := NewRosterService(RosterServiceDeps{Store: store, Policy: settings, IDGenerator: sequence("entry"), Now: fixedNow})

	if _, err := roster.Join(ctx, JoinParams{SessionID: session.ID, PersonID: "p1", GroupSize: 2}); !errors.Is(err, ErrGroupRegistrationDisabled) {
		t.Fatalf("expected groups to be disabled by default, got %v", err)
	}
	if _, err := settings.SetGroupRegistration(ctx, true); err != nil {
		t.Fatalf("enable groups: %v", err)
	}
	result, err := roster.Join(ctx, JoinParams{SessionID: session.ID, PersonID: "p1", GroupSize: 2})
	if err != nil || result.Tier != TierJoinedConfirmed {
		t.Fatalf("join after enabling groups: %+v %v", result, err)
	}
}

func TestSettingsServiceStoreUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewSettingsService(failingSettingsStore{}, DefaultPolicy(), fixedNow)

	if _, err := svc.Effective(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("effective: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := svc.SetMaxGroupSize(ctx, 2); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("update: expected ErrStoreUnavailable, got %v", err)
	}

	roster := NewRosterService(RosterServiceDeps{Store: memory.New(time.UTC), Policy: svc})
	result, err := roster.Join(ctx, JoinParams{SessionID: "s", PersonID: "p", GroupSize: 1})
	if !errors.Is(err, ErrStoreUnavailable) || result.Tier != TierStoreUnavailable {
		t.Fatalf("join: got %v tier %s", err, result.Tier)
	}
}
