package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/example/session-roster/internal/persistence"
)

// Persisted setting keys.
const (
	SettingGroupRegistration = "group_registration_enabled"
	SettingMaxGroupSize      = "max_group_size"
	SettingDefaultCapacity   = "default_capacity"
)

// PolicySource yields the policy in force for one call.
type PolicySource interface {
	Effective(ctx context.Context) (Policy, error)
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy Policy

// Effective returns the policy itself.
func (p StaticPolicy) Effective(context.Context) (Policy, error) {
	return Policy(p), nil
}

// SettingsStore captures the persistence operations needed by the service.
type SettingsStore interface {
	ListSettings(ctx context.Context) ([]persistence.Setting, error)
	PutSetting(ctx context.Context, setting persistence.Setting) error
}

// SettingsUpdate changes the fields that are set.
type SettingsUpdate struct {
	GroupRegistrationEnabled *bool
	MaxGroupSize             *int
	DefaultCapacity          *int
}

// SettingsService layers persisted overrides on top of the configured policy.
type SettingsService struct {
	store    SettingsStore
	defaults Policy
	now      func() time.Time
	logger   *slog.Logger
}

var _ PolicySource = (*SettingsService)(nil)

// NewSettingsService constructs a settings service with the provided dependencies.
func NewSettingsService(store SettingsStore, defaults Policy, now func() time.Time) *SettingsService {
	return NewSettingsServiceWithLogger(store, defaults, now, nil)
}

// NewSettingsServiceWithLogger constructs a settings service with a specified logger.
func NewSettingsServiceWithLogger(store SettingsStore, defaults Policy, now func() time.Time, logger *slog.Logger) *SettingsService {
	if now == nil {
		now = time.Now
	}
	return &SettingsService{store: store, defaults: defaults, now: now, logger: defaultLogger(logger)}
}

func (s *SettingsService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SettingsService", operation, attrs...)
}

// Effective returns the configured policy with every stored override applied.
// Unparseable stored values are skipped.
func (s *SettingsService) Effective(ctx context.Context) (Policy, error) {
	if s == nil {
		return Policy{}, fmt.Errorf("SettingsService is nil")
	}
	policy := s.defaults
	if s.store == nil {
		return policy, nil
	}

	settings, err := s.store.ListSettings(ctx)
	if err != nil {
		return Policy{}, unavailable(err)
	}

	for _, setting := range settings {
		if err := applySetting(&policy, setting); err != nil {
			s.loggerWith(ctx, "Effective", "key", setting.Key).
				WarnContext(ctx, "ignoring invalid stored setting", "value", setting.Value, "error", err)
		}
	}
	return policy, nil
}

// Update validates and persists the set fields, then returns the new policy.
func (s *SettingsService) Update(ctx context.Context, update SettingsUpdate) (policy Policy, err error) {
	if s == nil {
		err = fmt.Errorf("SettingsService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Update")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update settings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "settings updated",
			"group_registration_enabled", policy.GroupRegistrationEnabled,
			"max_group_size", policy.MaxGroupSize,
			"default_capacity", policy.DefaultCapacity,
		)
	}()

	vErr := &ValidationError{}
	if update.MaxGroupSize != nil && *update.MaxGroupSize < 1 {
		vErr.add(SettingMaxGroupSize, "must be at least 1")
	}
	if update.DefaultCapacity != nil && *update.DefaultCapacity < 0 {
		vErr.add(SettingDefaultCapacity, "cannot be negative")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var writes []persistence.Setting
	now := s.now()
	if update.GroupRegistrationEnabled != nil {
		writes = append(writes, persistence.Setting{Key: SettingGroupRegistration, Value: strconv.FormatBool(*update.GroupRegistrationEnabled), UpdatedAt: now})
	}
	if update.MaxGroupSize != nil {
		writes = append(writes, persistence.Setting{Key: SettingMaxGroupSize, Value: strconv.Itoa(*update.MaxGroupSize), UpdatedAt: now})
	}
	if update.DefaultCapacity != nil {
		writes = append(writes, persistence.Setting{Key: SettingDefaultCapacity, Value: strconv.Itoa(*update.DefaultCapacity), UpdatedAt: now})
	}

	if s.store != nil {
		for _, setting := range writes {
			if err = s.store.PutSetting(ctx, setting); err != nil {
				err = unavailable(err)
				return
			}
		}
	}

	policy, err = s.Effective(ctx)
	return
}

// SetGroupRegistration switches group registration on or off.
func (s *SettingsService) SetGroupRegistration(ctx context.Context, enabled bool) (Policy, error) {
	return s.Update(ctx, SettingsUpdate{GroupRegistrationEnabled: &enabled})
}

// SetMaxGroupSize changes the largest accepted group.
func (s *SettingsService) SetMaxGroupSize(ctx context.Context, size int) (Policy, error) {
	return s.Update(ctx, SettingsUpdate{MaxGroupSize: &size})
}

// SetDefaultCapacity changes the capacity given to newly created sessions.
func (s *SettingsService) SetDefaultCapacity(ctx context.Context, capacity int) (Policy, error) {
	return s.Update(ctx, SettingsUpdate{DefaultCapacity: &capacity})
}

func applySetting(policy *Policy, setting persistence.Setting) error {
	switch setting.Key {
	case SettingGroupRegistration:
		enabled, err := strconv.ParseBool(setting.Value)
		if err != nil {
			return err
		}
		policy.GroupRegistrationEnabled = enabled
	case SettingMaxGroupSize:
		size, err := strconv.Atoi(setting.Value)
		if err != nil {
			return err
		}
		if size < 1 {
			return fmt.Errorf("max group size %d below 1", size)
		}
		policy.MaxGroupSize = size
	case SettingDefaultCapacity:
		capacity, err := strconv.Atoi(setting.Value)
		if err != nil {
			return err
		}
		if capacity < 0 {
			return fmt.Errorf("negative default capacity %d", capacity)
		}
		policy.DefaultCapacity = capacity
	}
	return nil
}
