package sqlite

import (
	"context"
	"fmt"

	"github.com/example/session-roster/internal/persistence"
)

// SettingsRepository implements persistence.SettingsRepository.
type SettingsRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

func (r *SettingsRepository) GetSetting(ctx context.Context, key string) (persistence.Setting, error) {
	row := r.pool.DB().QueryRowContext(ctx, `SELECT key, value, updated_at FROM settings WHERE key = ?`, key)
	return r.scanSetting(row)
}

func (r *SettingsRepository) ListSettings(ctx context.Context) ([]persistence.Setting, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list settings: %w", r.mapper.MapError(err))
	}
	defer rows.Close()

	settings := make([]persistence.Setting, 0)
	for rows.Next() {
		setting, err := r.scanSetting(rows)
		if err != nil {
			return nil, err
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list settings: %w", r.mapper.MapError(err))
	}
	return settings, nil
}

func (r *SettingsRepository) PutSetting(ctx context.Context, setting persistence.Setting) error {
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := r.pool.DB().ExecContext(ctx, query, setting.Key, setting.Value, formatTimestamp(setting.UpdatedAt)); err != nil {
		return fmt.Errorf("sqlite: put setting %s: %w", setting.Key, r.mapper.MapError(err))
	}
	return nil
}

func (r *SettingsRepository) scanSetting(row rowScanner) (persistence.Setting, error) {
	var (
		setting   persistence.Setting
		updatedAt string
	)
	if err := row.Scan(&setting.Key, &setting.Value, &updatedAt); err != nil {
		return persistence.Setting{}, r.mapper.MapError(err)
	}
	var err error
	if setting.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Setting{}, err
	}
	return setting, nil
}
