package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/session-roster/internal/persistence"
)

// RosterRepository implements persistence.RosterRepository. Multi-row writes
// run inside one transaction and are retried while the database is locked.
type RosterRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
}

const entryColumns = `id, session_id, person_id, status, position, group_size, main_count, reserve_count,
	presence_confirmed, first_reminder_sent, second_reminder_sent, created_at`

func (r *RosterRepository) GetParticipant(ctx context.Context, sessionID, personID string) (persistence.RosterEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM roster_entries WHERE session_id = ? AND person_id = ?`
	return r.scanEntry(r.pool.DB().QueryRowContext(ctx, query, sessionID, personID))
}

func (r *RosterRepository) ListEntries(ctx context.Context, sessionID string) ([]persistence.RosterEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM roster_entries WHERE session_id = ? ORDER BY position, created_at`
	rows, err := r.pool.DB().QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entries of %s: %w", sessionID, r.mapper.MapError(err))
	}
	defer rows.Close()

	entries := make([]persistence.RosterEntry, 0)
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list entries of %s: %w", sessionID, r.mapper.MapError(err))
	}
	return entries, nil
}

func (r *RosterRepository) RemoveEntry(ctx context.Context, id string) error {
	result, err := r.pool.DB().ExecContext(ctx, `DELETE FROM roster_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: remove entry %s: %w", id, r.mapper.MapError(err))
	}
	return requireRow(result)
}

func (r *RosterRepository) RepackPositions(ctx context.Context, sessionID string) error {
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx,
				`SELECT id FROM roster_entries WHERE session_id = ? ORDER BY position, created_at`, sessionID)
			if err != nil {
				return err
			}
			var ids []string
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				ids = append(ids, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			for i, id := range ids {
				if _, err := tx.ExecContext(ctx, `UPDATE roster_entries SET position = ? WHERE id = ?`, i+1, id); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// ApplyRosterChange writes a capacity update, deletes, updates and inserts in
// one transaction. Only the allocation fields of updated entries are written.
func (r *RosterRepository) ApplyRosterChange(ctx context.Context, change persistence.RosterChange) error {
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			return r.applyChange(ctx, tx, change)
		})
	})
	if err != nil {
		return fmt.Errorf("sqlite: apply roster change for %s: %w", change.SessionID, r.mapper.MapError(err))
	}
	return nil
}

func (r *RosterRepository) applyChange(ctx context.Context, tx *sql.Tx, change persistence.RosterChange) error {
	if change.Capacity != nil {
		result, err := tx.ExecContext(ctx, `UPDATE sessions SET capacity = ? WHERE id = ?`, *change.Capacity, change.SessionID)
		if err != nil {
			return err
		}
		if err := requireRow(result); err != nil {
			return err
		}
	} else {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, change.SessionID).Scan(&exists); err != nil {
			return err
		}
	}

	for _, id := range change.Delete {
		result, err := tx.ExecContext(ctx, `DELETE FROM roster_entries WHERE id = ? AND session_id = ?`, id, change.SessionID)
		if err != nil {
			return err
		}
		if err := requireRow(result); err != nil {
			return fmt.Errorf("delete entry %s: %w", id, err)
		}
	}

	for _, e := range change.Update {
		result, err := tx.ExecContext(ctx, `
			UPDATE roster_entries
			SET status = ?, position = ?, group_size = ?, main_count = ?, reserve_count = ?
			WHERE id = ? AND session_id = ?`,
			e.Status, e.Position, e.GroupSize, e.MainCount, e.ReserveCount, e.ID, change.SessionID)
		if err != nil {
			return err
		}
		if err := requireRow(result); err != nil {
			return fmt.Errorf("update entry %s: %w", e.ID, err)
		}
	}

	for _, e := range change.Insert {
		if e.SessionID != change.SessionID {
			return fmt.Errorf("insert entry %s for session %s: %w", e.ID, e.SessionID, persistence.ErrConstraintViolation)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO roster_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID,
			e.SessionID,
			e.PersonID,
			e.Status,
			e.Position,
			e.GroupSize,
			e.MainCount,
			e.ReserveCount,
			boolToInt(e.PresenceConfirmed),
			boolToInt(e.FirstReminderSent),
			boolToInt(e.SecondReminderSent),
			formatTimestamp(e.CreatedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *RosterRepository) ConfirmPresence(ctx context.Context, sessionID, personID string) error {
	result, err := r.pool.DB().ExecContext(ctx,
		`UPDATE roster_entries SET presence_confirmed = 1 WHERE session_id = ? AND person_id = ?`, sessionID, personID)
	if err != nil {
		return fmt.Errorf("sqlite: confirm presence: %w", r.mapper.MapError(err))
	}
	return requireRow(result)
}

func (r *RosterRepository) MarkReminderSent(ctx context.Context, sessionID, personID string, kind persistence.ReminderKind) error {
	column := "first_reminder_sent"
	if kind == persistence.SecondReminder {
		column = "second_reminder_sent"
	}
	result, err := r.pool.DB().ExecContext(ctx,
		`UPDATE roster_entries SET `+column+` = 1 WHERE session_id = ? AND person_id = ?`, sessionID, personID)
	if err != nil {
		return fmt.Errorf("sqlite: mark %s reminder: %w", kind, r.mapper.MapError(err))
	}
	return requireRow(result)
}

func (r *RosterRepository) scanEntry(row rowScanner) (persistence.RosterEntry, error) {
	var (
		e                       persistence.RosterEntry
		presence, first, second int
		createdAt               string
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.PersonID, &e.Status, &e.Position, &e.GroupSize, &e.MainCount, &e.ReserveCount,
		&presence, &first, &second, &createdAt)
	if err != nil {
		return persistence.RosterEntry{}, r.mapper.MapError(err)
	}
	if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.RosterEntry{}, err
	}
	e.PresenceConfirmed = presence != 0
	e.FirstReminderSent = first != 0
	e.SecondReminderSent = second != 0
	return e, nil
}
