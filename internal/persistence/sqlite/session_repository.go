package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/session-roster/internal/persistence"
)

// SessionRepository implements persistence.SessionRepository. Start times are
// stored as a local date and clock pair so the unique date index matches the
// calendar day participants see.
type SessionRepository struct {
	pool     *ConnectionPool
	mapper   *ErrorMapper
	location *time.Location
}

const sessionColumns = `id, name, date, time, capacity, status, created_at`

func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.Session) error {
	if session.Status == "" {
		session.Status = persistence.SessionActive
	}
	local := session.StartsAt.In(r.location)

	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.pool.DB().ExecContext(ctx, query,
		session.ID,
		session.Name,
		local.Format(dateLayout),
		local.Format(clockLayout),
		session.Capacity,
		string(session.Status),
		formatTimestamp(session.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create session %s: %w", session.ID, r.mapper.MapError(err))
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	return r.scanSession(r.pool.DB().QueryRowContext(ctx, query, id))
}

func (r *SessionRepository) GetSessionByDate(ctx context.Context, date time.Time) (persistence.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE date = ?`
	return r.scanSession(r.pool.DB().QueryRowContext(ctx, query, date.In(r.location).Format(dateLayout)))
}

func (r *SessionRepository) ListSessions(ctx context.Context, status persistence.SessionStatus) ([]persistence.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY date, time, id`

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", r.mapper.MapError(err))
	}
	defer rows.Close()

	sessions := make([]persistence.Session, 0)
	for rows.Next() {
		session, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", r.mapper.MapError(err))
	}
	return sessions, nil
}

func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, id string, status persistence.SessionStatus) error {
	result, err := r.pool.DB().ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("sqlite: update session %s: %w", id, r.mapper.MapError(err))
	}
	return requireRow(result)
}

func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	result, err := r.pool.DB().ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete session %s: %w", id, r.mapper.MapError(err))
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SessionRepository) scanSession(row rowScanner) (persistence.Session, error) {
	var (
		session   persistence.Session
		date      string
		clock     string
		status    string
		createdAt string
	)
	if err := row.Scan(&session.ID, &session.Name, &date, &clock, &session.Capacity, &status, &createdAt); err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}

	startsAt, err := time.ParseInLocation(dateLayout+" "+clockLayout, date+" "+clock, r.location)
	if err != nil {
		return persistence.Session{}, fmt.Errorf("sqlite: parse start of session %s: %w", session.ID, err)
	}
	if session.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Session{}, err
	}
	session.StartsAt = startsAt
	session.Status = persistence.SessionStatus(status)
	return session, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
