package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/session-roster/internal/persistence"
)

// PersonRepository implements persistence.PersonRepository.
type PersonRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

const personColumns = `id, external_id, username, first_name, last_name, subscribed, created_at`

func (r *PersonRepository) UpsertPerson(ctx context.Context, person persistence.Person) (persistence.Person, error) {
	if person.ID == "" {
		return persistence.Person{}, fmt.Errorf("sqlite: upsert person without id: %w", persistence.ErrConstraintViolation)
	}

	query := `
		INSERT INTO people (` + personColumns + `)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			username = COALESCE(excluded.username, people.username),
			first_name = COALESCE(excluded.first_name, people.first_name),
			last_name = COALESCE(excluded.last_name, people.last_name)`
	_, err := r.pool.DB().ExecContext(ctx, query,
		person.ID,
		person.ExternalID,
		nullString(person.Username),
		nullString(person.FirstName),
		nullString(person.LastName),
		formatTimestamp(person.CreatedAt),
	)
	if err != nil {
		return persistence.Person{}, fmt.Errorf("sqlite: upsert person %d: %w", person.ExternalID, r.mapper.MapError(err))
	}
	return r.GetPersonByExternalID(ctx, person.ExternalID)
}

func (r *PersonRepository) GetPerson(ctx context.Context, id string) (persistence.Person, error) {
	query := `SELECT ` + personColumns + ` FROM people WHERE id = ?`
	return r.scanPerson(r.pool.DB().QueryRowContext(ctx, query, id))
}

func (r *PersonRepository) GetPersonByExternalID(ctx context.Context, externalID int64) (persistence.Person, error) {
	query := `SELECT ` + personColumns + ` FROM people WHERE external_id = ?`
	return r.scanPerson(r.pool.DB().QueryRowContext(ctx, query, externalID))
}

func (r *PersonRepository) ListPeople(ctx context.Context, ids []string) ([]persistence.Person, error) {
	if len(ids) == 0 {
		return []persistence.Person{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `SELECT ` + personColumns + ` FROM people WHERE id IN (` + placeholders + `)`
	people, err := r.queryPeople(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	// Preserve the caller's order.
	byID := make(map[string]persistence.Person, len(people))
	for _, p := range people {
		byID[p.ID] = p
	}
	ordered := make([]persistence.Person, 0, len(people))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

func (r *PersonRepository) ListAllPeople(ctx context.Context) ([]persistence.Person, error) {
	query := `SELECT ` + personColumns + ` FROM people ORDER BY created_at, external_id`
	return r.queryPeople(ctx, query)
}

func (r *PersonRepository) CountPeople(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.DB().QueryRowContext(ctx, `SELECT COUNT(id) FROM people`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: count people: %w", r.mapper.MapError(err))
	}
	return count, nil
}

func (r *PersonRepository) ListSubscribedPeople(ctx context.Context) ([]persistence.Person, error) {
	query := `SELECT ` + personColumns + ` FROM people WHERE subscribed = 1 ORDER BY external_id`
	return r.queryPeople(ctx, query)
}

func (r *PersonRepository) SetSubscribed(ctx context.Context, externalID int64, subscribed bool) error {
	result, err := r.pool.DB().ExecContext(ctx,
		`UPDATE people SET subscribed = ? WHERE external_id = ?`, boolToInt(subscribed), externalID)
	if err != nil {
		return fmt.Errorf("sqlite: set subscription for %d: %w", externalID, r.mapper.MapError(err))
	}
	return requireRow(result)
}

func (r *PersonRepository) queryPeople(ctx context.Context, query string, args ...any) ([]persistence.Person, error) {
	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list people: %w", r.mapper.MapError(err))
	}
	defer rows.Close()

	people := make([]persistence.Person, 0)
	for rows.Next() {
		person, err := r.scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, person)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list people: %w", r.mapper.MapError(err))
	}
	return people, nil
}

func (r *PersonRepository) scanPerson(row rowScanner) (persistence.Person, error) {
	var (
		person     persistence.Person
		username   sql.NullString
		firstName  sql.NullString
		lastName   sql.NullString
		subscribed int
		createdAt  string
	)
	if err := row.Scan(&person.ID, &person.ExternalID, &username, &firstName, &lastName, &subscribed, &createdAt); err != nil {
		return persistence.Person{}, r.mapper.MapError(err)
	}

	var err error
	if person.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Person{}, err
	}
	person.Username = username.String
	person.FirstName = firstName.String
	person.LastName = lastName.String
	person.Subscribed = subscribed != 0
	return person, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
