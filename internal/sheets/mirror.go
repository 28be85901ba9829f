package sheets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/session-roster/internal/application"
	"github.com/example/session-roster/internal/notify"
)

// ValuesWriter is the part of Client the mirror uses.
type ValuesWriter interface {
	EnsureSheet(ctx context.Context, spreadsheetID, title string) error
	Clear(ctx context.Context, spreadsheetID, rng string) error
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
}

// RosterReader loads the current roster of a session.
type RosterReader interface {
	ListRoster(ctx context.Context, sessionID string) (application.RosterView, error)
}

// Header is the first row of every mirrored roster.
var Header = []any{"#", "Name", "Status", "Group", "Confirmed", "Reserve", "Presence"}

// Mirror keeps one sheet per session in sync with its roster. It is a
// notify.Sink and rewrites the sheet whenever the roster changes.
type Mirror struct {
	writer        ValuesWriter
	roster        RosterReader
	spreadsheetID string
	columns       string
}

var _ notify.Sink = (*Mirror)(nil)

// NewMirror writes to spreadsheetID.
func NewMirror(writer ValuesWriter, roster RosterReader, spreadsheetID string) *Mirror {
	return &Mirror{writer: writer, roster: roster, spreadsheetID: spreadsheetID, columns: "A:G"}
}

func (m *Mirror) Name() string { return "sheets" }

// Deliver refreshes the session's sheet for roster_changed and session_opened
// events and ignores the rest.
func (m *Mirror) Deliver(ctx context.Context, event application.Event) error {
	if event.Kind != application.EventRosterChanged && event.Kind != application.EventSessionOpened {
		return nil
	}

	view, err := m.roster.ListRoster(ctx, event.SessionID)
	if errors.Is(err, application.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sheets: load roster %s: %w", event.SessionID, err)
	}

	title := SheetTitle(view.Session.StartsAt)
	if err := m.writer.EnsureSheet(ctx, m.spreadsheetID, title); err != nil {
		return err
	}
	rng := fmt.Sprintf("'%s'!%s", title, m.columns)
	if err := m.writer.Clear(ctx, m.spreadsheetID, rng); err != nil {
		return err
	}
	return m.writer.Update(ctx, m.spreadsheetID, rng, Rows(view))
}

// SheetTitle names the tab of the session starting at start.
func SheetTitle(start time.Time) string {
	return start.Format(time.DateOnly)
}

// Rows renders the header followed by one row per roster entry.
func Rows(view application.RosterView) [][]any {
	rows := make([][]any, 0, len(view.Entries)+1)
	rows = append(rows, Header)
	for _, e := range view.Entries {
		presence := ""
		if e.PresenceConfirmed {
			presence = "yes"
		}
		rows = append(rows, []any{
			e.Position,
			e.DisplayName,
			string(e.Status),
			e.GroupSize,
			e.MainCount,
			e.ReserveCount,
			presence,
		})
	}
	return rows
}
