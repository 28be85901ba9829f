// Package sheets mirrors session rosters into a Google spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

// Client writes values through the Sheets v4 API.
type Client struct {
	srv *sheetsv4.Service
}

// New authenticates with a service account key file.
func New(ctx context.Context, credentialsFile string) (*Client, error) {
	if _, err := os.Stat(credentialsFile); err != nil {
		return nil, fmt.Errorf("sheets: service account json: %w", err)
	}
	srv, err := sheetsv4.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheetsv4.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets: %w", err)
	}
	return &Client{srv: srv}, nil
}

// EnsureSheet adds a tab named title unless the spreadsheet already has one.
func (c *Client) EnsureSheet(ctx context.Context, spreadsheetID, title string) error {
	doc, err := c.srv.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: get %s: %w", spreadsheetID, err)
	}
	for _, sheet := range doc.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == title {
			return nil
		}
	}

	req := &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			AddSheet: &sheetsv4.AddSheetRequest{Properties: &sheetsv4.SheetProperties{Title: title}},
		}},
	}
	if _, err := c.srv.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets: add sheet %q: %w", title, err)
	}
	return nil
}

// Clear empties a range.
func (c *Client) Clear(ctx context.Context, spreadsheetID, rng string) error {
	_, err := c.srv.Spreadsheets.Values.Clear(spreadsheetID, rng, &sheetsv4.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: clear %s: %w", rng, err)
	}
	return nil
}

// Update writes rows starting at the top-left cell of rng.
func (c *Client) Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	vr := &sheetsv4.ValueRange{Values: rows}
	_, err := c.srv.Spreadsheets.Values.Update(spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets: update %s: %w", rng, err)
	}
	return nil
}
