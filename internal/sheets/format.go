package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

type gridRange struct {
	SheetID          int64 `json:"sheetId"`
	StartRowIndex    int   `json:"startRowIndex"`
	EndRowIndex      int   `json:"endRowIndex"`
	StartColumnIndex int   `json:"startColumnIndex"`
	EndColumnIndex   int   `json:"endColumnIndex"`
}

// rowsRange converts one-based inclusive rows and a zero-based half-open
// column span into a GridRange.
func rowsRange(sheetID int64, firstRow, lastRow, startCol, endCol int) gridRange {
	return gridRange{
		SheetID:          sheetID,
		StartRowIndex:    firstRow - 1,
		EndRowIndex:      lastRow,
		StartColumnIndex: startCol,
		EndColumnIndex:   endCol,
	}
}

// SheetID resolves a sheet title to its numeric id. Results are cached for
// the life of the client.
func (c *Client) SheetID(ctx context.Context, title string) (int64, error) {
	c.sheetIDsMu.Lock()
	id, ok := c.sheetIDs[title]
	c.sheetIDsMu.Unlock()

	if ok {
		return id, nil
	}

	var resp struct {
		Sheets []struct {
			Properties struct {
				SheetID int64  `json:"sheetId"`
				Title   string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}

	path := "/spreadsheets/" + url.PathEscape(c.spreadsheetID) + "?fields=" +
		url.QueryEscape("sheets.properties(sheetId,title)")
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("sheets: looking up sheet %q: %w", title, err)
	}

	for _, s := range resp.Sheets {
		if s.Properties.Title == title {
			c.sheetIDsMu.Lock()
			c.sheetIDs[title] = s.Properties.SheetID
			c.sheetIDsMu.Unlock()

			return s.Properties.SheetID, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrSheetMissing, title)
}

func (c *Client) batchUpdate(ctx context.Context, requests []map[string]any) error {
	body := map[string]any{"requests": requests}
	path := "/spreadsheets/" + url.PathEscape(c.spreadsheetID) + ":batchUpdate"

	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// CopyFormat copies formatting and data validation (never values) from
// srcRow onto rows dstFirst..dstLast, across the first cols columns. Rows
// are one-based.
func (c *Client) CopyFormat(ctx context.Context, sheet string, srcRow, dstFirst, dstLast, cols int) error {
	if dstLast < dstFirst {
		return nil
	}

	sheetID, err := c.SheetID(ctx, sheet)
	if err != nil {
		return err
	}

	src := rowsRange(sheetID, srcRow, srcRow, 0, cols)
	dst := rowsRange(sheetID, dstFirst, dstLast, 0, cols)

	requests := make([]map[string]any, 0, 2)
	for _, pasteType := range []string{"PASTE_FORMAT", "PASTE_DATA_VALIDATION"} {
		requests = append(requests, map[string]any{
			"copyPaste": map[string]any{
				"source":           src,
				"destination":      dst,
				"pasteType":        pasteType,
				"pasteOrientation": "NORMAL",
			},
		})
	}

	if err := c.batchUpdate(ctx, requests); err != nil {
		return fmt.Errorf("sheets: copying row %d format to rows %d-%d: %w", srcRow, dstFirst, dstLast, err)
	}

	c.logger.Debug("template format copied",
		slog.Int("src_row", srcRow),
		slog.Int("first_row", dstFirst),
		slog.Int("last_row", dstLast),
	)

	return nil
}

// SetListValidation installs a non-strict dropdown of values on column col
// (zero-based) for rows firstRow..lastRow (one-based).
func (c *Client) SetListValidation(ctx context.Context, sheet string, col, firstRow, lastRow int, values []string) error {
	if lastRow < firstRow {
		return nil
	}

	sheetID, err := c.SheetID(ctx, sheet)
	if err != nil {
		return err
	}

	condValues := make([]map[string]string, len(values))
	for i, v := range values {
		condValues[i] = map[string]string{"userEnteredValue": v}
	}

	req := map[string]any{
		"setDataValidation": map[string]any{
			"range": rowsRange(sheetID, firstRow, lastRow, col, col+1),
			"rule": map[string]any{
				"condition": map[string]any{
					"type":   "ONE_OF_LIST",
					"values": condValues,
				},
				"strict":       false,
				"showCustomUi": true,
			},
		},
	}

	if err := c.batchUpdate(ctx, []map[string]any{req}); err != nil {
		return fmt.Errorf("sheets: setting list validation on %s%d:%s%d: %w",
			ColumnLetter(col), firstRow, ColumnLetter(col), lastRow, err)
	}

	c.logger.Debug("list validation set",
		slog.String("column", ColumnLetter(col)),
		slog.Int("values", len(values)),
	)

	return nil
}
