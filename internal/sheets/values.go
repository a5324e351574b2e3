package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

const (
	majorRows       = "ROWS"
	renderFormatted = "FORMATTED_VALUE"
)

// InputOption is the valueInputOption a range is written with.
type InputOption string

const (
	// InputRaw stores every cell as the literal string sent: "007" and
	// "10.03.2024" stay text.
	InputRaw InputOption = "RAW"

	// InputUserEntered parses cells as if typed into the UI. Formulas
	// evaluate, but numbers and dates are converted to native values.
	InputUserEntered InputOption = "USER_ENTERED"
)

// ValueRange is one rectangular block of cells addressed in A1 notation.
// The zero Input writes RAW.
type ValueRange struct {
	Range  string
	Values [][]string
	Input  InputOption
}

func (v ValueRange) inputOption() InputOption {
	if v.Input == "" {
		return InputRaw
	}

	return v.Input
}

// wire form of a value range; the API returns mixed JSON types.
type valueRangeJSON struct {
	Range          string  `json:"range,omitempty"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values,omitempty"`
}

func (v ValueRange) toJSON() valueRangeJSON {
	rows := make([][]any, len(v.Values))

	for i, row := range v.Values {
		cells := make([]any, len(row))
		for j, c := range row {
			cells[j] = c
		}

		rows[i] = cells
	}

	return valueRangeJSON{Range: v.Range, MajorDimension: majorRows, Values: rows}
}

func (c *Client) valuesPath(rng string) string {
	return "/spreadsheets/" + url.PathEscape(c.spreadsheetID) + "/values/" + url.PathEscape(rng)
}

// ReadRange returns the formatted values of rng, one string slice per row.
// Trailing empty rows and cells are omitted by the API, so rows may be
// ragged; callers pad as needed.
func (c *Client) ReadRange(ctx context.Context, rng string) ([][]string, error) {
	q := url.Values{}
	q.Set("majorDimension", majorRows)
	q.Set("valueRenderOption", renderFormatted)

	var resp valueRangeJSON
	if err := c.doJSON(ctx, http.MethodGet, c.valuesPath(rng)+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("sheets: reading %s: %w", rng, err)
	}

	out := make([][]string, len(resp.Values))

	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = cellString(cell)
		}

		out[i] = cells
	}

	c.logger.Debug("range read", slog.String("range", rng), slog.Int("rows", len(out)))

	return out, nil
}

// BatchWrite writes ranges with values:batchUpdate. The API takes one input
// option per call, so ranges are grouped by option into one call each, in
// order of first appearance. An empty batch is a no-op.
func (c *Client) BatchWrite(ctx context.Context, ranges []ValueRange) error {
	if len(ranges) == 0 {
		return nil
	}

	var order []InputOption

	groups := make(map[InputOption][]valueRangeJSON)

	for _, r := range ranges {
		opt := r.inputOption()
		if _, ok := groups[opt]; !ok {
			order = append(order, opt)
		}

		groups[opt] = append(groups[opt], r.toJSON())
	}

	path := "/spreadsheets/" + url.PathEscape(c.spreadsheetID) + "/values:batchUpdate"

	for _, opt := range order {
		body := struct {
			ValueInputOption InputOption      `json:"valueInputOption"`
			Data             []valueRangeJSON `json:"data"`
		}{opt, groups[opt]}

		if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
			return fmt.Errorf("sheets: batch writing %d %s ranges: %w", len(groups[opt]), opt, err)
		}

		c.logger.Debug("batch write done",
			slog.String("input", string(opt)),
			slog.Int("ranges", len(groups[opt])),
		)
	}

	return nil
}

// WriteRange writes a single range with the range's input option.
func (c *Client) WriteRange(ctx context.Context, vr ValueRange) error {
	q := url.Values{}
	q.Set("valueInputOption", string(vr.inputOption()))

	if err := c.doJSON(ctx, http.MethodPut, c.valuesPath(vr.Range)+"?"+q.Encode(), vr.toJSON(), nil); err != nil {
		return fmt.Errorf("sheets: writing %s: %w", vr.Range, err)
	}

	c.logger.Debug("range written", slog.String("range", vr.Range), slog.Int("rows", len(vr.Values)))

	return nil
}

// cellString coerces a JSON cell value to its string form.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
