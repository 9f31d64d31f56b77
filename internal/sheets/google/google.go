// Package google exports grids to a Google Sheets spreadsheet using a
// service account.
package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	applog "expensedash/internal/log"
	"expensedash/internal/sheets"
)

type Config struct {
	SpreadsheetID string
	SheetName     string
	// CredentialsJSON takes precedence over CredentialsFile.
	CredentialsJSON string
	CredentialsFile string
}

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *applog.Logger
}

var _ sheets.Exporter = (*Exporter)(nil)

// New creates an exporter authenticated with the configured service
// account.
func New(ctx context.Context, cfg Config, logger *applog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = applog.Discard()
	}
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Expenses"
	}

	credentials, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentials),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClient()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Exporter{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		logger:        logger.WithComponent(applog.ComponentSheets),
	}, nil
}

func loadCredentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials")
	}
}

// newHTTPClient bounds every Sheets call; the library default has no
// overall timeout.
func newHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// Export clears the sheet and writes grid from A1.
func (e *Exporter) Export(ctx context.Context, grid sheets.Grid) error {
	if e.svc == nil {
		return errors.New("sheets service not initialized")
	}

	_, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, a1Range(e.sheetName, "A:Z"), &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear sheet %s: %w", e.sheetName, err)
	}

	vr := &gsheet.ValueRange{Values: toValues(grid)}
	resp, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, a1Range(e.sheetName, "A1"), vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write sheet %s: %w", e.sheetName, err)
	}

	e.logger.InfoContext(ctx, "Exported expenses to Google Sheets",
		applog.FieldOperation, applog.OpExport,
		"sheet", e.sheetName,
		"updated_rows", resp.UpdatedRows)
	return nil
}

// a1Range quotes the sheet name so names with spaces or quotes are valid.
func a1Range(sheet, cells string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}

// toValues converts a grid into the interface slices the API expects.
// Empty rows become a single empty cell so they still occupy a row.
func toValues(grid sheets.Grid) [][]interface{} {
	out := make([][]interface{}, len(grid))
	for i, row := range grid {
		if len(row) == 0 {
			out[i] = []interface{}{""}
			continue
		}
		cells := make([]interface{}, len(row))
		for j, v := range row {
			if s, ok := v.(string); ok {
				v = textCell(s)
			}
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

// textCell keeps user text from being read as a formula when written with
// USER_ENTERED. A leading apostrophe marks the cell as plain text and is
// not shown.
func textCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@", rune(s[0])) {
		return "'" + s
	}
	return s
}
