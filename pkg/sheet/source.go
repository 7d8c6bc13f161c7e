// Package sheet turns spreadsheet tabs exported as CSV into typed rows.
//
// A spreadsheet is addressed by its sheet id; every tab inside it by its gid.
// The management tab lists the map views, every other tab holds markers.
package sheet

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is where Google serves CSV exports of published sheets.
const DefaultBaseURL = "https://docs.google.com"

// ErrStatus is wrapped when the export endpoint answers with a non-2xx code.
var ErrStatus = errors.New("unexpected export status")

// Source returns one tab of the spreadsheet as a table.
type Source interface {
	FetchTable(ctx context.Context, tableID string) (Table, error)
}

// Table is a header plus its data rows. Rows may be shorter than the header.
type Table struct {
	Header []string
	Rows   [][]string
}

// Records maps every row to column name -> cell. Missing cells read as "".
// When a header repeats, the first column with that name wins.
func (t Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Header))
		for i, name := range t.Header {
			if _, seen := rec[name]; seen {
				continue
			}
			if i < len(row) {
				rec[name] = row[i]
			} else {
				rec[name] = ""
			}
		}
		out = append(out, rec)
	}
	return out
}

// HTTPSource fetches tabs from the CSV export endpoint of one spreadsheet.
type HTTPSource struct {
	BaseURL string
	SheetID string
	Client  *http.Client
}

// NewHTTPSource builds a source for sheetID. An empty baseURL selects
// DefaultBaseURL; timeout <= 0 keeps the client without a deadline.
func NewHTTPSource(baseURL, sheetID string, timeout time.Duration) *HTTPSource {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		SheetID: sheetID,
		Client:  &http.Client{Timeout: timeout},
	}
}

// ExportURL is the CSV download address of tab gid.
func (s *HTTPSource) ExportURL(gid string) string {
	return fmt.Sprintf("%s/spreadsheets/d/%s/export?format=csv&gid=%s",
		s.BaseURL, url.PathEscape(s.SheetID), url.QueryEscape(gid))
}

// FetchTable downloads and parses tab tableID.
func (s *HTTPSource) FetchTable(ctx context.Context, tableID string) (Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ExportURL(tableID), nil)
	if err != nil {
		return Table{}, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Table{}, fmt.Errorf("fetch gid %s: %w", tableID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Table{}, fmt.Errorf("fetch gid %s: %w: %s", tableID, ErrStatus, resp.Status)
	}
	table, err := ParseCSV(resp.Body)
	if err != nil {
		return Table{}, fmt.Errorf("parse gid %s: %w", tableID, err)
	}
	return table, nil
}

// ParseCSV reads a comma separated export. The first record is the header.
// Quotes are handled leniently and rows may have any number of fields.
func ParseCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := Table{Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("csv row %d: %w", len(t.Rows)+2, err)
		}
		if blankRecord(rec) {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
