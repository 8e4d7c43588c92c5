// Package ingest loads correction events from external exports.
package ingest

import (
	"encoding/csv"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/veridocs/correction-cli/internal/model"
)

// timestampLayouts are accepted for the occurred_at column, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseCSV reads a correction export and returns the events it contains.
// Expected columns: issuer_id, field_name, original_value, corrected_value,
// document_id, occurred_at. An empty issuer_id is kept (the analysis run
// drops unattributed events itself); rows missing the corrected value,
// document id, or a parseable timestamp are skipped.
func ParseCSV(csvPath string) ([]model.CorrectionEvent, int, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, 0, eris.Wrap(err, "ingest: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, 0, eris.Wrap(err, "ingest: read csv")
	}

	if len(records) < 2 {
		return nil, 0, eris.New("ingest: csv has no data rows")
	}

	header := records[0]
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.TrimSpace(strings.ToLower(col))] = i
	}

	requiredCols := []string{"field_name", "corrected_value", "document_id", "occurred_at"}
	for _, col := range requiredCols {
		if _, ok := colIdx[col]; !ok {
			return nil, 0, eris.Errorf("ingest: missing required column %q", col)
		}
	}

	var events []model.CorrectionEvent
	skipped := 0

	for _, row := range records[1:] {
		corrected := getCol(row, colIdx, "corrected_value")
		documentID := getCol(row, colIdx, "document_id")
		occurredAt, ok := parseTimestamp(getCol(row, colIdx, "occurred_at"))
		if corrected == "" || documentID == "" || !ok {
			skipped++
			continue
		}

		e := model.CorrectionEvent{
			IssuerID:       getCol(row, colIdx, "issuer_id"),
			FieldName:      getCol(row, colIdx, "field_name"),
			CorrectedValue: corrected,
			DocumentID:     documentID,
			OccurredAt:     occurredAt,
		}
		if original := getCol(row, colIdx, "original_value"); original != "" {
			e.OriginalValue = &original
		}
		events = append(events, e)
	}

	if len(events) == 0 {
		return nil, skipped, eris.New("ingest: no valid corrections found in csv")
	}

	return events, skipped, nil
}

// getCol safely retrieves a column value from a CSV row.
func getCol(row []string, colIdx map[string]int, col string) string {
	idx, ok := colIdx[col]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
