// Package leadcsv imports and exports leads as CSV.
//
// The import format is a header row followed by one lead per row:
// name, phone_number, email, additional_info. Email and additional_info
// are optional. Import is best-effort: bad rows and already-registered
// phones are reported per row, never abort the batch.
package leadcsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

// RowError describes why one CSV row was not imported.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportResult summarizes a CSV import batch.
type ImportResult struct {
	Total    int        `json:"total"`
	Imported int        `json:"imported"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors,omitempty"`
}

var headerFields = []string{"name", "phone_number", "email", "additional_info", "state"}

// Import reads CSV lead rows from r and creates them in st. Rows whose
// phone number is already registered are counted as skipped.
func Import(ctx context.Context, st store.Store, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty csv input")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		result.Total++
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: row, Reason: err.Error()})
			continue
		}

		lead := &models.Lead{
			Name:           field(record, cols, "name"),
			PhoneNumber:    field(record, cols, "phone_number"),
			Email:          field(record, cols, "email"),
			AdditionalInfo: field(record, cols, "additional_info"),
		}
		if err := lead.Validate(); err != nil {
			result.Errors = append(result.Errors, RowError{Row: row, Reason: err.Error()})
			continue
		}
		canonical, _ := models.CanonicalizePhone(lead.PhoneNumber)
		lead.PhoneNumber = canonical

		if err := st.CreateLead(ctx, lead); err != nil {
			if errors.Is(err, store.ErrConflict) {
				result.Skipped++
				continue
			}
			result.Errors = append(result.Errors, RowError{Row: row, Reason: err.Error()})
			continue
		}
		result.Imported++
	}

	slog.Info("Lead CSV import finished",
		"imported", result.Imported, "skipped", result.Skipped, "errors", len(result.Errors))
	return result, nil
}

// Export writes all leads in st to w as CSV. The state column carries
// the lead's newest conversation state, empty when the lead has none;
// Import ignores it.
func Export(ctx context.Context, st store.Store, w io.Writer) (int, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(headerFields); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	const pageSize = 500
	total := 0
	for skip := 0; ; skip += pageSize {
		leads, _, err := st.ListLeads(ctx, store.ListLeadsOptions{Skip: skip, Limit: pageSize})
		if err != nil {
			return total, fmt.Errorf("list leads: %w", err)
		}
		if len(leads) == 0 {
			break
		}
		for _, lead := range leads {
			state := ""
			convs, err := st.ListConversations(ctx, store.ListConversationsOptions{LeadID: lead.ID, Limit: 1000})
			if err != nil {
				return total, fmt.Errorf("conversations for lead %s: %w", lead.ID, err)
			}
			if len(convs) > 0 {
				// Listing is oldest-first; the newest conversation is current.
				state = string(convs[len(convs)-1].State)
			}
			record := []string{lead.Name, lead.PhoneNumber, lead.Email, lead.AdditionalInfo, state}
			if err := writer.Write(record); err != nil {
				return total, fmt.Errorf("write lead row: %w", err)
			}
			total++
		}
		if len(leads) < pageSize {
			break
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return total, err
	}
	return total, nil
}

func mapHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"name", "phone_number"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("csv header missing %q column", required)
		}
	}
	return cols, nil
}

func field(record []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
