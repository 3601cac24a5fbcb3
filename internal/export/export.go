// Package export renders campaign claims into downloadable documents.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diligencelabs/dialer/internal/store"
)

var csvHeader = []string{
	"Claim", "Hypothesis", "Hypothesis Status", "Confidence", "Validated",
	"Source Phone", "Call Date", "Evidence URL", "Timestamp (sec)",
}

// ToCSV renders claims as CSV with a fixed header row. Claims without a call
// completion date get an empty cell.
func ToCSV(claims []store.ExportableClaim) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range claims {
		completed := ""
		if c.CallCompletedAt != nil {
			completed = c.CallCompletedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			c.ClaimText,
			c.HypothesisQuestion,
			c.HypothesisStatus,
			fmt.Sprintf("%.2f", c.Confidence),
			fmt.Sprintf("%t", c.Validated),
			c.PhoneNumber,
			completed,
			c.EvidenceURL,
			fmt.Sprintf("%.0f", c.StartSec),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}

// Document is the JSON export envelope.
type Document struct {
	ExportedAt time.Time               `json:"exportedAt"`
	ClaimCount int                     `json:"claimCount"`
	Claims     []store.ExportableClaim `json:"claims"`
}

// ToJSON renders claims as an indented JSON document with export metadata.
func ToJSON(claims []store.ExportableClaim, now time.Time) ([]byte, error) {
	doc := Document{
		ExportedAt: now.UTC(),
		ClaimCount: len(claims),
		Claims:     claims,
	}
	if doc.Claims == nil {
		doc.Claims = []store.ExportableClaim{}
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return out, nil
}
