package export

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/diligencelabs/dialer/internal/store"
)

func sampleClaims() []store.ExportableClaim {
	completed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	return []store.ExportableClaim{
		{
			ClaimText:          "PRICE: 4.99 USD_PER_UNIT",
			HypothesisQuestion: "Has pricing increased this quarter?",
			HypothesisStatus:   "VALIDATED",
			Confidence:         0.91,
			Validated:          true,
			PhoneNumber:        "+15550001111",
			CallCompletedAt:    &completed,
			EvidenceURL:        "https://cdn.example.com/rec.mp3#t=42",
			StartSec:           42.7,
		},
		{
			ClaimText:          "STOCKOUT: eggs unavailable",
			HypothesisQuestion: "N/A",
			HypothesisStatus:   "N/A",
			Confidence:         0.5,
			Validated:          false,
			PhoneNumber:        "+15550002222",
			EvidenceURL:        "",
			StartSec:           0,
		},
	}
}

func TestToCSV(t *testing.T) {
	out, err := ToCSV(sampleClaims())
	if err != nil {
		t.Fatalf("ToCSV: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("re-parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2 rows", len(records))
	}
	if records[0][0] != "Claim" || records[0][7] != "Evidence URL" {
		t.Errorf("unexpected header: %v", records[0])
	}

	first := records[1]
	if first[0] != "PRICE: 4.99 USD_PER_UNIT" {
		t.Errorf("claim text = %q", first[0])
	}
	if first[3] != "0.91" {
		t.Errorf("confidence = %q", first[3])
	}
	if first[4] != "true" {
		t.Errorf("validated = %q", first[4])
	}
	if first[6] != "2026-03-14T15:09:26Z" {
		t.Errorf("call date = %q", first[6])
	}
	if first[8] != "43" {
		t.Errorf("timestamp = %q, want rounded seconds", first[8])
	}

	second := records[2]
	if second[6] != "" {
		t.Errorf("missing completion date should be empty, got %q", second[6])
	}
}

func TestToCSVEmpty(t *testing.T) {
	out, err := ToCSV(nil)
	if err != nil {
		t.Fatalf("ToCSV: %v", err)
	}
	if !strings.HasPrefix(out, "Claim,") {
		t.Errorf("empty export should still carry the header: %q", out)
	}
}

func TestToJSON(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	out, err := ToJSON(sampleClaims(), now)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("re-parse json: %v", err)
	}
	if doc.ClaimCount != 2 {
		t.Errorf("claimCount = %d", doc.ClaimCount)
	}
	if !doc.ExportedAt.Equal(now) {
		t.Errorf("exportedAt = %v", doc.ExportedAt)
	}
	if doc.Claims[0].HypothesisQuestion != "Has pricing increased this quarter?" {
		t.Errorf("claims[0] = %+v", doc.Claims[0])
	}
}

func TestToJSONEmptyIsArray(t *testing.T) {
	out, err := ToJSON(nil, time.Now())
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(string(out), `"claims": []`) {
		t.Errorf("empty claims should marshal as [], got:\n%s", out)
	}
}
