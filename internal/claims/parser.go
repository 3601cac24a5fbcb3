package claims

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports which stage of parsing rejected the model output. The
// raw text travels with the error for audit.
type ParseError struct {
	Stage  string // "json" | "schema" | "validation"
	Detail string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Detail)
}

// Parse turns raw model output into a validated extraction response.
//
// It decodes the JSON, checks the structural schema of every claim, then runs
// each claim through the domain validator. Claims failing validation are
// dropped with their errors recorded in the failure message; a batch where
// every claim fails is reported as a failed parse, never as an empty success.
func Parse(raw string) (*ExtractionResponse, error) {
	var resp ExtractionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &ParseError{Stage: "json", Detail: err.Error(), Raw: raw}
	}

	if resp.Claims == nil {
		return nil, &ParseError{Stage: "schema", Detail: "claims: required array is missing", Raw: raw}
	}

	var schemaErrs []string
	for i, c := range resp.Claims {
		for _, e := range SchemaErrors(c) {
			schemaErrs = append(schemaErrs, fmt.Sprintf("claim %d: %s", i, e))
		}
	}
	if len(schemaErrs) > 0 {
		return nil, &ParseError{
			Stage:  "schema",
			Detail: strings.Join(schemaErrs, "; "),
			Raw:    raw,
		}
	}

	var kept []Claim
	var dropped []string
	for i, c := range resp.Claims {
		if errs := Validate(c); len(errs) > 0 {
			dropped = append(dropped, fmt.Sprintf("claim %d: %s", i, strings.Join(errs, ", ")))
			continue
		}
		kept = append(kept, c)
	}

	if len(kept) == 0 && len(resp.Claims) > 0 {
		return nil, &ParseError{
			Stage:  "validation",
			Detail: "all claims failed validation: " + strings.Join(dropped, "; "),
			Raw:    raw,
		}
	}

	return &ExtractionResponse{Claims: kept, Metadata: resp.Metadata}, nil
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// Repair fixes the common ways models mangle JSON output: prose or markdown
// fences around the object, trailing commas, single quotes.
func Repair(raw string) string {
	repaired := raw

	// Strip markdown code-fence markers.
	repaired = strings.ReplaceAll(repaired, "```json", "")
	repaired = strings.ReplaceAll(repaired, "```", "")

	// Drop any text before the first { or [.
	start := -1
	for _, ch := range []string{"{", "["} {
		if i := strings.Index(repaired, ch); i != -1 && (start == -1 || i < start) {
			start = i
		}
	}
	if start > 0 {
		repaired = repaired[start:]
	}

	// Drop any text after the last } or ].
	end := -1
	for _, ch := range []string{"}", "]"} {
		if i := strings.LastIndex(repaired, ch); i > end {
			end = i
		}
	}
	if end != -1 {
		repaired = repaired[:end+1]
	}

	// Remove trailing commas before closing brackets and normalize quotes.
	repaired = trailingComma.ReplaceAllString(repaired, "$1")
	repaired = strings.ReplaceAll(repaired, "'", `"`)

	return repaired
}

// ParseWithRepair parses the raw output, and on failure retries once against
// the repaired text. When both attempts fail the errors are concatenated so
// neither is lost.
func ParseWithRepair(raw string) (*ExtractionResponse, error) {
	resp, firstErr := Parse(raw)
	if firstErr == nil {
		return resp, nil
	}

	resp, secondErr := Parse(Repair(raw))
	if secondErr == nil {
		return resp, nil
	}

	return nil, fmt.Errorf("parse failed even after repair: original error: %v; repair error: %v", firstErr, secondErr)
}
