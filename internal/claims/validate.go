package claims

import "fmt"

// lowConfidenceThreshold is the floor below which a claim is flagged for
// likely rejection by the caller.
const lowConfidenceThreshold = 0.3

// SchemaErrors checks the structural contract of a claim: enumerated field
// type, confidence bounds, non-negative offsets, recognized unit token.
// A claim with schema errors cannot be persisted at all.
func SchemaErrors(c Claim) []string {
	var errs []string

	if !c.Field.Valid() {
		errs = append(errs, fmt.Sprintf("field: invalid value %q", string(c.Field)))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		errs = append(errs, fmt.Sprintf("confidence: %g is outside [0,1]", c.Confidence))
	}
	if c.StartSec < 0 {
		errs = append(errs, fmt.Sprintf("startSec: %g is negative", c.StartSec))
	}
	if c.EndSec != nil && *c.EndSec < 0 {
		errs = append(errs, fmt.Sprintf("endSec: %g is negative", *c.EndSec))
	}
	if c.Unit != "" && !c.Unit.Valid() {
		errs = append(errs, fmt.Sprintf("unit: unrecognized token %q", string(c.Unit)))
	}

	return errs
}

// Validate enforces the domain rules on a schema-valid claim. The returned
// errors are reported, not fatal: the caller decides whether to keep or
// discard the claim.
func Validate(c Claim) []string {
	var errs []string

	if c.ValueNumber == nil && c.ValueText == "" {
		errs = append(errs, "claim must have either valueNumber or valueText")
	}

	if c.ValueNumber != nil && c.Unit == "" {
		errs = append(errs, "claims with valueNumber should specify a unit")
	}

	if c.EndSec != nil && *c.EndSec < c.StartSec {
		errs = append(errs, "endSec must be greater than or equal to startSec")
	}

	if c.Confidence < lowConfidenceThreshold {
		errs = append(errs, fmt.Sprintf("confidence is very low (<%.1f), consider rejecting this claim", lowConfidenceThreshold))
	}

	if c.Field == FieldPrice && c.ValueNumber == nil {
		errs = append(errs, "PRICE claims should have a numeric value")
	}

	if c.Field == FieldStockout && c.ValueText == "" {
		errs = append(errs, "STOCKOUT claims should have descriptive text")
	}

	return errs
}
