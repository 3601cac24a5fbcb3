package claims

import (
	"regexp"
	"strconv"
	"strings"
)

// FieldType categorizes what kind of fact a claim asserts.
type FieldType string

const (
	FieldPrice               FieldType = "PRICE"
	FieldVelocity            FieldType = "VELOCITY"
	FieldStockout            FieldType = "STOCKOUT"
	FieldInventoryLevel      FieldType = "INVENTORY_LEVEL"
	FieldMarketShare         FieldType = "MARKET_SHARE"
	FieldPromotion           FieldType = "PROMOTION"
	FieldCompetitiveActivity FieldType = "COMPETITIVE_ACTIVITY"
	FieldCustomerFeedback    FieldType = "CUSTOMER_FEEDBACK"
	FieldOther               FieldType = "OTHER"
)

var fieldTypes = map[FieldType]bool{
	FieldPrice:               true,
	FieldVelocity:            true,
	FieldStockout:            true,
	FieldInventoryLevel:      true,
	FieldMarketShare:         true,
	FieldPromotion:           true,
	FieldCompetitiveActivity: true,
	FieldCustomerFeedback:    true,
	FieldOther:               true,
}

// Valid reports whether f is one of the enumerated claim field types.
func (f FieldType) Valid() bool {
	return fieldTypes[f]
}

// Unit is a canonical unit token attached to numeric claim values.
type Unit string

const (
	UnitUSD Unit = "USD"
	UnitEUR Unit = "EUR"
	UnitGBP Unit = "GBP"
	UnitJPY Unit = "JPY"

	UnitPercent Unit = "PERCENT"

	UnitUnits   Unit = "UNITS"
	UnitCases   Unit = "CASES"
	UnitPallets Unit = "PALLETS"
	UnitBoxes   Unit = "BOXES"

	UnitDays   Unit = "DAYS"
	UnitWeeks  Unit = "WEEKS"
	UnitMonths Unit = "MONTHS"

	UnitUnitsPerDay   Unit = "UNITS_PER_DAY"
	UnitUnitsPerWeek  Unit = "UNITS_PER_WEEK"
	UnitUnitsPerMonth Unit = "UNITS_PER_MONTH"

	UnitNone Unit = "NONE"
)

var units = map[Unit]bool{
	UnitUSD: true, UnitEUR: true, UnitGBP: true, UnitJPY: true,
	UnitPercent: true,
	UnitUnits:   true, UnitCases: true, UnitPallets: true, UnitBoxes: true,
	UnitDays: true, UnitWeeks: true, UnitMonths: true,
	UnitUnitsPerDay: true, UnitUnitsPerWeek: true, UnitUnitsPerMonth: true,
	UnitNone: true,
}

// Valid reports whether u is one of the canonical unit tokens.
func (u Unit) Valid() bool {
	return units[u]
}

// unitVocabulary maps lowercased free-text spellings onto canonical units.
var unitVocabulary = map[string]Unit{
	"$": UnitUSD, "usd": UnitUSD, "dollar": UnitUSD, "dollars": UnitUSD,
	"€": UnitEUR, "eur": UnitEUR, "euro": UnitEUR, "euros": UnitEUR,
	"£": UnitGBP, "gbp": UnitGBP, "pound": UnitGBP, "pounds": UnitGBP,
	"¥": UnitJPY, "jpy": UnitJPY, "yen": UnitJPY,

	"%": UnitPercent, "percent": UnitPercent, "percentage": UnitPercent, "pct": UnitPercent,

	"unit": UnitUnits, "units": UnitUnits, "piece": UnitUnits, "pieces": UnitUnits,
	"item": UnitUnits, "items": UnitUnits,
	"case": UnitCases, "cases": UnitCases,
	"pallet": UnitPallets, "pallets": UnitPallets,
	"box": UnitBoxes, "boxes": UnitBoxes,

	"day": UnitDays, "days": UnitDays,
	"week": UnitWeeks, "weeks": UnitWeeks,
	"month": UnitMonths, "months": UnitMonths,

	"units/day": UnitUnitsPerDay, "units per day": UnitUnitsPerDay, "per day": UnitUnitsPerDay,
	"units/week": UnitUnitsPerWeek, "units per week": UnitUnitsPerWeek, "per week": UnitUnitsPerWeek,
	"units/month": UnitUnitsPerMonth, "units per month": UnitUnitsPerMonth, "per month": UnitUnitsPerMonth,
}

// NormalizeUnit maps a free-text unit spelling onto a canonical unit token.
// It returns false rather than guessing when the input is unrecognized.
func NormalizeUnit(raw string) (Unit, bool) {
	u, ok := unitVocabulary[strings.ToLower(strings.TrimSpace(raw))]
	return u, ok
}

// Claim is one structured, evidence-backed assertion extracted from a call.
// This is the exact shape the extraction model is instructed to emit.
type Claim struct {
	Field FieldType `json:"field"`

	// At least one of ValueNumber/ValueText must be present.
	ValueNumber *float64 `json:"valueNumber,omitempty"`
	ValueText   string   `json:"valueText,omitempty"`

	// Canonical unit, expected when ValueNumber is present.
	Unit Unit `json:"unit,omitempty"`

	SKUID   string `json:"skuId,omitempty"`
	GeoCode string `json:"geoCode,omitempty"`

	// Offsets into the recording, in seconds.
	StartSec float64  `json:"startSec"`
	EndSec   *float64 `json:"endSec,omitempty"`

	Confidence   float64 `json:"confidence"`
	HypothesisID string  `json:"hypothesisId,omitempty"`

	RawText string `json:"rawText,omitempty"`
	Context string `json:"context,omitempty"`
}

// ExtractionMetadata is the optional metadata block on a model response.
type ExtractionMetadata struct {
	ModelVersion        string `json:"modelVersion,omitempty"`
	ExtractionTimestamp string `json:"extractionTimestamp,omitempty"`
	TotalClaims         int    `json:"totalClaims,omitempty"`
}

// ExtractionResponse is the single JSON object the extraction model must return.
type ExtractionResponse struct {
	Claims   []Claim             `json:"claims"`
	Metadata *ExtractionMetadata `json:"metadata,omitempty"`
}

var valueWithUnitPatterns = []*regexp.Regexp{
	// Currency symbol at start: $5.99
	regexp.MustCompile(`^[$€£¥]\s*(\d+(?:\.\d+)?)`),
	// Number followed by %: 15%
	regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`),
	// Number followed by a word unit: 100 units
	regexp.MustCompile(`(\d+(?:\.\d+)?)\s+(\S+)`),
}

// ParseValueWithUnit extracts a numeric value and canonical unit from free
// text like "$5.99", "15%" or "100 units". It returns false if no recognized
// value/unit combination is found.
func ParseValueWithUnit(text string) (float64, Unit, bool) {
	trimmed := strings.TrimSpace(text)

	for _, pattern := range valueWithUnitPatterns {
		m := pattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}

		switch {
		case strings.Contains(trimmed, "$"):
			return value, UnitUSD, true
		case strings.Contains(trimmed, "€"):
			return value, UnitEUR, true
		case strings.Contains(trimmed, "£"):
			return value, UnitGBP, true
		case strings.Contains(trimmed, "¥"):
			return value, UnitJPY, true
		case strings.Contains(trimmed, "%"):
			return value, UnitPercent, true
		case len(m) > 2:
			if u, ok := NormalizeUnit(m[2]); ok {
				return value, u, true
			}
		}
	}

	return 0, "", false
}
