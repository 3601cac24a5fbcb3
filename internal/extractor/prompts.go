package extractor

import (
	"fmt"
	"strings"

	"github.com/diligencelabs/dialer/internal/store"
)

const extractionSystemPrompt = `You are an expert analyst extracting structured claims from phone interview transcripts for channel-check research.

Extract every factual, evidence-backed claim the respondent makes. Return a single JSON object of this exact shape:

{
  "claims": [
    {
      "field": "PRICE | VELOCITY | STOCKOUT | INVENTORY_LEVEL | MARKET_SHARE | PROMOTION | COMPETITIVE_ACTIVITY | CUSTOMER_FEEDBACK | OTHER",
      "valueNumber": 4.99,
      "valueText": "textual value when no number applies",
      "unit": "USD | EUR | GBP | JPY | PERCENT | UNITS | CASES | PALLETS | BOXES | DAYS | WEEKS | MONTHS | UNITS_PER_DAY | UNITS_PER_WEEK | UNITS_PER_MONTH | NONE",
      "skuId": "product identifier if mentioned",
      "geoCode": "location code if mentioned",
      "startSec": 42.5,
      "endSec": 48.0,
      "confidence": 0.85,
      "hypothesisId": "id of the matching hypothesis, or omit",
      "rawText": "the verbatim quote the claim comes from",
      "context": "one sentence of surrounding context"
    }
  ],
  "metadata": {
    "modelVersion": "your model name",
    "totalClaims": 1
  }
}

Rules:
- Every claim must have at least one of valueNumber or valueText.
- Numeric claims carry a canonical unit token from the list above.
- startSec and endSec are offsets into the recording in seconds; never negative.
- confidence is between 0 and 1: how sure you are the respondent actually asserted this.
- PRICE claims require valueNumber; STOCKOUT claims require valueText.
- Attach a hypothesisId only when the claim bears directly on that hypothesis.
- Do not invent facts. Only extract what the respondent said.`

// BuildExtractionInput composes the user message for an extraction run:
// checklist guidance, the campaign's open hypotheses with their ids, and the
// transcript.
func BuildExtractionInput(checklistContext string, hypotheses []store.Hypothesis, transcript string) string {
	var b strings.Builder

	if checklistContext != "" {
		b.WriteString(checklistContext)
		b.WriteString("\n")
	}

	if len(hypotheses) > 0 {
		b.WriteString("Open hypotheses for this campaign:\n")
		for _, h := range hypotheses {
			fmt.Fprintf(&b, "- [%s] %s\n", h.ID, h.Question)
		}
		b.WriteString("\n")
	}

	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}

const triangulationSystemPrompt = `You are validating a business hypothesis against claims gathered from independent phone interviews.

Judge whether the claims, taken together, support the hypothesis, contradict it, or are too inconsistent to decide. Weigh agreement across different sources more heavily than any single confident claim.

Return a single JSON object of this exact shape:

{
  "status": "VALIDATED | INVALIDATED | INCONCLUSIVE",
  "conclusion": "two or three sentences summarizing the verdict and the evidence",
  "consistencyScore": 0.8,
  "reasoning": "how the claims agree or conflict"
}

consistencyScore is between 0 and 1: how consistent the claims are with one another.`

// BuildTriangulationInput composes the user message for a triangulation run:
// the hypothesis question and every claim with its source call.
func BuildTriangulationInput(question string, claims []store.HypothesisClaim) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hypothesis: %s\n\n", question)
	fmt.Fprintf(&b, "Claims from %d interviews:\n", len(claims))
	for i, c := range claims {
		fmt.Fprintf(&b, "%d. [call %s, confidence %.2f] %s\n", i+1, c.CallID, c.Confidence, c.Text)
	}
	return b.String()
}
