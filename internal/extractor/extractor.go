// Package extractor runs the language-model analysis stages: claim
// extraction from transcripts and triangulation of hypotheses.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/diligencelabs/dialer/internal/claims"
	"github.com/diligencelabs/dialer/internal/store"
)

// LLM is the chat surface the extractor needs.
type LLM interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

type Extractor struct {
	llm    LLM
	logger *slog.Logger
}

func New(llm LLM, logger *slog.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger}
}

// ExtractClaims runs the extraction model over a transcript and parses its
// output. The raw model output is returned alongside any error so failures
// can be recorded for review.
func (e *Extractor) ExtractClaims(ctx context.Context, checklistContext string, hypotheses []store.Hypothesis, transcript string) (*claims.ExtractionResponse, string, error) {
	input := BuildExtractionInput(checklistContext, hypotheses, transcript)

	raw, err := e.llm.CompleteJSON(ctx, extractionSystemPrompt, input)
	if err != nil {
		return nil, "", fmt.Errorf("extraction completion: %w", err)
	}

	resp, err := claims.ParseWithRepair(raw)
	if err != nil {
		return nil, raw, err
	}
	e.logger.Info("claims extracted", "count", len(resp.Claims))
	return resp, raw, nil
}

// ErrMalformedVerdict marks a triangulation response that violates the
// output contract. Re-asking the same model the same question tends to
// reproduce the violation, so callers treat this as terminal.
var ErrMalformedVerdict = errors.New("triangulation verdict violates output contract")

// Verdict is the triangulation model's judgment of a hypothesis.
type Verdict struct {
	Status           store.HypothesisStatus `json:"status"`
	Conclusion       string                 `json:"conclusion"`
	ConsistencyScore float64                `json:"consistencyScore"`
	Reasoning        string                 `json:"reasoning,omitempty"`
}

// terminalStatuses is the closed set of statuses a verdict may carry.
var terminalStatuses = map[store.HypothesisStatus]bool{
	store.HypothesisValidated:    true,
	store.HypothesisInvalidated:  true,
	store.HypothesisInconclusive: true,
}

// Triangulate asks the model to judge a hypothesis against its claims and
// enforces the verdict contract: a terminal status, a non-empty conclusion
// and a consistency score within [0, 1].
func (e *Extractor) Triangulate(ctx context.Context, question string, hypClaims []store.HypothesisClaim) (*Verdict, error) {
	input := BuildTriangulationInput(question, hypClaims)

	raw, err := e.llm.CompleteJSON(ctx, triangulationSystemPrompt, input)
	if err != nil {
		return nil, fmt.Errorf("triangulation completion: %w", err)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if !terminalStatuses[v.Status] {
		return nil, fmt.Errorf("%w: status %q", ErrMalformedVerdict, v.Status)
	}
	if v.Conclusion == "" {
		return nil, fmt.Errorf("%w: empty conclusion", ErrMalformedVerdict)
	}
	if v.ConsistencyScore < 0 || v.ConsistencyScore > 1 {
		return nil, fmt.Errorf("%w: consistency score %v out of range", ErrMalformedVerdict, v.ConsistencyScore)
	}
	return &v, nil
}
