package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type HypothesisStatus string

const (
	HypothesisPending      HypothesisStatus = "PENDING"
	HypothesisValidated    HypothesisStatus = "VALIDATED"
	HypothesisInvalidated  HypothesisStatus = "INVALIDATED"
	HypothesisInconclusive HypothesisStatus = "INCONCLUSIVE"
)

// Hypothesis is a business question a campaign is testing. Status leaves
// PENDING exactly once, via ResolveHypothesis.
type Hypothesis struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	Question   string
	Status     HypothesisStatus
	Conclusion *string
}

func (s *Store) GetHypothesis(ctx context.Context, id uuid.UUID) (*Hypothesis, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, campaign_id, question, status, conclusion
		FROM hypotheses WHERE id = $1`, id)

	var h Hypothesis
	if err := row.Scan(&h.ID, &h.CampaignID, &h.Question, &h.Status, &h.Conclusion); err != nil {
		return nil, fmt.Errorf("get hypothesis %s: %w", id, err)
	}
	return &h, nil
}

// OpenHypotheses returns the PENDING hypotheses for a campaign.
func (s *Store) OpenHypotheses(ctx context.Context, campaignID uuid.UUID) ([]Hypothesis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, question, status, conclusion
		FROM hypotheses
		WHERE campaign_id = $1 AND status = 'PENDING'
		ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("open hypotheses: %w", err)
	}
	defer rows.Close()

	var out []Hypothesis
	for rows.Next() {
		var h Hypothesis
		if err := rows.Scan(&h.ID, &h.CampaignID, &h.Question, &h.Status, &h.Conclusion); err != nil {
			return nil, fmt.Errorf("scan hypothesis: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PendingHypothesesAtThreshold returns the ids of PENDING hypotheses in a
// campaign that have accumulated at least minClaims claims. Claims accumulate
// across calls, so this runs after every extraction batch.
func (s *Store) PendingHypothesesAtThreshold(ctx context.Context, campaignID uuid.UUID, minClaims int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h.id
		FROM hypotheses h
		JOIN claims c ON c.hypothesis_id = h.id
		WHERE h.campaign_id = $1 AND h.status = 'PENDING'
		GROUP BY h.id
		HAVING count(c.id) >= $2`, campaignID, minClaims)
	if err != nil {
		return nil, fmt.Errorf("pending hypotheses at threshold: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan hypothesis id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResolveHypothesis commits a terminal triangulation verdict. The update is
// conditional on the hypothesis still being PENDING, which is what closes the
// race between near-simultaneous triangulation triggers: exactly one caller
// sees applied=true. When the verdict is VALIDATED, every claim attached to
// the hypothesis is flipped to validated in the same transaction.
func (s *Store) ResolveHypothesis(ctx context.Context, id uuid.UUID, status HypothesisStatus, conclusion string) (bool, error) {
	if status == HypothesisPending {
		return false, fmt.Errorf("resolve hypothesis: PENDING is not a terminal status")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE hypotheses SET status = $1, conclusion = $2, resolved_at = now()
		WHERE id = $3 AND status = 'PENDING'`,
		status, conclusion, id)
	if err != nil {
		return false, fmt.Errorf("update hypothesis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if status == HypothesisValidated {
		if _, err := tx.Exec(ctx, `
			UPDATE claims SET validated = true WHERE hypothesis_id = $1`, id); err != nil {
			return false, fmt.Errorf("validate claims: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// HypothesisClaim is a claim joined with its source-call details, as needed
// for triangulation and export.
type HypothesisClaim struct {
	ID          uuid.UUID
	CallID      uuid.UUID
	Text        string
	Confidence  float64
	PhoneNumber string
	CompletedAt *time.Time
}

// ClaimsForHypothesis returns all claims attached to a hypothesis with their
// source calls, highest confidence first.
func (s *Store) ClaimsForHypothesis(ctx context.Context, hypothesisID uuid.UUID) ([]HypothesisClaim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.call_id, c.text, c.confidence, ca.phone_number, ca.completed_at
		FROM claims c
		JOIN calls ca ON ca.id = c.call_id
		WHERE c.hypothesis_id = $1
		ORDER BY c.confidence DESC`, hypothesisID)
	if err != nil {
		return nil, fmt.Errorf("claims for hypothesis: %w", err)
	}
	defer rows.Close()

	var out []HypothesisClaim
	for rows.Next() {
		var c HypothesisClaim
		if err := rows.Scan(&c.ID, &c.CallID, &c.Text, &c.Confidence, &c.PhoneNumber, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan hypothesis claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
