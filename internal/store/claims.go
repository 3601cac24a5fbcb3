package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/diligencelabs/dialer/internal/claims"
)

// ClaimRecord is the persisted form of an extracted claim: the structured
// fields plus the display summary and evidence locator computed at save time.
type ClaimRecord struct {
	ID           uuid.UUID
	CallID       uuid.UUID
	HypothesisID *uuid.UUID
	Field        claims.FieldType
	ValueNumber  *float64
	ValueText    *string
	Unit         *string
	SKUID        *string
	GeoCode      *string
	StartSec     float64
	EndSec       *float64
	Confidence   float64
	Validated    bool
	Text         string
	EvidenceURL  string
	RawText      *string
	Context      *string
	CreatedAt    time.Time
}

// InsertClaims persists an extraction batch in one transaction, every claim
// with validated=false. The batch lands whole or not at all: extraction
// replays are guarded by claim count, so a partially visible batch would make
// the lost remainder unrecoverable.
func (s *Store) InsertClaims(ctx context.Context, recs []ClaimRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range recs {
		_, err := tx.Exec(ctx, `
			INSERT INTO claims (id, call_id, hypothesis_id, field, value_number, value_text, unit,
				sku_id, geo_code, start_sec, end_sec, confidence, validated, text, evidence_url,
				raw_text, context, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false, $13, $14, $15, $16, now())`,
			uuid.New(), rec.CallID, rec.HypothesisID, rec.Field, rec.ValueNumber, rec.ValueText, rec.Unit,
			rec.SKUID, rec.GeoCode, rec.StartSec, rec.EndSec, rec.Confidence, rec.Text, rec.EvidenceURL,
			rec.RawText, rec.Context)
		if err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CountClaimsForCall reports how many claims a call has already produced.
// Used as the extraction stage's idempotency guard.
func (s *Store) CountClaimsForCall(ctx context.Context, callID uuid.UUID) (int, error) {
	row := s.pool.QueryRow(ctx, `SELECT count(*) FROM claims WHERE call_id = $1`, callID)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count claims for call: %w", err)
	}
	return n, nil
}

// DistinctSourceCalls counts how many different calls contributed claims to a
// hypothesis. Triangulation requires independent sources, not just claims.
func (s *Store) DistinctSourceCalls(ctx context.Context, hypothesisID uuid.UUID) (int, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT count(DISTINCT call_id) FROM claims WHERE hypothesis_id = $1`, hypothesisID)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("distinct source calls: %w", err)
	}
	return n, nil
}

// ExportableClaim is a claim flattened for CSV/JSON export.
type ExportableClaim struct {
	ClaimText          string     `json:"claimText"`
	HypothesisQuestion string     `json:"hypothesisQuestion"`
	HypothesisStatus   string     `json:"hypothesisStatus"`
	Confidence         float64    `json:"confidence"`
	Validated          bool       `json:"validated"`
	PhoneNumber        string     `json:"phoneNumber"`
	CallCompletedAt    *time.Time `json:"callCompletedAt"`
	EvidenceURL        string     `json:"evidenceUrl"`
	StartSec           float64    `json:"timestamp"`
}

// ExportableClaims returns all claims for a campaign, newest first,
// optionally restricted to validated ones.
func (s *Store) ExportableClaims(ctx context.Context, campaignID uuid.UUID, validatedOnly bool) ([]ExportableClaim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.text, COALESCE(h.question, 'N/A'), COALESCE(h.status, 'N/A'),
			c.confidence, c.validated, ca.phone_number, ca.completed_at,
			c.evidence_url, c.start_sec
		FROM claims c
		JOIN calls ca ON ca.id = c.call_id
		LEFT JOIN hypotheses h ON h.id = c.hypothesis_id
		WHERE ca.campaign_id = $1 AND (NOT $2 OR c.validated)
		ORDER BY c.created_at DESC`, campaignID, validatedOnly)
	if err != nil {
		return nil, fmt.Errorf("exportable claims: %w", err)
	}
	defer rows.Close()

	var out []ExportableClaim
	for rows.Next() {
		var c ExportableClaim
		if err := rows.Scan(&c.ClaimText, &c.HypothesisQuestion, &c.HypothesisStatus,
			&c.Confidence, &c.Validated, &c.PhoneNumber, &c.CallCompletedAt,
			&c.EvidenceURL, &c.StartSec); err != nil {
			return nil, fmt.Errorf("scan exportable claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordParseFailure persists a claim-parse failure for operator review.
// Implements claims.FailureSink.
func (s *Store) RecordParseFailure(ctx context.Context, f claims.ParseFailure) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parse_failures (id, call_id, raw_output, error, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), f.CallID, f.RawOutput, f.Error, f.Time)
	if err != nil {
		return fmt.Errorf("insert parse failure: %w", err)
	}
	return nil
}
