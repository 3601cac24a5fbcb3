package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/diligencelabs/dialer/internal/claims"
	"github.com/diligencelabs/dialer/internal/events"
	"github.com/diligencelabs/dialer/internal/llm"
	"github.com/diligencelabs/dialer/internal/store"
)

// minClaimsForTriangulation is the claim count at which a hypothesis becomes
// eligible for a triangulation pass.
const minClaimsForTriangulation = 3

// Extract runs claim extraction over a call transcript, persists the claims
// and nudges any hypothesis that crossed the evidence threshold. Calls that
// already produced claims are skipped so replays cannot duplicate evidence.
func (p *Pipeline) Extract(ctx context.Context, ev events.ExtractEvent) Result {
	callID, err := uuid.Parse(ev.CallID)
	if err != nil {
		return fail(fmt.Errorf("bad call id %q: %w", ev.CallID, err))
	}
	campaignID, err := uuid.Parse(ev.CampaignID)
	if err != nil {
		return fail(fmt.Errorf("bad campaign id %q: %w", ev.CampaignID, err))
	}
	if ev.Transcript == "" {
		return skip("empty transcript")
	}

	call, err := p.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fail(err)
		}
		return retry(err)
	}
	if call.ConsentGiven != nil && !*call.ConsentGiven {
		return skip("consent denied")
	}

	existing, err := p.store.CountClaimsForCall(ctx, callID)
	if err != nil {
		return retry(err)
	}
	if existing > 0 {
		// The claims are in but the previous run may have died before the
		// threshold check, so re-run it rather than lose a trigger.
		if err := p.nudgeTriangulation(ctx, campaignID); err != nil {
			return retry(err)
		}
		return skip("claims already extracted")
	}

	campaign, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fail(err)
		}
		return retry(err)
	}
	hypotheses, err := p.store.OpenHypotheses(ctx, campaignID)
	if err != nil {
		return retry(err)
	}

	checklistContext, err := p.rag.Context(ctx, campaign.Category, ev.Transcript)
	if err != nil {
		// Guidance is an enhancement; extraction proceeds without it.
		p.logger.Warn("checklist context unavailable", "campaign_id", campaignID, "error", err)
		checklistContext = ""
	}

	resp, raw, err := p.analyst.ExtractClaims(ctx, checklistContext, hypotheses, ev.Transcript)
	if err != nil {
		if raw != "" {
			// The completion succeeded but its output did not parse. The
			// model is nondeterministic, so a fresh attempt may produce
			// parseable output.
			p.failures.Record(ctx, callID, raw, err)
			return retry(err)
		}
		if llm.Retriable(err) {
			return retry(err)
		}
		return fail(err)
	}

	known := map[string]bool{}
	for _, h := range hypotheses {
		known[h.ID.String()] = true
	}

	recs := make([]store.ClaimRecord, 0, len(resp.Claims))
	for _, c := range resp.Claims {
		recs = append(recs, claimRecord(callID, c, call.RecordingURL, known))
	}
	if err := p.store.InsertClaims(ctx, recs); err != nil {
		return retry(err)
	}
	p.logger.Info("claims persisted", "call_id", callID, "count", len(recs))

	if err := p.nudgeTriangulation(ctx, campaignID); err != nil {
		return retry(err)
	}
	return done()
}

// nudgeTriangulation emits a validate event for every pending hypothesis in
// the campaign that has accumulated enough claims.
func (p *Pipeline) nudgeTriangulation(ctx context.Context, campaignID uuid.UUID) error {
	ready, err := p.store.PendingHypothesesAtThreshold(ctx, campaignID, minClaimsForTriangulation)
	if err != nil {
		return err
	}
	for _, hypID := range ready {
		err := p.bus.Publish(events.SubjectValidate, events.ValidateEvent{
			HypothesisID: hypID.String(),
			CampaignID:   campaignID.String(),
		})
		if err != nil {
			p.logger.Error("publish validate event", "hypothesis_id", hypID, "error", err)
		}
	}
	return nil
}

// claimRecord converts a parsed claim into its persisted form, attaching the
// display summary and the evidence locator. Hypothesis references the model
// invented are dropped rather than stored.
func claimRecord(callID uuid.UUID, c claims.Claim, recordingURL *string, knownHypotheses map[string]bool) store.ClaimRecord {
	rec := store.ClaimRecord{
		CallID:      callID,
		Field:       c.Field,
		ValueNumber: c.ValueNumber,
		StartSec:    c.StartSec,
		EndSec:      c.EndSec,
		Confidence:  c.Confidence,
		Text:        claimSummary(c),
	}
	if c.ValueText != "" {
		rec.ValueText = &c.ValueText
	}
	if c.Unit != "" {
		u := string(c.Unit)
		rec.Unit = &u
	}
	if c.SKUID != "" {
		rec.SKUID = &c.SKUID
	}
	if c.GeoCode != "" {
		rec.GeoCode = &c.GeoCode
	}
	if c.RawText != "" {
		rec.RawText = &c.RawText
	}
	if c.Context != "" {
		rec.Context = &c.Context
	}
	if c.HypothesisID != "" && knownHypotheses[c.HypothesisID] {
		if id, err := uuid.Parse(c.HypothesisID); err == nil {
			rec.HypothesisID = &id
		}
	}
	if recordingURL != nil {
		rec.EvidenceURL = evidenceURL(*recordingURL, c.StartSec)
	}
	return rec
}

// claimSummary renders the one-line display form of a claim.
func claimSummary(c claims.Claim) string {
	s := string(c.Field) + ":"
	if c.ValueNumber != nil {
		s += fmt.Sprintf(" %g", *c.ValueNumber)
		if c.Unit != "" && c.Unit != claims.UnitNone {
			s += " " + string(c.Unit)
		}
	}
	if c.ValueText != "" {
		s += " " + c.ValueText
	}
	if c.SKUID != "" {
		s += fmt.Sprintf(" (SKU %s)", c.SKUID)
	}
	return s
}

// evidenceURL points at the moment in the recording the claim was made.
func evidenceURL(recordingURL string, startSec float64) string {
	return fmt.Sprintf("%s#t=%d", recordingURL, int(math.Floor(startSec)))
}
