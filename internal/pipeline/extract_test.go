package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/diligencelabs/dialer/internal/claims"
	"github.com/diligencelabs/dialer/internal/events"
	"github.com/diligencelabs/dialer/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

func extractEvent(callID, campaignID uuid.UUID) events.ExtractEvent {
	return events.ExtractEvent{
		CallID:     callID.String(),
		CampaignID: campaignID.String(),
		Transcript: "prices on eggs went up to four ninety nine",
	}
}

func TestExtract(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	recURL := "https://cdn.example.com/rec.mp3"
	f.store.calls[callID].RecordingURL = &recURL
	hypID := f.addHypothesis(campaignID, store.HypothesisPending)

	f.analyst.extractResp = &claims.ExtractionResponse{Claims: []claims.Claim{
		{
			Field:        claims.FieldPrice,
			ValueNumber:  floatPtr(4.99),
			Unit:         claims.UnitUSD,
			SKUID:        "EGGS-12",
			StartSec:     42.7,
			Confidence:   0.9,
			HypothesisID: hypID.String(),
		},
		{
			Field:      claims.FieldStockout,
			ValueText:  "eggs unavailable",
			StartSec:   60.1,
			Confidence: 0.7,
		},
	}}

	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Completed {
		t.Fatalf("disposition = %v (%v)", res.Disposition, res.Err)
	}

	if len(f.store.claims) != 2 {
		t.Fatalf("claims = %+v", f.store.claims)
	}
	first := f.store.claims[0]
	if first.Text != "PRICE: 4.99 USD (SKU EGGS-12)" {
		t.Errorf("summary = %q", first.Text)
	}
	if first.EvidenceURL != "https://cdn.example.com/rec.mp3#t=42" {
		t.Errorf("evidence url = %q", first.EvidenceURL)
	}
	if first.HypothesisID == nil || *first.HypothesisID != hypID {
		t.Errorf("hypothesis id = %v", first.HypothesisID)
	}
	if first.Validated {
		t.Error("claims must start unvalidated")
	}
	second := f.store.claims[1]
	if second.Text != "STOCKOUT: eggs unavailable" {
		t.Errorf("summary = %q", second.Text)
	}
	if second.HypothesisID != nil {
		t.Errorf("unattributed claim should have no hypothesis: %v", second.HypothesisID)
	}
}

func TestExtractReplayIsSkipped(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	hypID := f.addHypothesis(campaignID, store.HypothesisPending)
	f.addClaim(callID, hypID, 0.9)

	f.analyst.extractResp = &claims.ExtractionResponse{Claims: []claims.Claim{
		{Field: claims.FieldPrice, ValueNumber: floatPtr(1), StartSec: 0, Confidence: 0.5},
	}}

	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Skipped {
		t.Fatalf("disposition = %v", res.Disposition)
	}
	if len(f.store.claims) != 1 {
		t.Errorf("replay must not add claims: %d", len(f.store.claims))
	}
}

func TestExtractTriggersTriangulationAtThreshold(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	hypID := f.addHypothesis(campaignID, store.HypothesisPending)

	// Two prior calls already contributed claims.
	f.addClaim(f.addCall(campaignID, store.CallCompleted), hypID, 0.8)
	f.addClaim(f.addCall(campaignID, store.CallCompleted), hypID, 0.7)

	callID := f.addCall(campaignID, store.CallCompleted)
	f.analyst.extractResp = &claims.ExtractionResponse{Claims: []claims.Claim{
		{Field: claims.FieldPrice, ValueNumber: floatPtr(4.99), Unit: claims.UnitUSD,
			StartSec: 1, Confidence: 0.9, HypothesisID: hypID.String()},
	}}

	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Completed {
		t.Fatalf("disposition = %v (%v)", res.Disposition, res.Err)
	}

	evs := f.bus.all()
	if len(evs) != 1 || evs[0].Subject != events.SubjectValidate {
		t.Fatalf("published = %+v, want one validate event", evs)
	}
	ev := evs[0].Data.(events.ValidateEvent)
	if ev.HypothesisID != hypID.String() {
		t.Errorf("hypothesis id = %q", ev.HypothesisID)
	}
}

func TestExtractBelowThresholdNoTrigger(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	hypID := f.addHypothesis(campaignID, store.HypothesisPending)
	callID := f.addCall(campaignID, store.CallCompleted)

	f.analyst.extractResp = &claims.ExtractionResponse{Claims: []claims.Claim{
		{Field: claims.FieldPrice, ValueNumber: floatPtr(4.99), Unit: claims.UnitUSD,
			StartSec: 1, Confidence: 0.9, HypothesisID: hypID.String()},
	}}

	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Completed {
		t.Fatalf("disposition = %v (%v)", res.Disposition, res.Err)
	}
	if len(f.bus.all()) != 0 {
		t.Errorf("one claim must not trigger triangulation: %+v", f.bus.all())
	}
}

func TestExtractBatchWriteIsAtomic(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	hypID := f.addHypothesis(campaignID, store.HypothesisPending)

	resp := &claims.ExtractionResponse{Claims: []claims.Claim{
		{Field: claims.FieldPrice, ValueNumber: floatPtr(4.99), Unit: claims.UnitUSD,
			StartSec: 1, Confidence: 0.9, HypothesisID: hypID.String()},
		{Field: claims.FieldPrice, ValueNumber: floatPtr(5.49), Unit: claims.UnitUSD,
			StartSec: 30, Confidence: 0.8, HypothesisID: hypID.String()},
		{Field: claims.FieldPrice, ValueNumber: floatPtr(4.79), Unit: claims.UnitUSD,
			StartSec: 55, Confidence: 0.7, HypothesisID: hypID.String()},
	}}
	f.analyst.extractResp = resp
	f.store.insertClaimsErr = errors.New("connection reset")

	first := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if first.Disposition != Retriable {
		t.Fatalf("first = %v", first.Disposition)
	}
	if len(f.store.claims) != 0 {
		t.Fatalf("failed batch left %d claims visible, want 0", len(f.store.claims))
	}

	// The replay must not be fooled by a partial batch: nothing landed, so it
	// extracts again and the threshold trigger still fires.
	f.store.insertClaimsErr = nil
	second := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if second.Disposition != Completed {
		t.Fatalf("second = %v (%v)", second.Disposition, second.Err)
	}
	if len(f.store.claims) != 3 {
		t.Errorf("claims after replay = %d, want 3", len(f.store.claims))
	}
	evs := f.bus.all()
	if len(evs) != 1 || evs[0].Subject != events.SubjectValidate {
		t.Errorf("published = %+v, want one validate event", evs)
	}
}

func TestExtractReplayStillChecksThreshold(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	hypID := f.addHypothesis(campaignID, store.HypothesisPending)

	callID := f.addCall(campaignID, store.CallCompleted)
	f.addClaim(callID, hypID, 0.9)
	f.addClaim(f.addCall(campaignID, store.CallCompleted), hypID, 0.8)
	f.addClaim(f.addCall(campaignID, store.CallCompleted), hypID, 0.7)

	// The call's claims are in, so the stage skips, but a crash before the
	// previous run's threshold check must not lose the trigger.
	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Skipped {
		t.Fatalf("disposition = %v", res.Disposition)
	}
	evs := f.bus.all()
	if len(evs) != 1 || evs[0].Subject != events.SubjectValidate {
		t.Fatalf("published = %+v, want one validate event", evs)
	}
	if ev := evs[0].Data.(events.ValidateEvent); ev.HypothesisID != hypID.String() {
		t.Errorf("hypothesis id = %q", ev.HypothesisID)
	}
}

func TestExtractDropsInventedHypothesisReference(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)

	f.analyst.extractResp = &claims.ExtractionResponse{Claims: []claims.Claim{
		{Field: claims.FieldPrice, ValueNumber: floatPtr(4.99), Unit: claims.UnitUSD,
			StartSec: 1, Confidence: 0.9, HypothesisID: uuid.New().String()},
	}}

	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Completed {
		t.Fatalf("disposition = %v (%v)", res.Disposition, res.Err)
	}
	if f.store.claims[0].HypothesisID != nil {
		t.Error("reference to an unknown hypothesis must be dropped")
	}
}

func TestExtractParseFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)

	f.analyst.extractRaw = "I found no claims, sorry"
	f.analyst.extractErr = errors.New("parse failed even after repair")

	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Retriable {
		t.Fatalf("disposition = %v, a fresh completion may parse", res.Disposition)
	}
	if len(f.sink.failures) != 1 {
		t.Fatalf("failures = %+v, want one recorded", f.sink.failures)
	}
	rec := f.sink.failures[0]
	if rec.CallID != callID || rec.RawOutput != "I found no claims, sorry" {
		t.Errorf("failure record = %+v", rec)
	}
}

func TestExtractCompletionRateLimitIsRetriable(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	f.analyst.extractErr = &openai.APIError{HTTPStatusCode: 429}

	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Retriable {
		t.Fatalf("disposition = %v", res.Disposition)
	}
	if len(f.sink.failures) != 0 {
		t.Error("completion failure is not a parse failure")
	}
}

func TestExtractChecklistFailureDegrades(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	f.retriever.err = errors.New("vector store offline")
	f.analyst.extractResp = &claims.ExtractionResponse{Claims: []claims.Claim{
		{Field: claims.FieldOther, ValueText: "note", StartSec: 0, Confidence: 0.5},
	}}

	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Completed {
		t.Fatalf("checklist failure must not block extraction: %v (%v)", res.Disposition, res.Err)
	}
}

func TestExtractSkipsDeniedConsent(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	denied := false
	f.store.calls[callID].ConsentGiven = &denied

	res := f.pipeline.Extract(context.Background(), extractEvent(callID, campaignID))
	if res.Disposition != Skipped {
		t.Fatalf("disposition = %v", res.Disposition)
	}
	if len(f.store.claims) != 0 {
		t.Error("denied-consent call must not yield claims")
	}
}

func TestExtractEmptyTranscriptSkipped(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)

	res := f.pipeline.Extract(context.Background(), events.ExtractEvent{
		CallID:     callID.String(),
		CampaignID: campaignID.String(),
	})
	if res.Disposition != Skipped {
		t.Fatalf("disposition = %v", res.Disposition)
	}
}
