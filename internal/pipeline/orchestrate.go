package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/diligencelabs/dialer/internal/events"
	"github.com/diligencelabs/dialer/internal/store"
	"github.com/diligencelabs/dialer/internal/telephony"
)

// Orchestrate places the outbound call for a queued call record. A recorded
// provider session id is the placement guard: once it is set the call exists
// at the provider and every later invocation skips. A RINGING call without a
// session id is a placement that never recorded its session, and placing
// again is the recovery path.
func (p *Pipeline) Orchestrate(ctx context.Context, ev events.OrchestrateEvent) Result {
	callID, err := uuid.Parse(ev.CallID)
	if err != nil {
		return fail(fmt.Errorf("bad call id %q: %w", ev.CallID, err))
	}

	call, err := p.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fail(err)
		}
		return retry(err)
	}
	if call.ProviderSID != nil {
		return skip("call already placed")
	}
	if call.Status != store.CallQueued && call.Status != store.CallRinging {
		return skip(fmt.Sprintf("call is %s", call.Status))
	}

	campaign, err := p.store.GetCampaign(ctx, call.CampaignID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fail(err)
		}
		return retry(err)
	}
	if campaign.Status != store.CampaignActive {
		return skip(fmt.Sprintf("campaign is %s", campaign.Status))
	}

	if err := p.limiter(campaign.ID).Wait(ctx); err != nil {
		return retry(fmt.Errorf("rate limiter: %w", err))
	}

	if call.Status == store.CallQueued {
		won, err := p.store.MarkRinging(ctx, callID)
		if err != nil {
			return retry(err)
		}
		if !won {
			return skip("another run is placing this call")
		}
	}

	params := telephony.CallParams{
		To:                 call.PhoneNumber,
		From:               p.opts.FromNumber,
		VoiceURL:           p.callbackURL("voice", callID),
		StatusCallbackURL:  p.callbackURL("status", callID),
		RecordingStatusURL: p.callbackURL("recording", callID),
	}

	var providerSID string
	err = withBackoff(ctx, p.opts.MaxPlacementAttempts, p.opts.PlacementBaseDelay, placementRetriable, func() error {
		sid, err := p.dialer.CreateCall(ctx, params)
		if err != nil {
			return err
		}
		providerSID = sid
		return nil
	})
	if err != nil {
		p.logger.Error("call placement failed", "call_id", callID, "error", err)
		if markErr := p.store.MarkFailed(ctx, callID); markErr != nil {
			p.logger.Error("mark call failed", "call_id", callID, "error", markErr)
		}
		return fail(err)
	}

	// The provider call is live; losing the session id would orphan it, so
	// the write is retried here rather than left to a stage re-run that
	// would place a second call.
	err = withBackoff(ctx, p.opts.MaxPlacementAttempts, p.opts.PlacementBaseDelay,
		func(error) bool { return true },
		func() error {
			_, err := p.store.SetProviderSession(ctx, callID, providerSID)
			return err
		})
	if err != nil {
		p.logger.Error("persist provider session failed",
			"call_id", callID, "provider_sid", providerSID, "error", err)
		return retry(err)
	}

	p.logger.Info("call placed", "call_id", callID, "provider_sid", providerSID)
	return done()
}

// placementRetriable excludes bad-number rejections from placement retries.
func placementRetriable(err error) bool {
	var apiErr *telephony.APIError
	if errors.As(err, &apiErr) && apiErr.InvalidDestination() {
		return false
	}
	return true
}

func (p *Pipeline) callbackURL(endpoint string, callID uuid.UUID) string {
	return fmt.Sprintf("%s/webhooks/telephony/%s?callId=%s", p.opts.PublicBaseURL, endpoint, callID)
}
