package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/diligencelabs/dialer/internal/events"
)

// Redact destroys everything derived from a call without consent: the
// provider-side recordings first, then the local transcript, utterances and
// claims. Provider deletion runs before the local wipe so a failure leaves
// the call still marked for redaction rather than half-cleaned.
func (p *Pipeline) Redact(ctx context.Context, ev events.RedactEvent) Result {
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
	if call.ConsentGiven == nil || *call.ConsentGiven {
		return skip("call has consent")
	}

	if call.ProviderSID != nil {
		if err := p.dialer.DeleteRecordings(ctx, *call.ProviderSID); err != nil {
			return retry(fmt.Errorf("delete provider recordings: %w", err))
		}
	}

	if err := p.store.RedactCall(ctx, callID); err != nil {
		return retry(err)
	}

	p.logger.Info("call redacted", "call_id", callID)
	return done()
}
