package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/diligencelabs/dialer/internal/events"
	"github.com/diligencelabs/dialer/internal/extractor"
	"github.com/diligencelabs/dialer/internal/llm"
	"github.com/diligencelabs/dialer/internal/store"
)

// minSourceCalls is how many distinct calls must contribute claims before a
// verdict is attempted. Three claims from one respondent are one opinion,
// not triangulation.
const minSourceCalls = 3

// Triangulate judges a hypothesis against its accumulated claims and commits
// the verdict. The conditional resolve closes the race between concurrent
// triggers: the loser sees applied=false and skips.
func (p *Pipeline) Triangulate(ctx context.Context, ev events.ValidateEvent) Result {
	hypID, err := uuid.Parse(ev.HypothesisID)
	if err != nil {
		return fail(fmt.Errorf("bad hypothesis id %q: %w", ev.HypothesisID, err))
	}

	hyp, err := p.store.GetHypothesis(ctx, hypID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fail(err)
		}
		return retry(err)
	}
	if hyp.Status != store.HypothesisPending {
		return skip("hypothesis already resolved")
	}

	hypClaims, err := p.store.ClaimsForHypothesis(ctx, hypID)
	if err != nil {
		return retry(err)
	}
	if len(hypClaims) < minClaimsForTriangulation {
		return skip(fmt.Sprintf("%d claims, need %d", len(hypClaims), minClaimsForTriangulation))
	}

	sources, err := p.store.DistinctSourceCalls(ctx, hypID)
	if err != nil {
		return retry(err)
	}
	if sources < minSourceCalls {
		return skip(fmt.Sprintf("%d source calls, need %d", sources, minSourceCalls))
	}

	verdict, err := p.analyst.Triangulate(ctx, hyp.Question, hypClaims)
	if err != nil {
		if errors.Is(err, extractor.ErrMalformedVerdict) {
			return fail(err)
		}
		if llm.Retriable(err) {
			return retry(err)
		}
		return fail(err)
	}

	applied, err := p.store.ResolveHypothesis(ctx, hypID, verdict.Status, verdict.Conclusion)
	if err != nil {
		return retry(err)
	}
	if !applied {
		return skip("hypothesis resolved by a concurrent run")
	}

	p.logger.Info("hypothesis resolved",
		"hypothesis_id", hypID,
		"status", verdict.Status,
		"consistency", verdict.ConsistencyScore,
		"sources", sources)
	return done()
}
