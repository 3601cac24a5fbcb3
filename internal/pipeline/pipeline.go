// Package pipeline implements the call-processing stages: orchestration,
// transcription, claim extraction, triangulation and redaction. Stages hand
// off to each other through published events, never direct calls.
package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/diligencelabs/dialer/internal/claims"
	"github.com/diligencelabs/dialer/internal/extractor"
	"github.com/diligencelabs/dialer/internal/speech"
	"github.com/diligencelabs/dialer/internal/store"
	"github.com/diligencelabs/dialer/internal/telephony"
)

// Datastore is the slice of the store the pipeline needs.
type Datastore interface {
	GetCall(ctx context.Context, id uuid.UUID) (*store.Call, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*store.Campaign, error)
	MarkRinging(ctx context.Context, id uuid.UUID) (bool, error)
	SetProviderSession(ctx context.Context, id uuid.UUID, providerSID string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error

	HasTranscript(ctx context.Context, id uuid.UUID) (bool, error)
	SaveTranscript(ctx context.Context, id uuid.UUID, transcript, recordingURL, recordingDualURL string, utterances []store.Utterance) error

	OpenHypotheses(ctx context.Context, campaignID uuid.UUID) ([]store.Hypothesis, error)
	InsertClaims(ctx context.Context, recs []store.ClaimRecord) error
	CountClaimsForCall(ctx context.Context, callID uuid.UUID) (int, error)
	PendingHypothesesAtThreshold(ctx context.Context, campaignID uuid.UUID, minClaims int) ([]uuid.UUID, error)

	GetHypothesis(ctx context.Context, id uuid.UUID) (*store.Hypothesis, error)
	ClaimsForHypothesis(ctx context.Context, hypothesisID uuid.UUID) ([]store.HypothesisClaim, error)
	DistinctSourceCalls(ctx context.Context, hypothesisID uuid.UUID) (int, error)
	ResolveHypothesis(ctx context.Context, id uuid.UUID, status store.HypothesisStatus, conclusion string) (bool, error)

	RedactCall(ctx context.Context, id uuid.UUID) error
}

// Dialer places and cleans up provider calls.
type Dialer interface {
	CreateCall(ctx context.Context, p telephony.CallParams) (string, error)
	DeleteRecordings(ctx context.Context, callSID string) error
}

// Transcriber turns audio into a word-level transcription.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*speech.Transcription, error)
}

// Analyst runs the model stages over transcripts and claims.
type Analyst interface {
	ExtractClaims(ctx context.Context, checklistContext string, hypotheses []store.Hypothesis, transcript string) (*claims.ExtractionResponse, string, error)
	Triangulate(ctx context.Context, question string, hypClaims []store.HypothesisClaim) (*extractor.Verdict, error)
}

// ContextRetriever supplies checklist guidance for extraction prompts.
type ContextRetriever interface {
	Context(ctx context.Context, category, transcript string) (string, error)
}

// Publisher hands events to the next stage.
type Publisher interface {
	Publish(subject string, data any) error
}

// Options are the tunables the pipeline carries.
type Options struct {
	PublicBaseURL string
	FromNumber    string

	// CallsPerMinutePerCampaign throttles outbound placement per campaign.
	CallsPerMinutePerCampaign int

	// MaxPlacementAttempts bounds retries of the provider placement call
	// within one orchestration run.
	MaxPlacementAttempts int

	// PlacementBaseDelay is the first backoff step between placement
	// attempts.
	PlacementBaseDelay time.Duration

	// MaxRecordingBytes bounds recording downloads.
	MaxRecordingBytes int64
}

type Pipeline struct {
	store    Datastore
	dialer   Dialer
	speech   Transcriber
	analyst  Analyst
	rag      ContextRetriever
	bus      Publisher
	failures *claims.FailureLog
	logger   *slog.Logger
	opts     Options

	httpClient *http.Client

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

func New(ds Datastore, dialer Dialer, transcriber Transcriber, analyst Analyst, retriever ContextRetriever, bus Publisher, failures *claims.FailureLog, opts Options, logger *slog.Logger) *Pipeline {
	if opts.CallsPerMinutePerCampaign <= 0 {
		opts.CallsPerMinutePerCampaign = 5
	}
	if opts.MaxPlacementAttempts <= 0 {
		opts.MaxPlacementAttempts = 4
	}
	if opts.PlacementBaseDelay <= 0 {
		opts.PlacementBaseDelay = 2 * time.Second
	}
	if opts.MaxRecordingBytes <= 0 {
		opts.MaxRecordingBytes = 25 << 20
	}
	return &Pipeline{
		store:      ds,
		dialer:     dialer,
		speech:     transcriber,
		analyst:    analyst,
		rag:        retriever,
		bus:        bus,
		failures:   failures,
		logger:     logger,
		opts:       opts,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiters:   map[uuid.UUID]*rate.Limiter{},
	}
}

// limiter returns the per-campaign placement limiter, creating it on first
// use. The burst of 1 spaces calls evenly instead of front-loading a minute.
func (p *Pipeline) limiter(campaignID uuid.UUID) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[campaignID]
	if !ok {
		perMinute := float64(p.opts.CallsPerMinutePerCampaign)
		l = rate.NewLimiter(rate.Limit(perMinute/60.0), 1)
		p.limiters[campaignID] = l
	}
	return l
}
