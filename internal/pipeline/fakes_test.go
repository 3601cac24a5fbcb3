package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/diligencelabs/dialer/internal/claims"
	"github.com/diligencelabs/dialer/internal/extractor"
	"github.com/diligencelabs/dialer/internal/speech"
	"github.com/diligencelabs/dialer/internal/store"
	"github.com/diligencelabs/dialer/internal/telephony"
)

// fakeStore is an in-memory Datastore mirroring the production semantics the
// stages depend on: CAS transitions, idempotency guards and the conditional
// hypothesis resolve.
type fakeStore struct {
	mu sync.Mutex

	calls      map[uuid.UUID]*store.Call
	campaigns  map[uuid.UUID]*store.Campaign
	hypotheses map[uuid.UUID]*store.Hypothesis

	transcripts map[uuid.UUID]string
	utterances  map[uuid.UUID][]store.Utterance
	claims      []store.ClaimRecord

	redacted []uuid.UUID
	failed   []uuid.UUID

	saveTranscriptErr error
	resolveErr        error
	insertClaimsErr   error
	setSessionErrs    []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		calls:       map[uuid.UUID]*store.Call{},
		campaigns:   map[uuid.UUID]*store.Campaign{},
		hypotheses:  map[uuid.UUID]*store.Hypothesis{},
		transcripts: map[uuid.UUID]string{},
		utterances:  map[uuid.UUID][]store.Utterance{},
	}
}

func (f *fakeStore) GetCall(_ context.Context, id uuid.UUID) (*store.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return nil, fmt.Errorf("get call %s: %w", id, pgx.ErrNoRows)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetCampaign(_ context.Context, id uuid.UUID) (*store.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("get campaign %s: %w", id, pgx.ErrNoRows)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) MarkRinging(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok || c.Status != store.CallQueued {
		return false, nil
	}
	c.Status = store.CallRinging
	return true, nil
}

func (f *fakeStore) SetProviderSession(_ context.Context, id uuid.UUID, sid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.setSessionErrs) > 0 {
		err := f.setSessionErrs[0]
		f.setSessionErrs = f.setSessionErrs[1:]
		if err != nil {
			return false, err
		}
	}
	c, ok := f.calls[id]
	if !ok || c.ProviderSID != nil {
		return false, nil
	}
	c.ProviderSID = &sid
	c.Status = store.CallInProgress
	return true, nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	if c, ok := f.calls[id]; ok && !c.Status.Terminal() {
		c.Status = store.CallFailed
	}
	return nil
}

func (f *fakeStore) HasTranscript(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.transcripts[id]
	return ok && len(f.utterances[id]) > 0, nil
}

func (f *fakeStore) SaveTranscript(_ context.Context, id uuid.UUID, transcript, recordingURL, recordingDualURL string, utterances []store.Utterance) error {
	if f.saveTranscriptErr != nil {
		return f.saveTranscriptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[id] = transcript
	f.utterances[id] = utterances
	if c, ok := f.calls[id]; ok {
		c.Transcript = &transcript
		c.RecordingURL = &recordingURL
	}
	return nil
}

func (f *fakeStore) OpenHypotheses(_ context.Context, campaignID uuid.UUID) ([]store.Hypothesis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Hypothesis
	for _, h := range f.hypotheses {
		if h.CampaignID == campaignID && h.Status == store.HypothesisPending {
			out = append(out, *h)
		}
	}
	return out, nil
}

// InsertClaims mirrors the transactional batch write: on failure nothing is
// visible.
func (f *fakeStore) InsertClaims(_ context.Context, recs []store.ClaimRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertClaimsErr != nil {
		return f.insertClaimsErr
	}
	for _, rec := range recs {
		rec.ID = uuid.New()
		f.claims = append(f.claims, rec)
	}
	return nil
}

func (f *fakeStore) CountClaimsForCall(_ context.Context, callID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.claims {
		if c.CallID == callID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) PendingHypothesesAtThreshold(_ context.Context, campaignID uuid.UUID, minClaims int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[uuid.UUID]int{}
	for _, c := range f.claims {
		if c.HypothesisID != nil {
			counts[*c.HypothesisID]++
		}
	}
	var out []uuid.UUID
	for id, n := range counts {
		h, ok := f.hypotheses[id]
		if ok && h.CampaignID == campaignID && h.Status == store.HypothesisPending && n >= minClaims {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) GetHypothesis(_ context.Context, id uuid.UUID) (*store.Hypothesis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hypotheses[id]
	if !ok {
		return nil, fmt.Errorf("get hypothesis %s: %w", id, pgx.ErrNoRows)
	}
	cp := *h
	return &cp, nil
}

func (f *fakeStore) ClaimsForHypothesis(_ context.Context, hypothesisID uuid.UUID) ([]store.HypothesisClaim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.HypothesisClaim
	for _, c := range f.claims {
		if c.HypothesisID != nil && *c.HypothesisID == hypothesisID {
			out = append(out, store.HypothesisClaim{
				ID:         c.ID,
				CallID:     c.CallID,
				Text:       c.Text,
				Confidence: c.Confidence,
			})
		}
	}
	return out, nil
}

func (f *fakeStore) DistinctSourceCalls(_ context.Context, hypothesisID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	for _, c := range f.claims {
		if c.HypothesisID != nil && *c.HypothesisID == hypothesisID {
			seen[c.CallID] = true
		}
	}
	return len(seen), nil
}

func (f *fakeStore) ResolveHypothesis(_ context.Context, id uuid.UUID, status store.HypothesisStatus, conclusion string) (bool, error) {
	if f.resolveErr != nil {
		return false, f.resolveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hypotheses[id]
	if !ok || h.Status != store.HypothesisPending {
		return false, nil
	}
	h.Status = status
	h.Conclusion = &conclusion
	if status == store.HypothesisValidated {
		for i := range f.claims {
			if f.claims[i].HypothesisID != nil && *f.claims[i].HypothesisID == id {
				f.claims[i].Validated = true
			}
		}
	}
	return true, nil
}

func (f *fakeStore) RedactCall(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redacted = append(f.redacted, id)
	delete(f.transcripts, id)
	delete(f.utterances, id)
	kept := f.claims[:0]
	for _, c := range f.claims {
		if c.CallID != id {
			kept = append(kept, c)
		}
	}
	f.claims = kept
	return nil
}

type fakeDialer struct {
	mu         sync.Mutex
	sid        string
	createErrs []error
	createdTo  []string
	lastParams telephony.CallParams

	deleted   []string
	deleteErr error
}

func (d *fakeDialer) CreateCall(_ context.Context, p telephony.CallParams) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.createErrs) > 0 {
		err := d.createErrs[0]
		d.createErrs = d.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	d.createdTo = append(d.createdTo, p.To)
	d.lastParams = p
	if d.sid == "" {
		d.sid = "CA-fake"
	}
	return d.sid, nil
}

func (d *fakeDialer) DeleteRecordings(_ context.Context, callSID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleteErr != nil {
		return d.deleteErr
	}
	d.deleted = append(d.deleted, callSID)
	return nil
}

type fakeTranscriber struct {
	result    *speech.Transcription
	err       error
	lastAudio []byte
}

func (t *fakeTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (*speech.Transcription, error) {
	t.lastAudio = audio
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

type fakeAnalyst struct {
	extractResp *claims.ExtractionResponse
	extractRaw  string
	extractErr  error

	verdict      *extractor.Verdict
	verdictErr   error
	triangulated int
}

func (a *fakeAnalyst) ExtractClaims(_ context.Context, _ string, _ []store.Hypothesis, _ string) (*claims.ExtractionResponse, string, error) {
	if a.extractErr != nil {
		return nil, a.extractRaw, a.extractErr
	}
	return a.extractResp, a.extractRaw, nil
}

func (a *fakeAnalyst) Triangulate(_ context.Context, _ string, _ []store.HypothesisClaim) (*extractor.Verdict, error) {
	a.triangulated++
	if a.verdictErr != nil {
		return nil, a.verdictErr
	}
	return a.verdict, nil
}

type fakeRetriever struct {
	context string
	err     error
}

func (r *fakeRetriever) Context(_ context.Context, _, _ string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.context, nil
}

type published struct {
	Subject string
	Data    any
}

type fakeBus struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (b *fakeBus) Publish(subject string, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, published{subject, data})
	return nil
}

func (b *fakeBus) all() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]published, len(b.events))
	copy(out, b.events)
	return out
}

type memorySink struct {
	mu       sync.Mutex
	failures []claims.ParseFailure
}

func (s *memorySink) RecordParseFailure(_ context.Context, f claims.ParseFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture bundles a pipeline with all its fakes.
type fixture struct {
	store     *fakeStore
	dialer    *fakeDialer
	speech    *fakeTranscriber
	analyst   *fakeAnalyst
	retriever *fakeRetriever
	bus       *fakeBus
	sink      *memorySink
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newFakeStore(),
		dialer:    &fakeDialer{},
		speech:    &fakeTranscriber{},
		analyst:   &fakeAnalyst{},
		retriever: &fakeRetriever{},
		bus:       &fakeBus{},
		sink:      &memorySink{},
	}
	failures := claims.NewFailureLog(f.sink, testLogger())
	f.pipeline = New(f.store, f.dialer, f.speech, f.analyst, f.retriever, f.bus, failures, Options{
		PublicBaseURL:             "https://app.example.com",
		FromNumber:                "+15559990000",
		CallsPerMinutePerCampaign: 600,
		MaxPlacementAttempts:      3,
		PlacementBaseDelay:        time.Millisecond,
	}, testLogger())
	return f
}

func (f *fixture) addCampaign(status store.CampaignStatus) uuid.UUID {
	id := uuid.New()
	f.store.campaigns[id] = &store.Campaign{
		ID:       id,
		Name:     "Retail Channel Check",
		Category: "Retail",
		Status:   status,
	}
	return id
}

func (f *fixture) addCall(campaignID uuid.UUID, status store.CallStatus) uuid.UUID {
	id := uuid.New()
	f.store.calls[id] = &store.Call{
		ID:          id,
		CampaignID:  campaignID,
		PhoneNumber: "+15550001111",
		Status:      status,
	}
	return id
}

func (f *fixture) addHypothesis(campaignID uuid.UUID, status store.HypothesisStatus) uuid.UUID {
	id := uuid.New()
	f.store.hypotheses[id] = &store.Hypothesis{
		ID:         id,
		CampaignID: campaignID,
		Question:   "Are prices rising?",
		Status:     status,
	}
	return id
}

func (f *fixture) addClaim(callID, hypothesisID uuid.UUID, confidence float64) {
	f.store.claims = append(f.store.claims, store.ClaimRecord{
		ID:           uuid.New(),
		CallID:       callID,
		HypothesisID: &hypothesisID,
		Text:         "PRICE: 4.99 USD",
		Confidence:   confidence,
	})
}
