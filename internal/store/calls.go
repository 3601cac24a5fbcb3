package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CallStatus string

const (
	CallQueued     CallStatus = "QUEUED"
	CallRinging    CallStatus = "RINGING"
	CallInProgress CallStatus = "IN_PROGRESS"
	CallCompleted  CallStatus = "COMPLETED"
	CallFailed     CallStatus = "FAILED"
	CallNoAnswer   CallStatus = "NO_ANSWER"
)

// Terminal reports whether a status ends the call lifecycle.
func (s CallStatus) Terminal() bool {
	return s == CallCompleted || s == CallFailed || s == CallNoAnswer
}

type Speaker string

const (
	SpeakerAI    Speaker = "AI"
	SpeakerHuman Speaker = "HUMAN"
)

// Call is one phone interview attempt. The orchestrator owns the lifecycle
// fields; later stages only extend it with transcript and recording data.
type Call struct {
	ID               uuid.UUID
	CampaignID       uuid.UUID
	PhoneNumber      string
	Status           CallStatus
	ProviderSID      *string
	ConsentGiven     *bool
	RecordingURL     *string
	RecordingDualURL *string
	DurationSec      *int
	Transcript       *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Utterance is one speaker turn within a call's transcript.
type Utterance struct {
	CallID     uuid.UUID
	Speaker    Speaker
	Text       string
	StartSec   float64
	Confidence float64
}

const callColumns = `id, campaign_id, phone_number, status, provider_sid, consent_given,
	recording_url, recording_dual_url, duration_sec, transcript, started_at, completed_at`

func (s *Store) GetCall(ctx context.Context, id uuid.UUID) (*Call, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM calls WHERE id = $1`, id)

	var c Call
	err := row.Scan(&c.ID, &c.CampaignID, &c.PhoneNumber, &c.Status, &c.ProviderSID, &c.ConsentGiven,
		&c.RecordingURL, &c.RecordingDualURL, &c.DurationSec, &c.Transcript, &c.StartedAt, &c.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("get call %s: %w", id, err)
	}
	return &c, nil
}

// CreateCall inserts a new QUEUED call for a campaign.
func (s *Store) CreateCall(ctx context.Context, campaignID uuid.UUID, phoneNumber string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calls (id, campaign_id, phone_number, status, created_at)
		VALUES ($1, $2, $3, 'QUEUED', now())`,
		id, campaignID, phoneNumber,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert call: %w", err)
	}
	return id, nil
}

// MarkRinging transitions a call from QUEUED to RINGING and stamps startedAt.
// Returns false if the call was not in QUEUED.
func (s *Store) MarkRinging(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calls SET status = 'RINGING', started_at = now()
		WHERE id = $1 AND status = 'QUEUED'`, id)
	if err != nil {
		return false, fmt.Errorf("mark ringing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetProviderSession records the telephony session id and moves the call to
// IN_PROGRESS. The session id is written at most once: a call that already
// has one is left untouched and false is returned.
func (s *Store) SetProviderSession(ctx context.Context, id uuid.UUID, providerSID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calls SET provider_sid = $1, status = 'IN_PROGRESS'
		WHERE id = $2 AND provider_sid IS NULL`, providerSID, id)
	if err != nil {
		return false, fmt.Errorf("set provider session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// statusPreconditions lists the statuses a call may be in for a transition
// into the given status to be legal. Transitions are monotonic: nothing moves
// out of a terminal state, and a call never goes backwards.
func statusPreconditions(next CallStatus) []string {
	switch next {
	case CallRinging:
		return []string{"QUEUED"}
	case CallInProgress:
		return []string{"QUEUED", "RINGING"}
	case CallCompleted, CallFailed, CallNoAnswer:
		return []string{"QUEUED", "RINGING", "IN_PROGRESS"}
	default:
		return nil
	}
}

// ApplyProviderStatus applies a status reported by a telephony callback,
// guarded by the monotonic transition rule. duration may be nil. CompletedAt
// is stamped only on a terminal success. Returns false when the precondition
// did not hold (stale or out-of-order webhook).
func (s *Store) ApplyProviderStatus(ctx context.Context, id uuid.UUID, next CallStatus, durationSec *int) (bool, error) {
	allowed := statusPreconditions(next)
	if len(allowed) == 0 {
		return false, nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE calls SET
			status = $1,
			duration_sec = COALESCE($2, duration_sec),
			completed_at = CASE WHEN $1 = 'COMPLETED' THEN now() ELSE completed_at END
		WHERE id = $3 AND status = ANY($4)`,
		next, durationSec, id, allowed)
	if err != nil {
		return false, fmt.Errorf("apply provider status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed forces a call into FAILED regardless of prior non-terminal state.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calls SET status = 'FAILED'
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED', 'NO_ANSWER')`, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// SetConsent records the consent decision for a call.
func (s *Store) SetConsent(ctx context.Context, id uuid.UUID, given bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE calls SET consent_given = $1 WHERE id = $2`, given, id)
	if err != nil {
		return fmt.Errorf("set consent: %w", err)
	}
	return nil
}

// HasTranscript reports whether a call already has both a transcript and at
// least one persisted utterance. This is the transcription stage's
// idempotency guard.
func (s *Store) HasTranscript(ctx context.Context, id uuid.UUID) (bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT c.transcript IS NOT NULL AND EXISTS (
			SELECT 1 FROM utterances u WHERE u.call_id = c.id
		)
		FROM calls c WHERE c.id = $1`, id)

	var has bool
	if err := row.Scan(&has); err != nil {
		return false, fmt.Errorf("has transcript: %w", err)
	}
	return has, nil
}

// SaveTranscript persists the transcript text, recording locators and all
// utterances in a single transaction, so a crash cannot leave a transcript
// without utterances or vice versa. Utterance inserts are duplicate-tolerant
// so the transcription stage can be retried safely.
func (s *Store) SaveTranscript(ctx context.Context, id uuid.UUID, transcript, recordingURL, recordingDualURL string, utterances []Utterance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dual *string
	if recordingDualURL != "" {
		dual = &recordingDualURL
	}
	_, err = tx.Exec(ctx, `
		UPDATE calls SET transcript = $1, recording_url = $2, recording_dual_url = $3
		WHERE id = $4`,
		transcript, recordingURL, dual, id)
	if err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}

	for _, u := range utterances {
		_, err = tx.Exec(ctx, `
			INSERT INTO utterances (id, call_id, speaker, text, start_sec, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (call_id, speaker, start_sec) DO NOTHING`,
			uuid.New(), id, u.Speaker, u.Text, u.StartSec, u.Confidence)
		if err != nil {
			return fmt.Errorf("insert utterance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// redactedTranscript is the literal left in place of redacted content.
const redactedTranscript = "[REDACTED - No consent given]"

// RedactCall removes everything derived from a call that lacks consent:
// recording locators, transcript, utterances and claims, atomically.
func (s *Store) RedactCall(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE calls SET recording_url = NULL, recording_dual_url = NULL, transcript = $1
		WHERE id = $2`,
		redactedTranscript, id)
	if err != nil {
		return fmt.Errorf("redact call row: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM utterances WHERE call_id = $1`, id); err != nil {
		return fmt.Errorf("delete utterances: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM claims WHERE call_id = $1`, id); err != nil {
		return fmt.Errorf("delete claims: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
