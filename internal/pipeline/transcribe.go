package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/diligencelabs/dialer/internal/events"
	"github.com/diligencelabs/dialer/internal/speech"
	"github.com/diligencelabs/dialer/internal/store"
)

// Transcribe downloads a finished recording, runs speech recognition,
// segments the words into speaker turns and persists the transcript. A call
// that already has a transcript only re-emits the extraction trigger, so a
// crash between persisting and publishing cannot strand the call.
func (p *Pipeline) Transcribe(ctx context.Context, ev events.TranscribeEvent) Result {
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
	if call.ConsentGiven != nil && !*call.ConsentGiven {
		return skip("consent denied")
	}

	has, err := p.store.HasTranscript(ctx, callID)
	if err != nil {
		return retry(err)
	}
	if has {
		if err := p.emitExtract(call); err != nil {
			return retry(err)
		}
		return skip("transcript exists")
	}

	// Dual-channel audio diarizes better when available.
	audioURL := ev.RecordingURL
	if ev.RecordingDualURL != "" {
		audioURL = ev.RecordingDualURL
	}

	audio, err := p.downloadRecording(ctx, audioURL)
	if err != nil {
		if errors.Is(err, errRecordingTooLarge) || errors.Is(err, errRecordingMissing) {
			return fail(err)
		}
		return retry(err)
	}

	tr, err := p.speech.Transcribe(ctx, audio, "recording.mp3")
	if err != nil {
		if speech.Unrecoverable(err) {
			return fail(err)
		}
		return retry(err)
	}
	if len(tr.Words) == 0 {
		return fail(fmt.Errorf("transcription produced no word timestamps"))
	}

	turns := speech.Segment(tr.Words)
	utterances := make([]store.Utterance, 0, len(turns))
	for _, turn := range turns {
		utterances = append(utterances, store.Utterance{
			CallID:     callID,
			Speaker:    store.Speaker(turn.Speaker),
			Text:       turn.Text,
			StartSec:   turn.StartSec,
			Confidence: turn.Confidence,
		})
	}

	if err := p.store.SaveTranscript(ctx, callID, tr.Text, ev.RecordingURL, ev.RecordingDualURL, utterances); err != nil {
		return retry(err)
	}
	p.logger.Info("transcript saved", "call_id", callID, "utterances", len(utterances))

	call.Transcript = &tr.Text
	if err := p.emitExtract(call); err != nil {
		return retry(err)
	}
	return done()
}

func (p *Pipeline) emitExtract(call *store.Call) error {
	transcript := ""
	if call.Transcript != nil {
		transcript = *call.Transcript
	}
	return p.bus.Publish(events.SubjectExtract, events.ExtractEvent{
		CallID:     call.ID.String(),
		CampaignID: call.CampaignID.String(),
		Transcript: transcript,
	})
}

var (
	errRecordingTooLarge = errors.New("recording exceeds size limit")
	errRecordingMissing  = errors.New("recording not found")
)

func (p *Pipeline) downloadRecording(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("download recording: %w", errRecordingMissing)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download recording: status %d", resp.StatusCode)
	}

	// Read one byte past the cap to tell "exactly at the limit" from "over".
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxRecordingBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	if int64(len(body)) > p.opts.MaxRecordingBytes {
		return nil, errRecordingTooLarge
	}
	return body, nil
}
