package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/diligencelabs/dialer/internal/events"
	"github.com/diligencelabs/dialer/internal/speech"
	"github.com/diligencelabs/dialer/internal/store"
)

func unsupportedAudioErr() error {
	return &openai.APIError{HTTPStatusCode: 415}
}

func recordingServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func interviewWords() []speech.Word {
	return []speech.Word{
		{Text: "any", Start: 0.0, End: 0.3, Confidence: 1.0},
		{Text: "stockouts", Start: 0.4, End: 0.9, Confidence: 1.0},
		// Long pause, respondent answers.
		{Text: "eggs", Start: 3.0, End: 3.4, Confidence: 1.0},
		{Text: "ran", Start: 3.5, End: 3.7, Confidence: 1.0},
		{Text: "out", Start: 3.8, End: 4.0, Confidence: 1.0},
	}
}

func TestTranscribe(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	srv := recordingServer(t, []byte("mp3-bytes"))
	f.speech.result = &speech.Transcription{
		Text:  "any stockouts eggs ran out",
		Words: interviewWords(),
	}

	res := f.pipeline.Transcribe(context.Background(), events.TranscribeEvent{
		CallID:       callID.String(),
		RecordingURL: srv.URL + "/rec.mp3",
	})
	if res.Disposition != Completed {
		t.Fatalf("disposition = %v (%v)", res.Disposition, res.Err)
	}

	if string(f.speech.lastAudio) != "mp3-bytes" {
		t.Errorf("audio = %q", f.speech.lastAudio)
	}
	if got := f.store.transcripts[callID]; got != "any stockouts eggs ran out" {
		t.Errorf("transcript = %q", got)
	}
	utts := f.store.utterances[callID]
	if len(utts) != 2 {
		t.Fatalf("utterances = %+v", utts)
	}
	if utts[0].Speaker != store.SpeakerAI || utts[1].Speaker != store.SpeakerHuman {
		t.Errorf("speakers = %s, %s", utts[0].Speaker, utts[1].Speaker)
	}

	evs := f.bus.all()
	if len(evs) != 1 || evs[0].Subject != events.SubjectExtract {
		t.Fatalf("published = %+v", evs)
	}
	ex := evs[0].Data.(events.ExtractEvent)
	if ex.CallID != callID.String() || ex.Transcript == "" {
		t.Errorf("extract event = %+v", ex)
	}
}

func TestTranscribeDualChannelPreferred(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)

	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	f.speech.result = &speech.Transcription{Text: "hi", Words: []speech.Word{{Text: "hi", Start: 0, End: 0.2, Confidence: 1}}}

	res := f.pipeline.Transcribe(context.Background(), events.TranscribeEvent{
		CallID:           callID.String(),
		RecordingURL:     srv.URL + "/mono.mp3",
		RecordingDualURL: srv.URL + "/dual.mp3",
	})
	if res.Disposition != Completed {
		t.Fatalf("disposition = %v (%v)", res.Disposition, res.Err)
	}
	if len(hits) != 1 || hits[0] != "/dual.mp3" {
		t.Errorf("downloaded %v, want the dual recording", hits)
	}
}

func TestTranscribeSkipsDeniedConsent(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	denied := false
	f.store.calls[callID].ConsentGiven = &denied

	res := f.pipeline.Transcribe(context.Background(), events.TranscribeEvent{
		CallID:       callID.String(),
		RecordingURL: "https://cdn.example.com/rec.mp3",
	})
	if res.Disposition != Skipped {
		t.Fatalf("disposition = %v", res.Disposition)
	}
	if len(f.store.transcripts) != 0 {
		t.Error("denied-consent call must not be transcribed")
	}
}

func TestTranscribeReplayReEmitsExtract(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	transcript := "existing transcript"
	f.store.transcripts[callID] = transcript
	f.store.utterances[callID] = []store.Utterance{{CallID: callID, Speaker: store.SpeakerAI, Text: transcript}}
	f.store.calls[callID].Transcript = &transcript

	res := f.pipeline.Transcribe(context.Background(), events.TranscribeEvent{
		CallID:       callID.String(),
		RecordingURL: "https://cdn.example.com/rec.mp3",
	})
	if res.Disposition != Skipped {
		t.Fatalf("disposition = %v", res.Disposition)
	}

	evs := f.bus.all()
	if len(evs) != 1 || evs[0].Subject != events.SubjectExtract {
		t.Fatalf("published = %+v, want a re-emitted extract event", evs)
	}
	if got := evs[0].Data.(events.ExtractEvent).Transcript; got != transcript {
		t.Errorf("transcript = %q", got)
	}
}

func TestTranscribeOversizeRecordingIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.pipeline.opts.MaxRecordingBytes = 8
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	srv := recordingServer(t, []byte("way more than eight bytes"))

	res := f.pipeline.Transcribe(context.Background(), events.TranscribeEvent{
		CallID:       callID.String(),
		RecordingURL: srv.URL + "/rec.mp3",
	})
	if res.Disposition != Terminal {
		t.Fatalf("disposition = %v", res.Disposition)
	}
}

func TestTranscribeMissingRecordingIsTerminal(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res := f.pipeline.Transcribe(context.Background(), events.TranscribeEvent{
		CallID:       callID.String(),
		RecordingURL: srv.URL + "/rec.mp3",
	})
	if res.Disposition != Terminal {
		t.Fatalf("disposition = %v, a deleted recording never reappears", res.Disposition)
	}
}

func TestTranscribeDownloadOutageIsRetriable(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := f.pipeline.Transcribe(context.Background(), events.TranscribeEvent{
		CallID:       callID.String(),
		RecordingURL: srv.URL + "/rec.mp3",
	})
	if res.Disposition != Retriable {
		t.Fatalf("disposition = %v", res.Disposition)
	}
}

func TestTranscribeUnrecoverableSpeechErrorIsTerminal(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	srv := recordingServer(t, []byte("audio"))
	f.speech.err = fmt.Errorf("transcribe: %w", unsupportedAudioErr())

	res := f.pipeline.Transcribe(context.Background(), events.TranscribeEvent{
		CallID:       callID.String(),
		RecordingURL: srv.URL + "/rec.mp3",
	})
	if res.Disposition != Terminal {
		t.Fatalf("disposition = %v", res.Disposition)
	}
}

func TestTranscribeNoWordsIsTerminal(t *testing.T) {
	f := newFixture(t)
	campaignID := f.addCampaign(store.CampaignActive)
	callID := f.addCall(campaignID, store.CallCompleted)
	srv := recordingServer(t, []byte("audio"))
	f.speech.result = &speech.Transcription{Text: "something", Words: nil}

	res := f.pipeline.Transcribe(context.Background(), events.TranscribeEvent{
		CallID:       callID.String(),
		RecordingURL: srv.URL + "/rec.mp3",
	})
	if res.Disposition != Terminal {
		t.Fatalf("disposition = %v", res.Disposition)
	}
}
