package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/diligencelabs/dialer/internal/consent"
	"github.com/diligencelabs/dialer/internal/events"
	"github.com/diligencelabs/dialer/internal/export"
	"github.com/diligencelabs/dialer/internal/store"
	"github.com/diligencelabs/dialer/internal/telephony"
)

// Datastore is the slice of the store the webhook server needs.
type Datastore interface {
	GetCall(ctx context.Context, id uuid.UUID) (*store.Call, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*store.Campaign, error)
	SetConsent(ctx context.Context, id uuid.UUID, given bool) error
	ApplyProviderStatus(ctx context.Context, id uuid.UUID, next store.CallStatus, durationSec *int) (bool, error)
	ExportableClaims(ctx context.Context, campaignID uuid.UUID, validatedOnly bool) ([]store.ExportableClaim, error)
}

// Publisher hands events to the pipeline.
type Publisher interface {
	Publish(subject string, data any) error
}

// Server hosts the telephony webhook endpoints and the claim export API.
type Server struct {
	router        *chi.Mux
	srv           *http.Server
	store         Datastore
	gate          *Gate
	bus           Publisher
	publicBaseURL string
	logger        *slog.Logger
}

func NewServer(port int, ds Datastore, gate *Gate, bus Publisher, publicBaseURL string, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:        router,
		store:         ds,
		gate:          gate,
		bus:           bus,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	router.Get("/health", s.health)
	router.Post("/webhooks/telephony/voice", s.voice)
	router.Post("/webhooks/telephony/consent", s.consent)
	router.Post("/webhooks/telephony/status", s.status)
	router.Post("/webhooks/telephony/recording", s.recording)
	router.Get("/api/v1/campaigns/{campaignID}/claims/export", s.exportClaims)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("webhook server starting", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// checkDelivery runs the shared preamble of every webhook handler: parse the
// form, parse the callId, then run the gate. It writes the response itself
// for every outcome except fresh; callers proceed only when ok is true.
// scriptResponse selects whether failure and duplicate responses are voice
// script documents or JSON.
func (s *Server) checkDelivery(w http.ResponseWriter, r *http.Request, eventType string, scriptResponse bool) (uuid.UUID, bool) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return uuid.Nil, false
	}

	callID, err := uuid.Parse(r.URL.Query().Get("callId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid callId")
		return uuid.Nil, false
	}

	verdict, err := s.gate.Check(r.Context(), r, eventType)
	if err != nil {
		s.logger.Error("webhook dedup ledger failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return uuid.Nil, false
	}

	switch verdict {
	case VerdictInvalidSignature:
		writeError(w, http.StatusForbidden, "invalid signature")
		return uuid.Nil, false
	case VerdictMissingField:
		writeError(w, http.StatusBadRequest, "missing CallSid")
		return uuid.Nil, false
	case VerdictDuplicate:
		if scriptResponse {
			s.writeScript(w, &telephony.Script{})
		} else {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
		}
		return uuid.Nil, false
	}
	return callID, true
}

// voice answers the provider's "what should this call say" request with the
// greeting and consent question.
func (s *Server) voice(w http.ResponseWriter, r *http.Request) {
	callID, ok := s.checkDelivery(w, r, "voice", true)
	if !ok {
		return
	}

	call, err := s.store.GetCall(r.Context(), callID)
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	campaign, err := s.store.GetCampaign(r.Context(), call.CampaignID)
	if err != nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	consentAction := fmt.Sprintf("%s/webhooks/telephony/consent?callId=%s", s.publicBaseURL, callID)
	s.writeScript(w, telephony.GreetingScript(campaign.Name, consentAction))
}

// consent records the respondent's consent decision and either continues
// into the interview questions or ends the call.
func (s *Server) consent(w http.ResponseWriter, r *http.Request) {
	callID, ok := s.checkDelivery(w, r, "consent", true)
	if !ok {
		return
	}

	speech := r.PostForm.Get("SpeechResult")
	granted := consent.Detect(speech)

	if err := s.store.SetConsent(r.Context(), callID, granted); err != nil {
		s.logger.Error("record consent", "call_id", callID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.logger.Info("consent recorded", "call_id", callID, "granted", granted, "speech", speech)

	if !granted {
		s.writeScript(w, telephony.DeclinedScript())
		return
	}

	call, err := s.store.GetCall(r.Context(), callID)
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	campaign, err := s.store.GetCampaign(r.Context(), call.CampaignID)
	if err != nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	s.writeScript(w, telephony.InterviewScript(campaign.PromptTemplate))
}

// providerStatuses maps the provider's lifecycle vocabulary onto ours.
// Statuses before ringing carry no information we act on.
var providerStatuses = map[string]store.CallStatus{
	"ringing":     store.CallRinging,
	"answered":    store.CallInProgress,
	"in-progress": store.CallInProgress,
	"completed":   store.CallCompleted,
	"busy":        store.CallFailed,
	"failed":      store.CallFailed,
	"canceled":    store.CallFailed,
	"no-answer":   store.CallNoAnswer,
}

// status applies provider call lifecycle callbacks. Out-of-order or stale
// reports are acknowledged but not applied. When a call ends without consent
// a redaction event is published.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	callID, ok := s.checkDelivery(w, r, "status", false)
	if !ok {
		return
	}

	raw := r.PostForm.Get("CallStatus")
	next, known := providerStatuses[raw]
	if !known {
		s.logger.Info("ignoring provider status", "call_id", callID, "status", raw)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	var duration *int
	if d, err := strconv.Atoi(r.PostForm.Get("CallDuration")); err == nil {
		duration = &d
	}

	applied, err := s.store.ApplyProviderStatus(r.Context(), callID, next, duration)
	if err != nil {
		s.logger.Error("apply provider status", "call_id", callID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !applied {
		s.logger.Info("stale status callback ignored", "call_id", callID, "status", next)
	}

	if next.Terminal() {
		call, err := s.store.GetCall(r.Context(), callID)
		if err == nil && call.ConsentGiven != nil && !*call.ConsentGiven {
			if err := s.bus.Publish(events.SubjectRedact, events.RedactEvent{CallID: callID.String()}); err != nil {
				s.logger.Error("publish redact event", "call_id", callID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "applied": applied})
}

// recording receives the finished-recording callback and hands the recording
// to the transcription stage.
func (s *Server) recording(w http.ResponseWriter, r *http.Request) {
	callID, ok := s.checkDelivery(w, r, "recording", false)
	if !ok {
		return
	}

	recordingURL := r.PostForm.Get("RecordingUrl")
	if recordingURL == "" {
		writeError(w, http.StatusBadRequest, "missing RecordingUrl")
		return
	}

	ev := events.TranscribeEvent{
		CallID:       callID.String(),
		RecordingURL: recordingURL + ".mp3",
	}
	if r.PostForm.Get("RecordingChannels") == "2" {
		ev.RecordingDualURL = recordingURL + ".mp3"
	}

	if err := s.bus.Publish(events.SubjectTranscribe, ev); err != nil {
		s.logger.Error("publish transcribe event", "call_id", callID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// exportClaims serves a campaign's claims as CSV or JSON.
func (s *Server) exportClaims(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	validatedOnly := r.URL.Query().Get("validated") == "true"

	claims, err := s.store.ExportableClaims(r.Context(), campaignID, validatedOnly)
	if err != nil {
		s.logger.Error("export claims", "campaign_id", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		out, err := export.ToCSV(claims)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=claims-%s.csv", campaignID))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(out))
	default:
		out, err := export.ToJSON(claims, time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	}
}

func (s *Server) writeScript(w http.ResponseWriter, script *telephony.Script) {
	out, err := script.Render()
	if err != nil {
		s.logger.Error("render voice script", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(out))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
