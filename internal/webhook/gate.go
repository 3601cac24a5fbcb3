package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// Verdict is the outcome of running a webhook delivery through the gate.
type Verdict int

const (
	// VerdictFresh means the delivery is authentic and seen for the first
	// time. The caller should process it.
	VerdictFresh Verdict = iota
	// VerdictDuplicate means the delivery is authentic but was already
	// processed. The caller should acknowledge without side effects.
	VerdictDuplicate
	// VerdictInvalidSignature means the signature check failed.
	VerdictInvalidSignature
	// VerdictMissingField means a field required to identify the event is
	// absent.
	VerdictMissingField
)

// DedupLedger records event ids and reports whether each is new.
type DedupLedger interface {
	InsertWebhookEvent(ctx context.Context, eventID string) (bool, error)
}

// Gate authenticates webhook deliveries and filters provider retries. Every
// webhook endpoint passes its request through here before acting on it.
type Gate struct {
	authToken     string
	publicBaseURL string
	ledger        DedupLedger
	logger        *slog.Logger
}

func NewGate(authToken, publicBaseURL string, ledger DedupLedger, logger *slog.Logger) *Gate {
	return &Gate{
		authToken:     authToken,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		ledger:        ledger,
		logger:        logger,
	}
}

// Check verifies the request signature, extracts the call session id, and
// records the event in the dedup ledger. eventType distinguishes the webhook
// families so retries of one family never mask another; for recording events
// the recording id joins the key so multiple recordings on one call each get
// processed once.
//
// The request form must already be parsed. A non-nil error means the ledger
// itself failed and the caller should signal a retryable server error.
func (g *Gate) Check(ctx context.Context, r *http.Request, eventType string) (Verdict, error) {
	callbackURL := g.publicBaseURL + r.URL.RequestURI()
	if !VerifySignature(g.authToken, callbackURL, r.PostForm, r.Header.Get(SignatureHeader)) {
		g.logger.Warn("webhook signature rejected",
			"event_type", eventType,
			"url", callbackURL)
		return VerdictInvalidSignature, nil
	}

	callSID := r.PostForm.Get("CallSid")
	if callSID == "" {
		return VerdictMissingField, nil
	}

	eventID := callSID + ":" + eventType
	if rec := r.PostForm.Get("RecordingSid"); rec != "" {
		eventID += ":" + rec
	}

	fresh, err := g.ledger.InsertWebhookEvent(ctx, eventID)
	if err != nil {
		return VerdictFresh, err
	}
	if !fresh {
		g.logger.Info("duplicate webhook delivery ignored", "event_id", eventID)
		return VerdictDuplicate, nil
	}
	return VerdictFresh, nil
}
