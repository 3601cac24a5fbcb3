// Package events carries pipeline stage handoffs over NATS. Each stage
// publishes the next stage's trigger instead of calling it directly, so
// stages retry and scale independently.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Pipeline subjects.
const (
	// SubjectOrchestrate asks the orchestrator to place a queued call.
	SubjectOrchestrate = "dialer.call.orchestrate"
	// SubjectTranscribe asks for a finished recording to be transcribed.
	SubjectTranscribe = "dialer.call.transcribe"
	// SubjectExtract asks for claims to be extracted from a transcript.
	SubjectExtract = "dialer.claim.extract"
	// SubjectValidate asks for a hypothesis to be triangulated.
	SubjectValidate = "dialer.claim.validate"
	// SubjectRedact asks for a no-consent call's artifacts to be destroyed.
	SubjectRedact = "dialer.call.redact"
)

// OrchestrateEvent triggers outbound call placement.
type OrchestrateEvent struct {
	CallID      string `json:"call_id"`
	CampaignID  string `json:"campaign_id"`
	PhoneNumber string `json:"phone_number"`
}

// TranscribeEvent triggers transcription of a completed recording.
type TranscribeEvent struct {
	CallID           string `json:"call_id"`
	RecordingURL     string `json:"recording_url"`
	RecordingDualURL string `json:"recording_dual_url,omitempty"`
}

// ExtractEvent triggers claim extraction from a finished transcript.
type ExtractEvent struct {
	CallID     string `json:"call_id"`
	CampaignID string `json:"campaign_id"`
	Transcript string `json:"transcript"`
}

// ValidateEvent triggers triangulation of a hypothesis.
type ValidateEvent struct {
	HypothesisID string `json:"hypothesis_id"`
	CampaignID   string `json:"campaign_id"`
}

// RedactEvent triggers destruction of a call's recordings and derived data.
type RedactEvent struct {
	CallID string `json:"call_id"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
