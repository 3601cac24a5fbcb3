package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ringTimeoutSec is how long the provider lets the destination ring before
// giving up with no-answer.
const ringTimeoutSec = 30

// Client talks to a Twilio-compatible voice API.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	client     *http.Client
}

func NewClient(accountSID, authToken, baseURL string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a structured error response from the provider.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telephony api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// invalidDestinationCodes are provider error codes meaning the destination
// number itself is bad. Retrying these can never succeed.
var invalidDestinationCodes = map[int]bool{
	21211: true, // invalid 'To' number
	21214: true, // 'To' number cannot be reached
	21215: true, // geo-permission not enabled for destination
	21217: true, // number not reachable from this account
}

// InvalidDestination reports whether the error is a non-retriable bad-number
// rejection from the provider.
func (e *APIError) InvalidDestination() bool {
	return invalidDestinationCodes[e.Code]
}

// CallParams describes an outbound call placement request.
type CallParams struct {
	To   string
	From string

	// Callback URLs for the three webhook families.
	VoiceURL           string
	StatusCallbackURL  string
	RecordingStatusURL string
}

type callResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// CreateCall places an outbound call with dual-channel recording and
// answering-machine detection enabled, and returns the provider session id.
func (c *Client) CreateCall(ctx context.Context, p CallParams) (string, error) {
	form := url.Values{}
	form.Set("To", p.To)
	form.Set("From", p.From)
	form.Set("Url", p.VoiceURL)
	form.Set("StatusCallback", p.StatusCallbackURL)
	for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", ev)
	}
	form.Set("Record", "true")
	form.Set("RecordingChannels", "dual")
	form.Set("RecordingStatusCallback", p.RecordingStatusURL)
	form.Set("Timeout", strconv.Itoa(ringTimeoutSec))
	form.Set("MachineDetection", "Enable")

	var resp callResponse
	if err := c.post(ctx, fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", c.accountSID), form, &resp); err != nil {
		return "", err
	}
	if resp.SID == "" {
		return "", fmt.Errorf("telephony: call created without a session id")
	}
	return resp.SID, nil
}

type recordingList struct {
	Recordings []struct {
		SID string `json:"sid"`
	} `json:"recordings"`
}

// DeleteRecordings removes every recording the provider holds for a call
// session. Used by the consent redaction path.
func (c *Client) DeleteRecordings(ctx context.Context, callSID string) error {
	var list recordingList
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Recordings.json?CallSid=%s", c.accountSID, url.QueryEscape(callSID))
	if err := c.get(ctx, path, &list); err != nil {
		return err
	}

	for _, rec := range list.Recordings {
		path := fmt.Sprintf("/2010-04-01/Accounts/%s/Recordings/%s.json", c.accountSID, rec.SID)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("create delete request: %w", err)
		}
		req.SetBasicAuth(c.accountSID, c.authToken)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("delete recording %s: %w", rec.SID, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("delete recording %s: status %d", rec.SID, resp.StatusCode)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, apiErr) == nil && apiErr.Message != "" {
			return apiErr
		}
		apiErr.Message = string(body)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
