// Package speech turns call recordings into word-level transcriptions.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Word is one recognized word with its position in the recording. Confidence
// defaults to 1.0 because the transcription API does not report per-word
// confidence.
type Word struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64
}

// Transcription is the full recognized text plus its word timeline.
type Transcription struct {
	Text  string
	Words []Word
}

type Client struct {
	api *openai.Client
}

func NewClient(apiKey string) *Client {
	return &Client{api: openai.NewClient(apiKey)}
}

// NewClientWithBaseURL points the client at a different API host, used by
// tests.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{api: openai.NewClientWithConfig(cfg)}
}

// Transcribe runs speech recognition over an audio payload and returns the
// text with word-level timestamps.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (*Transcription, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: filename,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create transcription: %w", err)
	}

	out := &Transcription{Text: resp.Text}
	for _, w := range resp.Words {
		out.Words = append(out.Words, Word{
			Text:       w.Word,
			Start:      w.Start,
			End:        w.End,
			Confidence: 1.0,
		})
	}
	return out, nil
}

// Unrecoverable reports whether a transcription error cannot be fixed by
// retrying, such as rejected or unreadable audio.
func Unrecoverable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 400, 404, 413, 415, 422:
			return true
		}
	}
	return false
}
