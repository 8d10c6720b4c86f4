// Package classifier provides the calendar-detection client, an HTTP
// wrapper around a fine-tuned binary text classifier.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/loomlabs/chatloom/conversations"
)

// Client calls the calendar-detection model over HTTP. The service
// accepts {"text": ...} and answers {"label": "LABEL_0"|"LABEL_1",
// "score": 0..1}.
type Client struct {
	baseURL string
	http    *http.Client
}

// Config represents classifier client configuration.
type Config struct {
	BaseURL string
	Timeout int // request timeout in seconds (default: 30)
}

// NewClient creates a calendar-detection client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("classifier base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Classify labels a cleaned message text.
func (c *Client) Classify(ctx context.Context, text string) (conversations.Classification, error) {
	var out conversations.Classification

	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return out, fmt.Errorf("encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("classify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return out, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, payload)
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode classify response: %w", err)
	}
	if out.Label != conversations.LabelPositive && out.Label != conversations.LabelNegative {
		return out, fmt.Errorf("classifier returned unknown label %q", out.Label)
	}
	return out, nil
}
