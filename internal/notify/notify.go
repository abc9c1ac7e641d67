// Package notify pushes operator alerts to an outbound webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Message is one outbound alert.
type Message struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Notifier delivers alerts. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Webhook posts messages as JSON to a single URL.
type Webhook struct {
	URL  string
	HTTP *http.Client
}

// NewWebhook builds a webhook notifier with a bounded request timeout.
func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook: status %d", resp.StatusCode)
	}
	return nil
}

// Recorder captures messages for tests.
type Recorder struct {
	Messages []Message
	Err      error
}

func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.Messages = append(r.Messages, msg)
	return r.Err
}
