package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// LogDisplay writes rendered payloads to the structured log. It is the
// fallback when no chat webhook is configured.
type LogDisplay struct {
	logger *slog.Logger
	seq    atomic.Int64
}

// NewLogDisplay creates a display backed by the logger.
func NewLogDisplay(logger *slog.Logger) *LogDisplay {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDisplay{logger: logger}
}

func (d *LogDisplay) Create(ctx context.Context, target string, p Payload) (string, error) {
	handle := fmt.Sprintf("%s/%d", target, d.seq.Add(1))
	d.logger.Info("display create", "target", target, "handle", handle, "text", p.Text)
	return handle, nil
}

func (d *LogDisplay) Update(ctx context.Context, handle string, p Payload) error {
	d.logger.Info("display update", "handle", handle, "text", p.Text)
	return nil
}

func (d *LogDisplay) Finalize(ctx context.Context, handle string, p Payload) error {
	d.logger.Info("display finalize", "handle", handle, "text", p.Text)
	return nil
}

// WebhookDisplay pushes payloads to a chat frontend over HTTP. The frontend
// owns message identity; it returns a handle on create and receives it back
// on update and finalize.
type WebhookDisplay struct {
	url  string
	http *http.Client
}

// NewWebhookDisplay creates a display posting to the given URL.
func NewWebhookDisplay(url string) *WebhookDisplay {
	return &WebhookDisplay{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookEvent struct {
	Event   string  `json:"event"`
	Target  string  `json:"target,omitempty"`
	Handle  string  `json:"handle,omitempty"`
	Payload Payload `json:"payload"`
}

func (d *WebhookDisplay) post(ctx context.Context, ev webhookEvent) (string, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode display event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build display request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post display event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("display webhook returned HTTP %d", resp.StatusCode)
	}

	var out struct {
		Handle string `json:"handle"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.Handle, nil
}

func (d *WebhookDisplay) Create(ctx context.Context, target string, p Payload) (string, error) {
	handle, err := d.post(ctx, webhookEvent{Event: "create", Target: target, Payload: p})
	if err != nil {
		return "", err
	}
	if handle == "" {
		handle = target
	}
	return handle, nil
}

func (d *WebhookDisplay) Update(ctx context.Context, handle string, p Payload) error {
	_, err := d.post(ctx, webhookEvent{Event: "update", Handle: handle, Payload: p})
	return err
}

func (d *WebhookDisplay) Finalize(ctx context.Context, handle string, p Payload) error {
	_, err := d.post(ctx, webhookEvent{Event: "finalize", Handle: handle, Payload: p})
	return err
}
