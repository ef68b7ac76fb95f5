package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/landmarkops/delivery-notes/internal/common"
)

// Config for the WhatsApp Business API client.
type Config struct {
	BaseURL       string // e.g. https://graph.facebook.com/v19.0
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
}

// Button is one reply choice on an interactive message. WhatsApp allows at
// most three per message.
type Button struct {
	ID    string
	Title string
}

// Sender is what the orchestrator needs from the messaging channel. Replies
// never come back on these calls; they arrive later as inbound webhooks.
type Sender interface {
	SendText(ctx context.Context, toNumber, message string) error
	SendButtons(ctx context.Context, toNumber, message string, buttons []Button) error
}

// Client sends messages through the WhatsApp Business cloud API.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, toNumber, message string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                CleanPhoneNumber(toNumber),
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        message,
		},
	}
	return c.post(ctx, payload, "text")
}

// SendButtons sends an interactive reply-button message.
func (c *Client) SendButtons(ctx context.Context, toNumber, message string, buttons []Button) error {
	if len(buttons) > 3 {
		buttons = buttons[:3]
	}
	actions := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		actions = append(actions, map[string]any{
			"type": "reply",
			"reply": map[string]any{
				"id":    b.ID,
				"title": b.Title,
			},
		})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                CleanPhoneNumber(toNumber),
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": message},
			"action": map[string]any{"buttons": actions},
		},
	}
	return c.post(ctx, payload, "interactive")
}

func (c *Client) post(ctx context.Context, payload map[string]any, kind string) error {
	rid := uuid.New().String()
	start := time.Now()

	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.PhoneNumberID)
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("whatsapp.send.error", "req_id", rid, "kind", kind, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return fmt.Errorf("whatsapp send: %w: %w", common.ErrTransport, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Warn("whatsapp.response_body_close_error", "req_id", rid, "error", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.log.Error("whatsapp.send.rejected", "req_id", rid, "kind", kind,
			"status", resp.StatusCode, "body", string(raw))
		return fmt.Errorf("whatsapp send status %d: %w", resp.StatusCode, common.ErrTransport)
	}

	c.log.Info("whatsapp.send.ok", "req_id", rid, "kind", kind,
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// CleanPhoneNumber normalizes a WhatsApp number for the API: separators
// removed, UAE country code assumed when missing, leading plus dropped.
func CleanPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	phone = r.Replace(phone)

	if !strings.HasPrefix(phone, "+") {
		switch {
		case strings.HasPrefix(phone, "971"):
			phone = "+" + phone
		case strings.HasPrefix(phone, "0"):
			phone = "+971" + phone[1:]
		default:
			phone = "+971" + phone
		}
	}
	return strings.TrimPrefix(phone, "+")
}
