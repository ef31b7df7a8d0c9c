// Package notify reports purged orphan uploads to an external HTTP endpoint.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/treonstudio/chatuploads/internal/metrics"
	"github.com/treonstudio/chatuploads/internal/models"
)

const (
	// EventOrphansPurged is the event name sent for purged orphan uploads.
	EventOrphansPurged = "uploads.orphans_purged"

	SignatureHeader          = "X-Chatuploads-Signature"
	SignatureAlgorithmHeader = "X-Chatuploads-Signature-Algorithm"

	defaultMaxAttempts = 3
	maxResponseLogSize = 1024
)

// Event is the JSON body posted to the webhook.
type Event struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Data      OrphanedData `json:"data"`
}

// OrphanedData lists the purged uploads.
type OrphanedData struct {
	Count    int              `json:"count"`
	Reason   string           `json:"reason"`
	PurgedAt time.Time        `json:"purged_at"`
	Uploads  []OrphanedUpload `json:"uploads"`
}

// OrphanedUpload identifies one lost upload for the receiving chat backend.
type OrphanedUpload struct {
	ID            string `json:"id"`
	ChatID        string `json:"chat_id"`
	IsGroupChat   bool   `json:"is_group_chat"`
	TempMessageID string `json:"temp_message_id,omitempty"`
	UserID        string `json:"user_id"`
	FileName      string `json:"file_name"`
	RetryCount    int    `json:"retry_count"`
}

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
}

// WebhookNotifier posts an HMAC-signed event for every orphan purge.
type WebhookNotifier struct {
	url         string
	secret      string
	client      *http.Client
	maxAttempts int
	backoff     func(attempt int) time.Duration
	logger      *slog.Logger
}

// NewWebhookNotifier creates a notifier. Timeout defaults to 10s.
func NewWebhookNotifier(cfg WebhookConfig, logger *slog.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxAttempts: cfg.MaxAttempts,
		backoff:     CalculateRetryDelay,
		logger:      logger,
	}, nil
}

// ComputeHMACSignature computes the hex HMAC-SHA256 signature of payload.
func ComputeHMACSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// CalculateRetryDelay returns exponential backoff (1s, 2s, 4s, ...) capped at 30s.
func CalculateRetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return 30 * time.Second
	}
	delay := time.Second << uint(attempt)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

// OrphansPurged implements uploads.Notifier.
func (n *WebhookNotifier) OrphansPurged(ctx context.Context, report models.OrphanReport) error {
	event := Event{
		Event:     EventOrphansPurged,
		Timestamp: time.Now().UTC(),
		Data: OrphanedData{
			Count:    report.Count,
			Reason:   report.Reason,
			PurgedAt: report.PurgedAt,
			Uploads:  make([]OrphanedUpload, 0, len(report.Entries)),
		},
	}
	for _, entry := range report.Entries {
		event.Data.Uploads = append(event.Data.Uploads, OrphanedUpload{
			ID:            entry.ID,
			ChatID:        entry.ChatID,
			IsGroupChat:   entry.IsGroupChat,
			TempMessageID: entry.TempMessageID,
			UserID:        entry.UserID,
			FileName:      entry.FileName,
			RetryCount:    entry.RetryCount,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.backoff(attempt - 1)):
			case <-ctx.Done():
				metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
				return ctx.Err()
			}
		}

		lastErr = n.deliver(ctx, payload)
		if lastErr == nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
			return nil
		}
		n.logger.Warn("webhook delivery attempt failed",
			"url", n.url,
			"attempt", attempt+1,
			"max_attempts", n.maxAttempts,
			"error", lastErr,
		)
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", n.maxAttempts, lastErr)
}

func (n *WebhookNotifier) deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Chatuploads-Webhook/1.0")
	req.Header.Set(SignatureHeader, ComputeHMACSignature(payload, n.secret))
	req.Header.Set(SignatureAlgorithmHeader, "sha256")

	start := time.Now()
	resp, err := n.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseLogSize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status %d: %s", resp.StatusCode, body)
	}

	n.logger.Info("webhook delivered successfully",
		"url", n.url,
		"status_code", resp.StatusCode,
		"duration", duration,
	)
	return nil
}
