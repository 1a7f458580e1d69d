package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dhawalhost/dirsync/internal/webhooks"
)

// Event is one sync lifecycle notification delivered to subscribed webhooks.
type Event struct {
	ID        string      `json:"id"`
	OrgID     string      `json:"org_id"`
	Type      string      `json:"type"` // e.g. "sync.completed"
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Dispatcher fans events out to the org's subscribed webhooks. Deliveries are
// signed with the webhook secret so receivers can verify origin. Safe to use
// as a nil pointer; publishing then does nothing.
type Dispatcher struct {
	webhookSvc webhooks.Service
	logger     *zap.Logger
	httpClient *http.Client
}

// NewDispatcher creates an event dispatcher.
func NewDispatcher(webhookSvc webhooks.Service, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		webhookSvc: webhookSvc,
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Publish fires an event asynchronously. The delivery runs on a detached
// context; the triggering request does not wait for webhook targets.
func (d *Dispatcher) Publish(ctx context.Context, orgID, eventType string, payload interface{}) {
	if d == nil {
		return
	}
	event := Event{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	go d.deliver(context.WithoutCancel(ctx), event)
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	hooks, err := d.webhookSvc.ListForEvent(ctx, event.OrgID, event.Type)
	if err != nil {
		d.logger.Error("Failed to resolve webhooks for event",
			zap.String("type", event.Type), zap.Error(err))
		return
	}
	if len(hooks) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("Failed to encode event payload", zap.Error(err))
		return
	}

	for _, hook := range hooks {
		d.send(ctx, hook, payload, event.ID)
	}
}

func (d *Dispatcher) send(ctx context.Context, hook webhooks.Webhook, payload []byte, eventID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		d.logger.Error("Failed to build webhook request", zap.Error(err))
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DirSync-Event-ID", eventID)

	mac := hmac.New(sha256.New, []byte(hook.Secret))
	mac.Write(payload)
	req.Header.Set("X-DirSync-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Warn("Webhook delivery failed",
			zap.String("url", hook.URL), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.logger.Warn("Webhook target returned non-2xx",
			zap.String("url", hook.URL),
			zap.Int("status", resp.StatusCode))
	}
}
