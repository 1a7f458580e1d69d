package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dhawalhost/dirsync/internal/webhooks"
)

type fakeWebhookSvc struct {
	hooks []webhooks.Webhook
	err   error
}

func (f *fakeWebhookSvc) Create(ctx context.Context, orgID, url, secret string, events []string) (string, error) {
	return "", nil
}

func (f *fakeWebhookSvc) Get(ctx context.Context, orgID, id string) (webhooks.Webhook, error) {
	return webhooks.Webhook{}, webhooks.ErrNotFound
}

func (f *fakeWebhookSvc) List(ctx context.Context, orgID string) ([]webhooks.Webhook, error) {
	return f.hooks, nil
}

func (f *fakeWebhookSvc) Delete(ctx context.Context, orgID, id string) error {
	return nil
}

func (f *fakeWebhookSvc) ListForEvent(ctx context.Context, orgID, event string) ([]webhooks.Webhook, error) {
	return f.hooks, f.err
}

func TestDeliverSignsPayload(t *testing.T) {
	const secret = "hook-secret"

	var (
		gotBody      []byte
		gotSignature string
		gotEventID   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-DirSync-Signature")
		gotEventID = r.Header.Get("X-DirSync-Event-ID")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	svc := &fakeWebhookSvc{hooks: []webhooks.Webhook{
		{ID: "wh-1", URL: srv.URL, Secret: secret},
	}}
	d := NewDispatcher(svc, zap.NewNop())

	event := Event{
		ID:        "evt-1",
		OrgID:     "org-1",
		Type:      webhooks.EventSyncCompleted,
		Payload:   map[string]string{"connection_id": "conn-1"},
		Timestamp: time.Now().UTC(),
	}
	d.deliver(context.Background(), event)

	if gotEventID != "evt-1" {
		t.Fatalf("event id header = %q, want evt-1", gotEventID)
	}

	var decoded Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if decoded.Type != webhooks.EventSyncCompleted {
		t.Fatalf("delivered type = %q", decoded.Type)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Fatalf("signature = %q, want %q", gotSignature, want)
	}
}

func TestDeliverNoSubscribers(t *testing.T) {
	d := NewDispatcher(&fakeWebhookSvc{}, zap.NewNop())
	d.deliver(context.Background(), Event{ID: "evt-1", Type: webhooks.EventSyncFailed})
}

func TestPublishNilDispatcher(t *testing.T) {
	var d *Dispatcher
	d.Publish(context.Background(), "org-1", webhooks.EventSyncCompleted, nil)
}
