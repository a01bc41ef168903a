package telephony

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/encoding/protojson"
)

const egressEndedBody = `{"event":"egress_ended","egressInfo":{"egressId":"EG_9","roomName":"room-9","status":"EGRESS_COMPLETE","fileResults":[{"filename":"recordings/x.ogg","size":"10"}]}}`

func signWebhook(t *testing.T, key, secret, body string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(body))
	tok, err := auth.NewAccessToken(key, secret).
		SetValidFor(time.Minute).
		SetSha256(base64.StdEncoding.EncodeToString(sum[:])).
		ToJWT()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func webhookRequest(body, authorization string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/livekit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/webhook+json")
	req.Header.Set("Authorization", authorization)
	return req
}

func TestWebhookEventConversion(t *testing.T) {
	var raw livekit.WebhookEvent
	if err := protojson.Unmarshal([]byte(egressEndedBody), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ev, err := webhookEvent(&raw)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if ev.Event != WebhookEgressEnded || ev.RoomName != "room-9" || ev.Recording == nil {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Recording.EgressID != "EG_9" || ev.Recording.Status != "EGRESS_COMPLETE" || ev.Recording.Files[0].Size != 10 {
		t.Fatalf("unexpected recording %+v", ev.Recording)
	}

	if _, err := webhookEvent(&livekit.WebhookEvent{}); err == nil {
		t.Fatalf("expected error for missing event")
	}
}

func TestWebhookVerifier(t *testing.T) {
	v := NewWebhookVerifier("key", "secret")
	tok := signWebhook(t, "key", "secret", egressEndedBody)

	ev, err := v.Receive(webhookRequest(egressEndedBody, tok))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if ev.Recording == nil || ev.Recording.EgressID != "EG_9" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if _, err := v.Receive(webhookRequest(`{"event":"room_finished"}`, tok)); err == nil {
		t.Fatalf("expected digest mismatch")
	}
	other := signWebhook(t, "key", "wrong-secret", egressEndedBody)
	if _, err := v.Receive(webhookRequest(egressEndedBody, other)); err == nil {
		t.Fatalf("expected signature mismatch")
	}
	unknown := signWebhook(t, "other", "secret", egressEndedBody)
	if _, err := v.Receive(webhookRequest(egressEndedBody, unknown)); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestWebhookHandlerDispatches(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var got RecordingInfo
	var finished string
	h := WebhookHandler{
		Verifier: NewWebhookVerifier("key", "secret"),
		OnRecording: func(_ context.Context, info RecordingInfo) error {
			got = info
			return nil
		},
		OnRoomFinished: func(_ context.Context, room string) error {
			finished = room
			return nil
		},
	}
	r := gin.New()
	r.POST("/webhooks/livekit", h.Handle)

	send := func(body string, authorization string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, webhookRequest(body, authorization))
		return w.Code
	}

	if code := send(egressEndedBody, signWebhook(t, "key", "secret", egressEndedBody)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if got.EgressID != "EG_9" {
		t.Fatalf("expected recording callback, got %+v", got)
	}

	roomBody := `{"event":"room_finished","room":{"name":"room-3"}}`
	if code := send(roomBody, signWebhook(t, "key", "secret", roomBody)); code != http.StatusOK || finished != "room-3" {
		t.Fatalf("expected room_finished dispatch, code=%d room=%q", code, finished)
	}

	if code := send(egressEndedBody, "garbage"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
