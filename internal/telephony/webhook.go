package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"callflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
)

const (
	WebhookEgressStarted = "egress_started"
	WebhookEgressUpdated = "egress_updated"
	WebhookEgressEnded   = "egress_ended"
	WebhookRoomFinished  = "room_finished"
)

const maxWebhookBody = 1 << 20

// WebhookEvent is the subset of platform webhook payloads the call lifecycle consumes.
type WebhookEvent struct {
	Event     string
	RoomName  string
	Recording *RecordingInfo
}

func webhookEvent(ev *livekit.WebhookEvent) (WebhookEvent, error) {
	if ev.GetEvent() == "" {
		return WebhookEvent{}, errors.New("telephony: webhook has no event")
	}
	out := WebhookEvent{Event: ev.GetEvent(), RoomName: ev.GetRoom().GetName()}
	if e := ev.GetEgressInfo(); e != nil {
		info := recordingInfo(e)
		out.Recording = &info
		if out.RoomName == "" {
			out.RoomName = info.RoomName
		}
	}
	return out, nil
}

// WebhookVerifier authenticates platform webhooks signed with the API secret.
type WebhookVerifier struct {
	keys auth.KeyProvider
}

func NewWebhookVerifier(apiKey, apiSecret string) *WebhookVerifier {
	return &WebhookVerifier{keys: auth.NewSimpleKeyProvider(apiKey, apiSecret)}
}

// Receive checks the request signature and body digest, then decodes the event.
func (v *WebhookVerifier) Receive(r *http.Request) (WebhookEvent, error) {
	ev, err := webhook.ReceiveWebhookEvent(r, v.keys)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("telephony: webhook: %w", err)
	}
	return webhookEvent(ev)
}

// WebhookHandler converts platform webhooks into lifecycle callbacks.
//
// No business logic here.
type WebhookHandler struct {
	Verifier *WebhookVerifier

	// OnRecording receives every egress update.
	OnRecording func(ctx context.Context, info RecordingInfo) error
	// OnRoomFinished is called when the platform closed the room, e.g. the caller hung up.
	OnRoomFinished func(ctx context.Context, roomName string) error
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Verifier == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook verifier not configured"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	ev, err := h.Verifier.Receive(c.Request)
	if err != nil {
		log.Warn("platform webhook rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook"})
		return
	}

	switch ev.Event {
	case WebhookEgressStarted, WebhookEgressUpdated, WebhookEgressEnded:
		if ev.Recording != nil && h.OnRecording != nil {
			if err := h.OnRecording(c.Request.Context(), *ev.Recording); err != nil {
				// Acknowledge anyway; polling still observes the job.
				log.Error("egress webhook handling failed", "egress_id", ev.Recording.EgressID, "err", err)
			}
		}
	case WebhookRoomFinished:
		if ev.RoomName != "" && h.OnRoomFinished != nil {
			if err := h.OnRoomFinished(c.Request.Context(), ev.RoomName); err != nil {
				log.Warn("room_finished handling failed", "room", ev.RoomName, "err", err)
			}
		}
	default:
		log.Debug("platform webhook ignored", "event", ev.Event)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
