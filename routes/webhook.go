package routes

import (
	"viewing-scheduler-server/services"

	"github.com/kataras/golog"
	"github.com/kataras/iris/v12"
)

type WebhookRoutes struct {
	webhooks *services.WebhookService
}

func NewWebhookRoutes(webhooks *services.WebhookService) *WebhookRoutes {
	return &WebhookRoutes{webhooks: webhooks}
}

type webhookEnvelope struct {
	Kind        string `json:"kind"`
	ResourceID  string `json:"resourceId"`
	ResourceURI string `json:"resourceUri"`
}

// GoogleCalendarWebhook receives push notifications. Anything but malformed headers is acknowledged with 200.
func (r *WebhookRoutes) GoogleCalendarWebhook(ctx iris.Context) {
	notification := services.WebhookNotification{
		ChannelID:     ctx.GetHeader("X-Goog-Channel-ID"),
		ChannelToken:  ctx.GetHeader("X-Goog-Channel-Token"),
		ResourceID:    ctx.GetHeader("X-Goog-Resource-ID"),
		ResourceState: ctx.GetHeader("X-Goog-Resource-State"),
		ResourceURI:   ctx.GetHeader("X-Goog-Resource-URI"),
		MessageNumber: ctx.GetHeader("X-Goog-Message-Number"),
	}

	// some relays forward the envelope in the body instead of the resource headers
	if notification.ResourceURI == "" && ctx.GetContentLength() > 0 {
		var envelope webhookEnvelope
		if err := ctx.ReadJSON(&envelope); err == nil {
			notification.ResourceURI = envelope.ResourceURI
			if notification.ResourceID == "" {
				notification.ResourceID = envelope.ResourceID
			}
		}
	}

	result, err := r.webhooks.Handle(ctx.Request().Context(), notification)
	if err != nil {
		if _, ok := err.(*services.ValidationError); ok {
			writeServiceError(ctx, err)
			return
		}
		golog.Errorf("❌ calendar webhook on channel %s: %v", notification.ChannelID, err)
		ctx.JSON(iris.Map{"received": true})
		return
	}
	ctx.JSON(iris.Map{"received": true, "result": result})
}
