package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"

	"github.com/waveline/waveline/pkg/whatsapp"
)

// webhookProcessTimeout bounds one payload's processing after the HTTP
// response has already been sent.
const webhookProcessTimeout = 30 * time.Second

// WebhookVerify handles Meta's webhook verification challenge
func (a *App) WebhookVerify(r *fastglue.Request) error {
	mode := string(r.RequestCtx.QueryArgs().Peek("hub.mode"))
	token := string(r.RequestCtx.QueryArgs().Peek("hub.verify_token"))
	challenge := string(r.RequestCtx.QueryArgs().Peek("hub.challenge"))

	if mode != "subscribe" {
		a.Log.Warn("Webhook verification failed - invalid mode", "mode", mode)
		return r.SendErrorEnvelope(fasthttp.StatusForbidden, "Verification failed", nil, "")
	}

	if token != "" && token == a.Config.WhatsApp.WebhookVerifyToken {
		a.Log.Info("Webhook verified successfully")
		r.RequestCtx.SetStatusCode(fasthttp.StatusOK)
		r.RequestCtx.SetBodyString(challenge)
		return nil
	}

	a.Log.Warn("Webhook verification failed - token mismatch")
	return r.SendErrorEnvelope(fasthttp.StatusForbidden, "Verification failed", nil, "")
}

// WebhookHandler ingests provider event payloads. Meta retries on
// non-200, so the response is always 200 and processing happens off
// the request goroutine.
func (a *App) WebhookHandler(r *fastglue.Request) error {
	body := r.RequestCtx.PostBody()

	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		a.Log.Warn("Unparseable webhook payload", "error", err)
		return r.SendEnvelope(map[string]string{"status": "ignored"})
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
		defer cancel()
		a.Ingester.Process(ctx, &payload)
	}()

	return r.SendEnvelope(map[string]string{"status": "received"})
}
