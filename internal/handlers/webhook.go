package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mitchellh/mapstructure"

	"timeout/api/internal/security"
	"timeout/api/internal/service"
)

type identityEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// identityEventData mirrors the provider's user object; only the fields the
// profile merge consumes are decoded.
type identityEventData struct {
	ID             string `mapstructure:"id"`
	FirstName      string `mapstructure:"first_name"`
	LastName       string `mapstructure:"last_name"`
	ImageURL       string `mapstructure:"image_url"`
	PrimaryEmailID string `mapstructure:"primary_email_address_id"`
	EmailAddresses []struct {
		ID           string `mapstructure:"id"`
		EmailAddress string `mapstructure:"email_address"`
	} `mapstructure:"email_addresses"`
}

func (d identityEventData) primaryEmail() string {
	for _, addr := range d.EmailAddresses {
		if addr.ID == d.PrimaryEmailID {
			return addr.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}

// IdentityWebhook ingests identity-provider lifecycle events. Every event
// is signature-checked against the raw body before parsing.
func (h HandlerSet) IdentityWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.badRequest(c, "unreadable request body")
		return
	}

	err = h.webhook.Verify(
		c.GetHeader(security.HeaderWebhookID),
		c.GetHeader(security.HeaderWebhookTimestamp),
		c.GetHeader(security.HeaderWebhookSignature),
		body,
	)
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook signature rejected")
		h.respondError(c, service.E(service.CodeUnauthenticated, "invalid webhook signature"))
		return
	}

	var event identityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.badRequest(c, "malformed webhook payload")
		return
	}
	var data identityEventData
	if err := mapstructure.Decode(event.Data, &data); err != nil {
		h.badRequest(c, "malformed webhook payload")
		return
	}
	if data.ID == "" {
		h.badRequest(c, "webhook payload carries no user id")
		return
	}

	switch event.Type {
	case "user.created", "user.updated":
		result, err := h.profiles.SyncIdentity(c.Request.Context(), service.IdentityPayload{
			ID:        data.ID,
			Email:     data.primaryEmail(),
			FirstName: data.FirstName,
			LastName:  data.LastName,
			AvatarURL: data.ImageURL,
		})
		if err != nil {
			h.respondError(c, err)
			return
		}
		h.respond(c, gin.H{"created": result.Created, "updatedFields": len(result.Updates)})

	case "user.deleted":
		err := h.profiles.SoftDelete(c.Request.Context(), data.ID)
		if err != nil && service.CodeOf(err) != service.CodeNotFound {
			h.respondError(c, err)
			return
		}
		h.respond(c, gin.H{"deleted": true})

	default:
		// Providers fan out many event kinds; unknown ones are acknowledged
		// so they are not redelivered.
		h.log.Debug().Str("type", event.Type).Msg("ignoring webhook event")
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"ignored": true}})
	}
}
