package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guildgate/backend/internal/config"
	"github.com/guildgate/backend/internal/services"
)

type EmailEventsHandler struct {
	suppressionService *services.SuppressionService
	auditService       *services.AuditService
	cfg                *config.Config
}

func NewEmailEventsHandler(suppressionService *services.SuppressionService, auditService *services.AuditService, cfg *config.Config) *EmailEventsHandler {
	return &EmailEventsHandler{
		suppressionService: suppressionService,
		auditService:       auditService,
		cfg:                cfg,
	}
}

type emailEvent struct {
	Type      string `json:"type"` // "bounce" or "complaint"
	Recipient string `json:"recipient"`
	Detail    string `json:"detail"`
}

// HandleWebhook receives delivery events from the mail provider and
// adds hard-bounced or complained addresses to the suppression list.
func (h *EmailEventsHandler) HandleWebhook(c *gin.Context) {
	const MaxBodyBytes = int64(65536)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

	secret := c.GetHeader("X-Email-Event-Secret")
	if h.cfg.EmailEventSecret == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(h.cfg.EmailEventSecret)) != 1 {
		log.Printf("WARN: rejected email event webhook from %s: bad shared secret", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Printf("ERROR: failed to read email event request body: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	var event emailEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("ERROR: failed to parse email event JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error parsing event"})
		return
	}

	switch event.Type {
	case "bounce", "complaint":
		if event.Recipient == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing recipient"})
			return
		}
		if err := h.suppressionService.Suppress(event.Recipient, event.Type, event.Detail); err != nil {
			log.Printf("ERROR: failed to suppress %s: %v", event.Recipient, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record event"})
			return
		}
		h.auditService.Record(services.AuditSuppressionAdd, "", "", map[string]interface{}{
			"reason": event.Type,
		}, c.ClientIP())
		log.Printf("INFO: suppressed address after %s event", event.Type)
	default:
		// delivery, open etc. are acknowledged but ignored
		log.Printf("INFO: ignoring email event type %q", event.Type)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
