package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guildgate/backend/internal/services"
	"github.com/guildgate/backend/internal/signature"
)

// Discord interaction and response types (the closed set this bot
// handles)
const (
	interactionPing               = 1
	interactionApplicationCommand = 2
	interactionMessageComponent   = 3
	interactionModalSubmit        = 5

	responsePong           = 1
	responseChannelMessage = 4
	responseModal          = 9

	flagEphemeral = 64
)

// Component and modal identifiers
const (
	customIDVerifyButton = "verify_start"
	customIDEmailModal   = "verify_email_modal"
	customIDEmailField   = "verify_email"
	customIDCodeButton   = "verify_enter_code"
	customIDCodeModal    = "verify_code_modal"
	customIDCodeField    = "verify_code"
)

// VerificationEngine is the capability surface the dispatcher needs
// from the verification core: initiate and submit, nothing more
type VerificationEngine interface {
	Initiate(ctx context.Context, userID, guildID, email string) (*services.InitiateResult, error)
	Submit(ctx context.Context, userID, guildID, code string) (*services.SubmitResult, error)
}

// RoleGranter completes a successful verification against Discord
type RoleGranter interface {
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	AnnounceVerified(ctx context.Context, channelID, userID string) error
}

// AuditRecorder captures security events out of the request path
type AuditRecorder interface {
	Record(event, userID, guildID string, details map[string]interface{}, ipAddress string)
}

type interactionUser struct {
	ID string `json:"id"`
}

type interactionMember struct {
	User interactionUser `json:"user"`
}

type commandOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type modalField struct {
	CustomID string `json:"custom_id"`
	Value    string `json:"value"`
}

type modalRow struct {
	Components []modalField `json:"components"`
}

type interactionData struct {
	Name       string          `json:"name"`
	CustomID   string          `json:"custom_id"`
	Options    []commandOption `json:"options"`
	Components []modalRow      `json:"components"`
}

type interaction struct {
	Type    int                `json:"type"`
	GuildID string             `json:"guild_id"`
	Member  *interactionMember `json:"member"`
	User    *interactionUser   `json:"user"`
	Data    interactionData    `json:"data"`
}

func (i *interaction) userID() string {
	if i.Member != nil && i.Member.User.ID != "" {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

type InteractionHandler struct {
	verifier *signature.Verifier
	engine   VerificationEngine
	roles    RoleGranter
	audit    AuditRecorder
}

func NewInteractionHandler(verifier *signature.Verifier, engine VerificationEngine, roles RoleGranter, audit AuditRecorder) *InteractionHandler {
	return &InteractionHandler{
		verifier: verifier,
		engine:   engine,
		roles:    roles,
		audit:    audit,
	}
}

// HandleInteraction receives signed Discord interaction webhooks. The
// signature is verified over the exact raw bytes before any parsing;
// unauthenticated requests never reach the verification engine.
func (h *InteractionHandler) HandleInteraction(c *gin.Context) {
	const MaxBodyBytes = int64(65536)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Printf("ERROR: failed to read interaction request body: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "error reading request body"})
		return
	}

	sigHeader := c.GetHeader("X-Signature-Ed25519")
	tsHeader := c.GetHeader("X-Signature-Timestamp")
	if err := h.verifier.Verify(payload, sigHeader, tsHeader); err != nil {
		h.audit.Record(services.AuditAuthFailure, "", "", map[string]interface{}{
			"reason": authFailureReason(err),
		}, c.ClientIP())
		log.Printf("WARN: rejected interaction from %s: %v", c.ClientIP(), err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid request signature"})
		return
	}

	var event interaction
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("ERROR: failed to parse interaction JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "error parsing interaction"})
		return
	}

	switch event.Type {
	case interactionPing:
		c.JSON(http.StatusOK, gin.H{"type": responsePong})

	case interactionApplicationCommand:
		if event.Data.Name != "verify" {
			c.JSON(http.StatusOK, ephemeralMessage("Unknown command."))
			return
		}
		email := optionValue(event.Data.Options, "email")
		if email == "" {
			// /verify without the email option opens the email modal
			c.JSON(http.StatusOK, emailModal())
			return
		}
		h.initiate(c, &event, email)

	case interactionMessageComponent:
		switch event.Data.CustomID {
		case customIDVerifyButton:
			c.JSON(http.StatusOK, emailModal())
		case customIDCodeButton:
			c.JSON(http.StatusOK, codeModal())
		default:
			c.JSON(http.StatusOK, ephemeralMessage("This button is no longer active."))
		}

	case interactionModalSubmit:
		switch event.Data.CustomID {
		case customIDEmailModal:
			h.initiate(c, &event, fieldValue(event.Data.Components, customIDEmailField))
		case customIDCodeModal:
			h.submit(c, &event, fieldValue(event.Data.Components, customIDCodeField))
		default:
			c.JSON(http.StatusOK, ephemeralMessage("This form is no longer active."))
		}

	default:
		log.Printf("INFO: unhandled interaction type %d", event.Type)
		c.JSON(http.StatusOK, ephemeralMessage("Unsupported interaction."))
	}
}

func (h *InteractionHandler) initiate(c *gin.Context, event *interaction, email string) {
	userID := event.userID()
	if userID == "" || event.GuildID == "" {
		c.JSON(http.StatusOK, ephemeralMessage("Verification only works inside a server."))
		return
	}

	res, err := h.engine.Initiate(c.Request.Context(), userID, event.GuildID, email)
	if err != nil {
		log.Printf("ERROR: initiate failed for user %s guild %s: %v", userID, event.GuildID, err)
		c.JSON(http.StatusOK, ephemeralMessage("Verification is temporarily unavailable. Please try again in a few minutes."))
		return
	}

	switch res.Status {
	case services.InitiateSent:
		h.audit.Record(services.AuditCodeSent, userID, event.GuildID, nil, c.ClientIP())
		minutes := int(time.Until(res.ExpiresAt).Minutes())
		c.JSON(http.StatusOK, ephemeralMessage(fmt.Sprintf(
			"Check your inbox! A verification code was sent. It expires in about %d minutes — press \"Enter code\" or run /verify again once you have it.", minutes)))
	case services.InitiateThrottled:
		h.audit.Record(services.AuditThrottled, userID, event.GuildID, map[string]interface{}{
			"retry_after_seconds": int(res.RetryAfter.Seconds()),
		}, c.ClientIP())
		c.JSON(http.StatusOK, ephemeralMessage(fmt.Sprintf(
			"Please wait %d seconds before requesting another code.", int(res.RetryAfter.Seconds()))))
	case services.InitiateRejected:
		h.audit.Record(services.AuditPolicyRejection, userID, event.GuildID, map[string]interface{}{
			"reason": res.Reason,
		}, c.ClientIP())
		c.JSON(http.StatusOK, ephemeralMessage(rejectionMessage(res.Reason)))
	}
}

func (h *InteractionHandler) submit(c *gin.Context, event *interaction, code string) {
	userID := event.userID()
	if userID == "" || event.GuildID == "" {
		c.JSON(http.StatusOK, ephemeralMessage("Verification only works inside a server."))
		return
	}

	res, err := h.engine.Submit(c.Request.Context(), userID, event.GuildID, code)
	if err != nil {
		log.Printf("ERROR: submit failed for user %s guild %s: %v", userID, event.GuildID, err)
		c.JSON(http.StatusOK, ephemeralMessage("Verification is temporarily unavailable. Please try again in a few minutes."))
		return
	}

	switch res.Status {
	case services.SubmitVerified:
		if err := h.roles.GrantRole(c.Request.Context(), event.GuildID, userID, res.RoleID); err != nil {
			h.audit.Record(services.AuditGrantFailed, userID, event.GuildID, map[string]interface{}{
				"role_id": res.RoleID,
			}, c.ClientIP())
			log.Printf("ERROR: role grant failed for user %s guild %s: %v", userID, event.GuildID, err)
			c.JSON(http.StatusOK, ephemeralMessage("Your email is verified, but assigning the role failed. Please contact a moderator."))
			return
		}
		h.audit.Record(services.AuditRoleGranted, userID, event.GuildID, map[string]interface{}{
			"role_id": res.RoleID,
		}, c.ClientIP())
		if err := h.roles.AnnounceVerified(c.Request.Context(), res.ChannelID, userID); err != nil {
			log.Printf("WARN: announcement failed for guild %s: %v", event.GuildID, err)
		}
		c.JSON(http.StatusOK, ephemeralMessage("You're verified! Your role has been assigned."))
	case services.SubmitWrongCode:
		h.audit.Record(services.AuditWrongCode, userID, event.GuildID, map[string]interface{}{
			"attempts_remaining": res.AttemptsRemaining,
		}, c.ClientIP())
		c.JSON(http.StatusOK, ephemeralMessage(fmt.Sprintf(
			"That code is not correct. %d attempts remaining.", res.AttemptsRemaining)))
	case services.SubmitLocked:
		h.audit.Record(services.AuditLockout, userID, event.GuildID, nil, c.ClientIP())
		c.JSON(http.StatusOK, ephemeralMessage("Too many incorrect attempts. Start over with /verify to request a new code."))
	case services.SubmitExpired:
		c.JSON(http.StatusOK, ephemeralMessage("That code has expired. Run /verify to request a new one."))
	case services.SubmitNotFound:
		c.JSON(http.StatusOK, ephemeralMessage("No pending verification found. Run /verify to start."))
	}
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, signature.ErrMissingHeaders):
		return "missing_headers"
	case errors.Is(err, signature.ErrExpiredTimestamp):
		return "expired_timestamp"
	default:
		return "invalid_signature"
	}
}

func rejectionMessage(reason string) string {
	switch reason {
	case services.ReasonGuildNotConfigured:
		return "Verification is not set up for this server yet."
	case services.ReasonInvalidEmail:
		return "That doesn't look like a valid email address."
	case services.ReasonDomainNotAllowed:
		return "That email domain is not accepted for this server. Use your institutional address."
	case services.ReasonAddressSuppressed:
		return "We can't deliver mail to that address. Use a different institutional address or contact a moderator."
	default:
		return "Verification request rejected."
	}
}

func optionValue(options []commandOption, name string) string {
	for _, opt := range options {
		if opt.Name == name {
			return opt.Value
		}
	}
	return ""
}

func fieldValue(rows []modalRow, customID string) string {
	for _, row := range rows {
		for _, field := range row.Components {
			if field.CustomID == customID {
				return field.Value
			}
		}
	}
	return ""
}

func ephemeralMessage(content string) gin.H {
	return gin.H{
		"type": responseChannelMessage,
		"data": gin.H{
			"content": content,
			"flags":   flagEphemeral,
		},
	}
}

func emailModal() gin.H {
	return gin.H{
		"type": responseModal,
		"data": gin.H{
			"custom_id": customIDEmailModal,
			"title":     "Verify your email",
			"components": []gin.H{{
				"type": 1,
				"components": []gin.H{{
					"type":        4, // text input
					"custom_id":   customIDEmailField,
					"label":       "Institutional email address",
					"style":       1,
					"required":    true,
					"placeholder": "you@university.edu",
				}},
			}},
		},
	}
}

func codeModal() gin.H {
	return gin.H{
		"type": responseModal,
		"data": gin.H{
			"custom_id": customIDCodeModal,
			"title":     "Enter your verification code",
			"components": []gin.H{{
				"type": 1,
				"components": []gin.H{{
					"type":       4,
					"custom_id":  customIDCodeField,
					"label":      "Code from the email",
					"style":      1,
					"required":   true,
					"min_length": 4,
					"max_length": 8,
				}},
			}},
		},
	}
}
