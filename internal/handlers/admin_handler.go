package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/guildgate/backend/internal/models"
	"github.com/guildgate/backend/internal/services"
	"github.com/guildgate/backend/pkg/validation"
)

type AdminHandler struct {
	guildService       *services.GuildService
	suppressionService *services.SuppressionService
	auditService       *services.AuditService
	backupService      *services.BackupService
	qrService          *services.QRService
}

func NewAdminHandler(
	guildService *services.GuildService,
	suppressionService *services.SuppressionService,
	auditService *services.AuditService,
	backupService *services.BackupService,
	qrService *services.QRService,
) *AdminHandler {
	return &AdminHandler{
		guildService:       guildService,
		suppressionService: suppressionService,
		auditService:       auditService,
		backupService:      backupService,
		qrService:          qrService,
	}
}

func (h *AdminHandler) recordAdminAction(c *gin.Context, action string, details map[string]interface{}) {
	userID := ""
	if id, exists := c.Get("userID"); exists {
		userID = fmt.Sprintf("%v", id)
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	details["action"] = action
	h.auditService.Record(services.AuditAdminAction, userID, "", details, c.ClientIP())
}

// ListGuilds returns all guild configurations with pagination
func (h *AdminHandler) ListGuilds(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	guilds, total, err := h.guildService.List(page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch guilds"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"guilds": guilds,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetGuild returns a single guild configuration
func (h *AdminHandler) GetGuild(c *gin.Context) {
	gc, err := h.guildService.GetByGuildID(c.Param("guildId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Guild not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guild": gc})
}

// UpsertGuild creates or updates a guild configuration
func (h *AdminHandler) UpsertGuild(c *gin.Context) {
	var req struct {
		GuildID              string   `json:"guild_id" binding:"required"`
		GuildName            string   `json:"guild_name"`
		AllowedEmailDomains  []string `json:"allowed_email_domains" binding:"required,min=1"`
		VerifiedRoleID       string   `json:"verified_role_id" binding:"required"`
		AnnouncementChannelID string  `json:"announcement_channel_id"`
		CodeLength           int      `json:"code_length"`
		SessionTTLSeconds    int      `json:"session_ttl_seconds"`
		Enabled              *bool    `json:"enabled"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, domain := range req.AllowedEmailDomains {
		if !validation.ValidateEmail("probe@" + strings.TrimSpace(domain)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid email domain: %s", domain)})
			return
		}
	}

	gc := &models.GuildConfig{
		GuildID:               req.GuildID,
		GuildName:             validation.SanitizeString(req.GuildName),
		AllowedEmailDomains:   strings.ToLower(strings.Join(req.AllowedEmailDomains, ",")),
		VerifiedRoleID:        req.VerifiedRoleID,
		AnnouncementChannelID: req.AnnouncementChannelID,
		CodeLength:            req.CodeLength,
		SessionTTLSeconds:     req.SessionTTLSeconds,
		Enabled:               req.Enabled == nil || *req.Enabled,
	}

	saved, err := h.guildService.Upsert(gc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save guild"})
		return
	}

	h.recordAdminAction(c, "guild_upsert", map[string]interface{}{"guild_id": req.GuildID})
	c.JSON(http.StatusOK, gin.H{"guild": saved})
}

// DeleteGuild removes a guild configuration
func (h *AdminHandler) DeleteGuild(c *gin.Context) {
	guildID := c.Param("guildId")
	if err := h.guildService.Delete(guildID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete guild"})
		return
	}
	h.recordAdminAction(c, "guild_delete", map[string]interface{}{"guild_id": guildID})
	c.JSON(http.StatusOK, gin.H{"message": "Guild deleted"})
}

// DownloadGuildQR generates an onboarding QR poster PDF for a guild
func (h *AdminHandler) DownloadGuildQR(c *gin.Context) {
	gc, err := h.guildService.GetByGuildID(c.Param("guildId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Guild not found"})
		return
	}

	pdf, err := h.qrService.GenerateOnboardingQRPDF(gc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate PDF"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=onboarding-%s.pdf", gc.GuildID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// ListSuppressed returns the suppression list with pagination
func (h *AdminHandler) ListSuppressed(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	entries, total, err := h.suppressionService.List(page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch suppression list"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"suppressed": entries,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// AddSuppressed manually adds an address to the suppression list
func (h *AdminHandler) AddSuppressed(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
		Detail  string `json:"detail"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !validation.ValidateEmail(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email format"})
		return
	}

	if err := h.suppressionService.Suppress(req.Address, models.SuppressionReasonManual, req.Detail); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to suppress address"})
		return
	}

	h.recordAdminAction(c, "suppression_add", nil)
	c.JSON(http.StatusCreated, gin.H{"message": "Address suppressed"})
}

// RemoveSuppressed removes an address from the suppression list
func (h *AdminHandler) RemoveSuppressed(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.suppressionService.Unsuppress(req.Address); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove address"})
		return
	}

	h.recordAdminAction(c, "suppression_remove", nil)
	c.JSON(http.StatusOK, gin.H{"message": "Address removed"})
}

// ListAuditEvents returns recent audit events, filterable by event
// type and guild
func (h *AdminHandler) ListAuditEvents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	event := c.Query("event")
	guildID := c.Query("guild_id")

	events, total, err := h.auditService.GetRecentEvents(page, limit, event, guildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch audit events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetAuditStats returns aggregate verification statistics
func (h *AdminHandler) GetAuditStats(c *gin.Context) {
	stats, err := h.auditService.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListBackups returns audit export objects stored in S3
func (h *AdminHandler) ListBackups(c *gin.Context) {
	if h.backupService == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Backups are not configured"})
		return
	}

	keys, err := h.backupService.ListExports(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list exports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exports": keys})
}

// TriggerBackup runs an audit export immediately
func (h *AdminHandler) TriggerBackup(c *gin.Context) {
	if h.backupService == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Backups are not configured"})
		return
	}

	count, err := h.backupService.ExportAuditLogs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
		return
	}

	h.recordAdminAction(c, "backup_trigger", map[string]interface{}{"records": count})
	c.JSON(http.StatusOK, gin.H{"message": "Export complete", "records": count})
}
