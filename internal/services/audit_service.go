package services

import (
	"encoding/json"
	"log"
	"time"

	"github.com/guildgate/backend/internal/models"
	"gorm.io/gorm"
)

// Audit event names
const (
	AuditAuthFailure     = "auth_failure"
	AuditPolicyRejection = "policy_rejection"
	AuditThrottled       = "throttled"
	AuditCodeSent        = "code_sent"
	AuditWrongCode       = "wrong_code"
	AuditLockout         = "lockout"
	AuditRoleGranted     = "role_granted"
	AuditGrantFailed     = "grant_failed"
	AuditSuppressionAdd  = "suppression_added"
	AuditAdminAction     = "admin_action"
)

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Record writes a security event to the audit log. Failures here must
// never break the request path, so they are only logged.
func (s *AuditService) Record(event, userID, guildID string, details map[string]interface{}, ipAddress string) {
	detailsJSON := ""
	if details != nil {
		if jsonBytes, err := json.Marshal(details); err == nil {
			detailsJSON = string(jsonBytes)
		}
	}

	entry := &models.AuditLog{
		Event:     event,
		UserID:    userID,
		GuildID:   guildID,
		Details:   detailsJSON,
		IPAddress: ipAddress,
	}

	if err := s.db.Create(entry).Error; err != nil {
		log.Printf("ERROR: failed to write audit log event %s: %v", event, err)
	}
}

// GetRecentEvents retrieves recent events with pagination and filters
func (s *AuditService) GetRecentEvents(page, limit int, event, guildID string) ([]*models.AuditLog, int64, error) {
	var logs []*models.AuditLog
	var total int64

	query := s.db.Model(&models.AuditLog{})
	if event != "" {
		query = query.Where("event = ?", event)
	}
	if guildID != "" {
		query = query.Where("guild_id = ?", guildID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// ExportSince returns all events after the given instant, for the
// nightly S3 export
func (s *AuditService) ExportSince(since time.Time) ([]*models.AuditLog, error) {
	var logs []*models.AuditLog
	if err := s.db.Where("created_at > ?", since).Order("created_at ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// GetStats returns audit log statistics
func (s *AuditService) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalEvents int64
	if err := s.db.Model(&models.AuditLog{}).Count(&totalEvents).Error; err != nil {
		return nil, err
	}
	stats["total_events"] = totalEvents

	var eventCounts []struct {
		Event string
		Count int64
	}
	if err := s.db.Model(&models.AuditLog{}).
		Select("event, COUNT(*) as count").
		Group("event").
		Order("count DESC").
		Scan(&eventCounts).Error; err != nil {
		return nil, err
	}
	stats["events_by_type"] = eventCounts

	// Busiest guilds (last 30 days)
	thirtyDaysAgo := time.Now().AddDate(0, 0, -30)
	var guildCounts []struct {
		GuildID string
		Count   int64
	}
	if err := s.db.Model(&models.AuditLog{}).
		Select("guild_id, COUNT(*) as count").
		Where("created_at > ? AND guild_id <> ''", thirtyDaysAgo).
		Group("guild_id").
		Order("count DESC").
		Limit(10).
		Scan(&guildCounts).Error; err != nil {
		return nil, err
	}
	stats["busiest_guilds_30d"] = guildCounts

	// Recent activity (last 24 hours)
	twentyFourHoursAgo := time.Now().Add(-24 * time.Hour)
	var recentCount int64
	if err := s.db.Model(&models.AuditLog{}).
		Where("created_at > ?", twentyFourHoursAgo).
		Count(&recentCount).Error; err != nil {
		return nil, err
	}
	stats["events_last_24h"] = recentCount

	return stats, nil
}
