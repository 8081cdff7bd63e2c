package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog records security-relevant events: webhook authentication
// failures, policy rejections, lockouts, grants and admin actions
type AuditLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Event     string    `gorm:"type:varchar(100);not null;index" json:"event"` // e.g., "auth_failure", "lockout", "role_granted"
	UserID    string    `gorm:"type:varchar(32);index" json:"user_id,omitempty"`
	GuildID   string    `gorm:"type:varchar(32);index" json:"guild_id,omitempty"`
	Details   string    `gorm:"type:text" json:"details,omitempty"` // JSON string with additional info
	IPAddress string    `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}
