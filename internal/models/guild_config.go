package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GuildConfig holds the verification policy for one Discord guild. It is
// written by the admin dashboard and consumed read-only per request by the
// verification engine.
type GuildConfig struct {
	ID                    uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	GuildID               string    `gorm:"uniqueIndex;not null" json:"guild_id"`
	GuildName             string    `json:"guild_name"`
	AllowedEmailDomains   string    `gorm:"type:text;not null" json:"allowed_email_domains"` // comma-separated
	VerifiedRoleID        string    `gorm:"not null" json:"verified_role_id"`
	AnnouncementChannelID string    `json:"announcement_channel_id"`
	CodeLength            int       `gorm:"default:0" json:"code_length"`         // 0 = server default
	SessionTTLSeconds     int       `gorm:"default:0" json:"session_ttl_seconds"` // 0 = server default
	Enabled               bool      `gorm:"default:true" json:"enabled"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (g *GuildConfig) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// Domains returns the allow-list as a normalized slice
func (g *GuildConfig) Domains() []string {
	parts := strings.Split(g.AllowedEmailDomains, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
