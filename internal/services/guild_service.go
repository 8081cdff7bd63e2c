package services

import (
	"context"
	"errors"
	"time"

	"github.com/guildgate/backend/internal/config"
	"github.com/guildgate/backend/internal/models"
	"github.com/guildgate/backend/internal/verifycode"
	"gorm.io/gorm"
)

type GuildService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewGuildService(db *gorm.DB, cfg *config.Config) *GuildService {
	return &GuildService{db: db, cfg: cfg}
}

// SnapshotPolicy loads the guild configuration and applies server
// defaults, producing the immutable per-request policy snapshot the
// verification engine consumes. Returns (nil, nil) when the guild has
// no configuration.
func (s *GuildService) SnapshotPolicy(ctx context.Context, guildID string) (*GuildPolicy, error) {
	var gc models.GuildConfig
	if err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&gc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	codeLength := s.cfg.CodeLength
	if gc.CodeLength > 0 {
		codeLength = gc.CodeLength
	}
	if codeLength < verifycode.MinLength || codeLength > verifycode.MaxLength {
		codeLength = verifycode.DefaultLength
	}

	sessionTTL := s.cfg.SessionTTL
	if gc.SessionTTLSeconds > 0 {
		sessionTTL = time.Duration(gc.SessionTTLSeconds) * time.Second
	}

	return &GuildPolicy{
		GuildID:        gc.GuildID,
		GuildName:      gc.GuildName,
		AllowedDomains: gc.Domains(),
		RoleID:         gc.VerifiedRoleID,
		ChannelID:      gc.AnnouncementChannelID,
		CodeLength:     codeLength,
		SessionTTL:     sessionTTL,
		MaxAttempts:    s.cfg.MaxAttempts,
		Enabled:        gc.Enabled,
	}, nil
}

// GetByGuildID retrieves a guild configuration
func (s *GuildService) GetByGuildID(guildID string) (*models.GuildConfig, error) {
	var gc models.GuildConfig
	if err := s.db.Where("guild_id = ?", guildID).First(&gc).Error; err != nil {
		return nil, err
	}
	return &gc, nil
}

// List returns all guild configurations with pagination
func (s *GuildService) List(page, limit int) ([]*models.GuildConfig, int64, error) {
	var configs []*models.GuildConfig
	var total int64

	if err := s.db.Model(&models.GuildConfig{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := s.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&configs).Error; err != nil {
		return nil, 0, err
	}

	return configs, total, nil
}

// Upsert creates or updates the configuration for a guild
func (s *GuildService) Upsert(gc *models.GuildConfig) (*models.GuildConfig, error) {
	var existing models.GuildConfig
	err := s.db.Where("guild_id = ?", gc.GuildID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.Create(gc).Error; err != nil {
			return nil, err
		}
		return gc, nil
	}
	if err != nil {
		return nil, err
	}

	existing.GuildName = gc.GuildName
	existing.AllowedEmailDomains = gc.AllowedEmailDomains
	existing.VerifiedRoleID = gc.VerifiedRoleID
	existing.AnnouncementChannelID = gc.AnnouncementChannelID
	existing.CodeLength = gc.CodeLength
	existing.SessionTTLSeconds = gc.SessionTTLSeconds
	existing.Enabled = gc.Enabled
	if err := s.db.Save(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// Delete removes a guild configuration
func (s *GuildService) Delete(guildID string) error {
	return s.db.Where("guild_id = ?", guildID).Delete(&models.GuildConfig{}).Error
}
