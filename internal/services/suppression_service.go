package services

import (
	"context"
	"errors"
	"strings"

	"github.com/guildgate/backend/internal/models"
	"gorm.io/gorm"
)

// SuppressionService keeps the list of addresses that must not receive
// mail, fed by provider bounce/complaint notifications and manual admin
// entries
type SuppressionService struct {
	db *gorm.DB
}

func NewSuppressionService(db *gorm.DB) *SuppressionService {
	return &SuppressionService{db: db}
}

// IsSuppressed reports whether the address is on the suppression list
func (s *SuppressionService) IsSuppressed(ctx context.Context, address string) (bool, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SuppressedAddress{}).
		Where("address = ?", address).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Suppress adds an address to the suppression list. Re-suppressing an
// already-listed address updates the reason.
func (s *SuppressionService) Suppress(address, reason, detail string) error {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return errors.New("address is required")
	}

	var existing models.SuppressedAddress
	err := s.db.Where("address = ?", address).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&models.SuppressedAddress{
			Address: address,
			Reason:  reason,
			Detail:  detail,
		}).Error
	}
	if err != nil {
		return err
	}

	existing.Reason = reason
	existing.Detail = detail
	return s.db.Save(&existing).Error
}

// Unsuppress removes an address from the list
func (s *SuppressionService) Unsuppress(address string) error {
	address = strings.ToLower(strings.TrimSpace(address))
	return s.db.Where("address = ?", address).Delete(&models.SuppressedAddress{}).Error
}

// List returns suppressed addresses with pagination
func (s *SuppressionService) List(page, limit int) ([]*models.SuppressedAddress, int64, error) {
	var entries []*models.SuppressedAddress
	var total int64

	if err := s.db.Model(&models.SuppressedAddress{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := s.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
