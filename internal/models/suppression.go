package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SuppressionReasonBounce    = "bounce"
	SuppressionReasonComplaint = "complaint"
	SuppressionReasonManual    = "manual"
)

// SuppressedAddress records an email address that must not receive mail,
// built from provider bounce/complaint notifications. Verification codes
// are never sent to a suppressed address.
type SuppressedAddress struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Address   string    `gorm:"uniqueIndex;not null" json:"address"`
	Reason    string    `gorm:"type:varchar(20);not null" json:"reason"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *SuppressedAddress) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (SuppressedAddress) TableName() string {
	return "suppressed_addresses"
}
