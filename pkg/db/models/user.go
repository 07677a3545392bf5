package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a host account. Webhook reconciliation resolves users by billing
// email, so the column carries a unique index.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string    `gorm:"column:email;not null;unique"`
	FullName  string    `gorm:"column:full_name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
