package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the account that owns payments. Registration and profile management
// live in a separate service; this model only carries what bookings need.
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name  string `gorm:"type:varchar(255)" json:"name"`
	Phone string `gorm:"type:varchar(50)" json:"phone"`
	Email string `gorm:"type:varchar(255);uniqueIndex" json:"email"`

	// Relationships
	Payments []Payment `gorm:"foreignKey:UserID" json:"payments,omitempty"`
}
