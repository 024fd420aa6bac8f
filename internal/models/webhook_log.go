package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentWebhookLog keeps every gateway event we receive, verbatim. The core
// never acts on these rows; they exist so manual reconciliation (and an
// eventual webhook consumer) can compare gateway state with local state.
type PaymentWebhookLog struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	PaymentID *string `gorm:"type:uuid;index" json:"payment_id,omitempty"`

	EventType     string         `gorm:"type:varchar(100)" json:"event_type"`
	TransactionID string         `gorm:"type:varchar(100);index" json:"transaction_id"`
	Status        string         `gorm:"type:varchar(50)" json:"status"`
	RawPayload    datatypes.JSON `json:"raw_payload"`

	Processed    bool   `gorm:"default:false;index" json:"processed"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`
}

// BeforeCreate assigns a UUID when none was provided
func (l *PaymentWebhookLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
