package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentStatus mirrors the transaction states reported by Wompi.
// PENDING is the only non-terminal state.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusApproved PaymentStatus = "APPROVED"
	PaymentStatusDeclined PaymentStatus = "DECLINED"
	PaymentStatusError    PaymentStatus = "ERROR"
	PaymentStatusVoided   PaymentStatus = "VOIDED"
)

// PaymentMethod is the payment rail used for the charge
type PaymentMethod string

const (
	PaymentMethodPSE PaymentMethod = "PSE"
)

// Payment represents a booking payment made by a user (the titular) that can
// cover multiple participants.
type Payment struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Owner of the payment (the logged-in user who pays)
	UserID uint `gorm:"index;not null" json:"user_id"`

	RouteID *string `gorm:"type:uuid;index" json:"route_id,omitempty"`

	AmountInCents int64         `json:"amount_in_cents"`
	Currency      string        `gorm:"type:varchar(3);default:'COP'" json:"currency"`
	Status        PaymentStatus `gorm:"type:varchar(20);default:'PENDING';index" json:"status"`
	PaymentMethod PaymentMethod `gorm:"type:varchar(20)" json:"payment_method"`

	// Wompi correlation
	WompiTransactionID *string `gorm:"type:varchar(100);uniqueIndex" json:"wompi_transaction_id,omitempty"`
	WompiReference     string  `gorm:"type:varchar(100);uniqueIndex" json:"wompi_reference"`
	WompiPaymentLink   *string `gorm:"type:varchar(500)" json:"wompi_payment_link,omitempty"`

	// Payer (titular) snapshot
	PayerEmail    string `gorm:"type:varchar(255)" json:"payer_email"`
	PayerPhone    string `gorm:"type:varchar(20)" json:"payer_phone"`
	PayerFullName string `gorm:"type:varchar(200)" json:"payer_full_name"`

	// PSE bank info
	BankCode *string `gorm:"type:varchar(50)" json:"bank_code,omitempty"`
	UserType *string `gorm:"type:varchar(20)" json:"user_type,omitempty"` // 0 natural, 1 juridica

	// Booking details
	BookingDate       *time.Time `gorm:"type:date;index" json:"booking_date,omitempty"`
	TotalParticipants int        `gorm:"default:1" json:"total_participants"`

	Notes    string         `gorm:"type:text" json:"notes"`
	Metadata datatypes.JSON `json:"metadata,omitempty"`

	// Set exactly once, on the first transition into APPROVED
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relationships
	Route        *Route               `gorm:"foreignKey:RouteID" json:"route,omitempty"`
	Participants []PaymentParticipant `gorm:"foreignKey:PaymentID" json:"participants,omitempty"`
}

// BeforeCreate assigns a UUID when none was provided
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// IsSuccessful reports whether the payment reached APPROVED.
func (p Payment) IsSuccessful() bool {
	return p.Status == PaymentStatusApproved
}

// IsPending reports whether the payment is still awaiting the gateway.
func (p Payment) IsPending() bool {
	return p.Status == PaymentStatusPending
}

// PaymentParticipant is one person covered by a payment. Participants do not
// need an account; the one with Order == 1 is always the titular (the payer).
type PaymentParticipant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PaymentID string `gorm:"type:uuid;uniqueIndex:idx_payment_order;not null" json:"payment_id"`

	FullName string  `gorm:"type:varchar(200);not null" json:"full_name"`
	Phone    string  `gorm:"type:varchar(20);not null" json:"phone"`
	Email    *string `gorm:"type:varchar(255)" json:"email,omitempty"`

	EmergencyContactName  string `gorm:"type:varchar(200);not null" json:"emergency_contact_name"`
	EmergencyContactPhone string `gorm:"type:varchar(20);not null" json:"emergency_contact_phone"`

	IsTitular bool `gorm:"default:false" json:"is_titular"`
	Order     int  `gorm:"column:position;uniqueIndex:idx_payment_order;not null" json:"order"`
}

// BeforeSave keeps the titular flag in lockstep with the ordering.
func (pp *PaymentParticipant) BeforeSave(tx *gorm.DB) error {
	pp.IsTitular = pp.Order == 1
	return nil
}
