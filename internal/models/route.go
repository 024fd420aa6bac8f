package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RouteDifficulty is the declared difficulty of a hiking route
type RouteDifficulty string

const (
	DifficultyEasy   RouteDifficulty = "Fácil"
	DifficultyMedium RouteDifficulty = "Medio"
	DifficultyHard   RouteDifficulty = "Difícil"
)

// Route represents a bookable hiking route offering
type Route struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Title       string          `gorm:"type:varchar(200)" json:"title"`
	Location    string          `gorm:"type:varchar(200)" json:"location"`
	Distance    string          `gorm:"type:varchar(50)" json:"distance"`
	Duration    string          `gorm:"type:varchar(50)" json:"duration"`
	Difficulty  RouteDifficulty `gorm:"type:varchar(10)" json:"difficulty"`
	Description string          `gorm:"type:text" json:"description"`

	// Contact info of the offering company
	Company  *string `gorm:"type:varchar(200)" json:"company,omitempty"`
	Phone    string  `gorm:"type:varchar(20)" json:"phone"`
	Email    string  `gorm:"type:varchar(255)" json:"email"`
	Whatsapp string  `gorm:"type:varchar(20)" json:"whatsapp"`

	// Pricing and booking configuration. Prices are COP cents.
	BasePriceCents            int64 `gorm:"default:0" json:"base_price_cents"`
	RequiresPayment           bool  `gorm:"default:false" json:"requires_payment"`
	MaxCapacity               int   `gorm:"default:20" json:"max_capacity"`
	MinParticipants           int   `gorm:"default:1" json:"min_participants"`
	MaxParticipantsPerBooking int   `gorm:"default:10" json:"max_participants_per_booking"`
	IsActive                  bool  `gorm:"default:true" json:"is_active"`

	// Relationships
	Availabilities []RouteAvailability `gorm:"foreignKey:RouteID" json:"availabilities,omitempty"`
	Payments       []Payment           `gorm:"foreignKey:RouteID" json:"payments,omitempty"`
}

// BeforeCreate assigns a UUID when none was provided
func (r *Route) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// RouteAvailability tracks the remaining slots of a route on a calendar date.
// Records are created lazily on first query for a date, seeded with the
// route's max capacity. The (route_id, date) pair is unique so concurrent
// first-access cannot produce two counters for the same day.
type RouteAvailability struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RouteID        string    `gorm:"type:uuid;uniqueIndex:idx_route_date;not null" json:"route_id"`
	Date           time.Time `gorm:"type:date;uniqueIndex:idx_route_date;not null" json:"date"`
	AvailableSlots int       `json:"available_slots"`
	IsAvailable    bool      `gorm:"default:true" json:"is_available"`

	Route Route `gorm:"foreignKey:RouteID" json:"route,omitempty"`
}

// HasSlotsFor reports whether the date can still take n more people.
func (a RouteAvailability) HasSlotsFor(n int) bool {
	return a.IsAvailable && a.AvailableSlots >= n
}
