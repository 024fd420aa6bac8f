package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"senderos_booking/internal/models"
)

var (
	// ErrRouteNotFound is returned when no route exists for the given id
	ErrRouteNotFound = errors.New("ruta no encontrada")
	// ErrDateUnavailable means the date was closed by an operator
	ErrDateUnavailable = errors.New("la fecha no está disponible")
	// ErrPastDate means the requested date is before today
	ErrPastDate = errors.New("la fecha debe ser futura")
)

// InsufficientSlotsError is returned when a reservation asks for more slots
// than the date has left.
type InsufficientSlotsError struct {
	Requested int
	Remaining int
}

func (e *InsufficientSlotsError) Error() string {
	return fmt.Sprintf("cupos insuficientes: %d cupos disponibles, %d solicitados", e.Remaining, e.Requested)
}

// DateOnly truncates a time to its calendar date in UTC. Availability rows are
// keyed by date, so every lookup and write must go through this.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RouteRepo provides route lookups and the per-date availability ledger.
type RouteRepo struct {
	db *gorm.DB
}

func NewRouteRepo(db *gorm.DB) *RouteRepo {
	return &RouteRepo{db: db}
}

// FindByID returns a route by id, soft-deleted rows excluded.
func (r *RouteRepo) FindByID(ctx context.Context, id string) (*models.Route, error) {
	var route models.Route
	if err := r.db.WithContext(ctx).First(&route, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}
	return &route, nil
}

// List returns active routes paginated, newest first. Filters are optional.
func (r *RouteRepo) List(ctx context.Context, page, pageSize int, requiresPayment, isActive *bool) ([]models.Route, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&models.Route{})
	if requiresPayment != nil {
		query = query.Where("requires_payment = ?", *requiresPayment)
	}
	if isActive != nil {
		query = query.Where("is_active = ?", *isActive)
	} else {
		// Only active routes unless the caller asked otherwise
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var routes []models.Route
	err := query.Order("created_at desc").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&routes).Error
	if err != nil {
		return nil, 0, err
	}
	return routes, total, nil
}

// GetOrCreateAvailability returns the availability record for (route, date),
// lazily creating it seeded with the route's max capacity. The insert uses
// ON CONFLICT DO NOTHING against the (route_id, date) unique index, so two
// concurrent first-accesses converge on a single row.
func (r *RouteRepo) GetOrCreateAvailability(ctx context.Context, route *models.Route, date time.Time) (*models.RouteAvailability, error) {
	day := DateOnly(date)

	availability := models.RouteAvailability{
		RouteID:        route.ID,
		Date:           day,
		AvailableSlots: route.MaxCapacity,
		IsAvailable:    true,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&availability).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create availability: %w", err)
	}

	// Re-read: either we just inserted it or another writer beat us to it.
	var current models.RouteAvailability
	err = r.db.WithContext(ctx).
		Where("route_id = ? AND date = ?", route.ID, day).
		First(&current).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load availability: %w", err)
	}
	return &current, nil
}

// ReserveSlots atomically decrements the remaining slots for (route, date).
// The decrement is a single conditional UPDATE guarded on the current count,
// so concurrent reservations can never drive the counter negative; a losing
// writer simply affects zero rows and gets a capacity error built from a
// fresh read.
func (r *RouteRepo) ReserveSlots(ctx context.Context, routeID string, date time.Time, n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid slot count %d", n)
	}
	day := DateOnly(date)
	if day.Before(DateOnly(time.Now().UTC())) {
		return ErrPastDate
	}

	res := r.db.WithContext(ctx).Model(&models.RouteAvailability{}).
		Where("route_id = ? AND date = ? AND is_available = ? AND available_slots >= ?", routeID, day, true, n).
		UpdateColumn("available_slots", gorm.Expr("available_slots - ?", n))
	if res.Error != nil {
		return fmt.Errorf("failed to reserve slots: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Nothing matched: figure out which precondition failed.
	var current models.RouteAvailability
	err := r.db.WithContext(ctx).
		Where("route_id = ? AND date = ?", routeID, day).
		First(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDateUnavailable
		}
		return err
	}
	if !current.IsAvailable {
		return ErrDateUnavailable
	}
	return &InsufficientSlotsError{Requested: n, Remaining: current.AvailableSlots}
}

// ReleaseSlots returns n slots to (route, date), clamped at maxCapacity.
func (r *RouteRepo) ReleaseSlots(ctx context.Context, routeID string, date time.Time, n, maxCapacity int) error {
	if n <= 0 {
		return fmt.Errorf("invalid slot count %d", n)
	}
	day := DateOnly(date)

	res := r.db.WithContext(ctx).Model(&models.RouteAvailability{}).
		Where("route_id = ? AND date = ?", routeID, day).
		UpdateColumn("available_slots", gorm.Expr(
			"CASE WHEN available_slots + ? > ? THEN ? ELSE available_slots + ? END",
			n, maxCapacity, maxCapacity, n,
		))
	if res.Error != nil {
		return fmt.Errorf("failed to release slots: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Printf("[LEDGER] Release on missing availability - Route: %s, Date: %s", routeID, day.Format("2006-01-02"))
	}
	return nil
}

// MarkDateUnavailable closes a date for bookings without touching its counter.
func (r *RouteRepo) MarkDateUnavailable(ctx context.Context, routeID string, date time.Time) error {
	return r.setDateAvailable(ctx, routeID, date, false)
}

// MarkDateAvailable reopens a date. Past dates stay closed.
func (r *RouteRepo) MarkDateAvailable(ctx context.Context, routeID string, date time.Time) error {
	if DateOnly(date).Before(DateOnly(time.Now().UTC())) {
		return ErrPastDate
	}
	return r.setDateAvailable(ctx, routeID, date, true)
}

func (r *RouteRepo) setDateAvailable(ctx context.Context, routeID string, date time.Time, available bool) error {
	res := r.db.WithContext(ctx).Model(&models.RouteAvailability{}).
		Where("route_id = ? AND date = ?", routeID, DateOnly(date)).
		UpdateColumn("is_available", available)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
