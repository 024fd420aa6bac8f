package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"senderos_booking/internal/models"
)

var (
	// ErrRouteInactive means the route was soft-deactivated by its operator
	ErrRouteInactive = errors.New("la ruta no está activa")
	// ErrPastBookingDate means the requested excursion date already passed
	ErrPastBookingDate = errors.New("la fecha de la excursión debe ser futura")
)

// ParticipantCountError reports which participant bound a booking violated.
type ParticipantCountError struct {
	Min, Max, Got int
}

func (e *ParticipantCountError) Error() string {
	if e.Got < e.Min {
		return fmt.Sprintf("se requieren mínimo %d participantes", e.Min)
	}
	return fmt.Sprintf("máximo %d participantes por reserva", e.Max)
}

// InsufficientCapacityError reports how many slots the date actually has left.
type InsufficientCapacityError struct {
	Requested int
	Available int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("cupos insuficientes: %d cupos disponibles", e.Available)
}

// RouteStore is the persistence capability the booking flow needs from the
// route side: lookups plus the per-date availability ledger.
type RouteStore interface {
	FindByID(ctx context.Context, id string) (*models.Route, error)
	List(ctx context.Context, page, pageSize int, requiresPayment, isActive *bool) ([]models.Route, int64, error)
	GetOrCreateAvailability(ctx context.Context, route *models.Route, date time.Time) (*models.RouteAvailability, error)
	ReserveSlots(ctx context.Context, routeID string, date time.Time, n int) error
	ReleaseSlots(ctx context.Context, routeID string, date time.Time, n, maxCapacity int) error
}

// ValidatedBooking is the outcome of a successful validation: the resolved
// availability record and the exact amount to charge.
type ValidatedBooking struct {
	Route         *models.Route
	Availability  *models.RouteAvailability
	Participants  int
	AmountInCents int64
}

// BookingService enforces the business rules of a reservation. It reads the
// ledger but never mutates it; consuming slots is the orchestrator's step.
type BookingService struct {
	routes RouteStore
}

func NewBookingService(routes RouteStore) *BookingService {
	return &BookingService{routes: routes}
}

// Validate checks, in order: the route is active, the participant count is
// within the route's bounds, and the date still has enough open slots. The
// first failed check wins. On success it returns the booking with the total
// amount computed as base price × participants, exact in COP cents.
func (s *BookingService) Validate(ctx context.Context, route *models.Route, bookingDate time.Time, participants int) (*ValidatedBooking, error) {
	if !route.IsActive {
		return nil, ErrRouteInactive
	}

	if participants < route.MinParticipants || participants > route.MaxParticipantsPerBooking {
		return nil, &ParticipantCountError{
			Min: route.MinParticipants,
			Max: route.MaxParticipantsPerBooking,
			Got: participants,
		}
	}

	availability, err := s.routes.GetOrCreateAvailability(ctx, route, bookingDate)
	if err != nil {
		return nil, err
	}
	if !availability.HasSlotsFor(participants) {
		return nil, &InsufficientCapacityError{
			Requested: participants,
			Available: availability.AvailableSlots,
		}
	}

	return &ValidatedBooking{
		Route:         route,
		Availability:  availability,
		Participants:  participants,
		AmountInCents: route.BasePriceCents * int64(participants),
	}, nil
}
