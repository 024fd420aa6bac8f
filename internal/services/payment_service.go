package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"senderos_booking/internal/models"
)

// ErrNotPaymentOwner means the requester does not own the payment
var ErrNotPaymentOwner = errors.New("no tiene permisos para acceder a este pago")

const banksCacheKey = "wompi:financial_institutions"
const banksCacheTTL = 15 * time.Minute

// PersistenceError wraps a failed local write so the transport layer can tell
// storage failures apart from validation ones.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("error al guardar el pago: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PaymentStore is the persistence capability for payments and participants.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment, participants []models.PaymentParticipant) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	UpdateStatusAndURL(ctx context.Context, id string, status models.PaymentStatus, redirectURL *string) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Payment, error)
	LogWebhook(ctx context.Context, entry *models.PaymentWebhookLog) error
}

// BookingParticipant is one person on an incoming reservation. The first one
// is the titular and acts as payer-of-record toward the gateway.
type BookingParticipant struct {
	FullName              string
	Phone                 string
	Email                 *string
	EmergencyContactName  string
	EmergencyContactPhone string
}

// Requester identifies the authenticated user placing the booking.
type Requester struct {
	ID    uint
	Email string
}

// ProcessPaymentInput is everything needed to create a booking payment.
type ProcessPaymentInput struct {
	RouteID                  string
	BookingDate              time.Time
	Participants             []BookingParticipant
	UserLegalID              string
	UserLegalIDType          string
	UserType                 int
	FinancialInstitutionCode string
	Reference                string // optional, generated when empty
	Notes                    string
}

// PaymentResult echoes the created payment back to the caller.
type PaymentResult struct {
	PaymentID         string               `json:"payment_id"`
	TransactionID     string               `json:"transaction_id"`
	Status            models.PaymentStatus `json:"status"`
	RedirectURL       *string              `json:"redirect_url"`
	AmountInCents     int64                `json:"amount_in_cents"`
	Reference         string               `json:"reference"`
	RouteID           string               `json:"route_id"`
	BookingDate       string               `json:"booking_date"`
	TotalParticipants int                  `json:"total_participants"`
}

// PaymentStatusView merges locally stored payment fields with the freshest
// gateway metadata.
type PaymentStatusView struct {
	PaymentID         string               `json:"payment_id"`
	TransactionID     string               `json:"transaction_id"`
	Status            models.PaymentStatus `json:"status"`
	AmountInCents     int64                `json:"amount_in_cents"`
	Reference         string               `json:"reference"`
	RedirectURL       *string              `json:"redirect_url"`
	TicketID          *string              `json:"ticket_id"`
	ReturnCode        *string              `json:"return_code"`
	BookingDate       *string              `json:"booking_date"`
	TotalParticipants int                  `json:"total_participants"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	CompletedAt       *time.Time           `json:"completed_at"`
}

// PaymentService orchestrates booking payments end to end: it validates the
// reservation, consumes slots, creates the remote charge and persists the
// local record; and it reconciles local payment state against the gateway on
// caller-driven polls.
type PaymentService struct {
	routes    RouteStore
	payments  PaymentStore
	gateway   PaymentGateway
	validator *BookingService
	cache     *RedisCache
}

func NewPaymentService(routes RouteStore, payments PaymentStore, gateway PaymentGateway, cache *RedisCache) *PaymentService {
	return &PaymentService{
		routes:    routes,
		payments:  payments,
		gateway:   gateway,
		validator: NewBookingService(routes),
		cache:     cache,
	}
}

// statusFromGateway maps a Wompi status string onto the local state machine.
func statusFromGateway(s string) models.PaymentStatus {
	switch models.PaymentStatus(s) {
	case models.PaymentStatusPending, models.PaymentStatusApproved,
		models.PaymentStatusDeclined, models.PaymentStatusError, models.PaymentStatusVoided:
		return models.PaymentStatus(s)
	default:
		log.Printf("[PAYMENT] Unknown gateway status %q, treating as PENDING", s)
		return models.PaymentStatusPending
	}
}

// ProcessPayment creates a booking payment. Slots are reserved before the
// gateway call and released again on any later failure; the one failure with
// no compensation is a successful remote charge whose local persist failed.
// That transaction id is logged for manual reconciliation and the error is
// surfaced, never swallowed.
func (s *PaymentService) ProcessPayment(ctx context.Context, requester Requester, input ProcessPaymentInput) (*PaymentResult, error) {
	if len(input.Participants) == 0 {
		return nil, &ParticipantCountError{Min: 1, Max: 1, Got: 0}
	}
	bookingDay := input.BookingDate
	if bookingDay.Before(time.Now().UTC().Truncate(24 * time.Hour)) {
		return nil, ErrPastBookingDate
	}

	log.Printf("[PAYMENT] Processing - User: %d, Route: %s, Date: %s, Participants: %d",
		requester.ID, input.RouteID, bookingDay.Format("2006-01-02"), len(input.Participants))

	route, err := s.routes.FindByID(ctx, input.RouteID)
	if err != nil {
		return nil, err
	}

	booking, err := s.validator.Validate(ctx, route, bookingDay, len(input.Participants))
	if err != nil {
		return nil, err
	}

	// Consume slots up front so a verified capacity cannot be stolen while
	// the gateway round-trip is in flight.
	if err := s.routes.ReserveSlots(ctx, route.ID, bookingDay, booking.Participants); err != nil {
		return nil, err
	}

	reference := input.Reference
	if reference == "" {
		reference = fmt.Sprintf("PAY_USER_%d_%d", requester.ID, time.Now().Unix())
	}

	titular := input.Participants[0]
	tx, err := s.gateway.CreatePSETransaction(ctx, PSETransactionParams{
		AmountInCents:            booking.AmountInCents,
		Reference:                reference,
		CustomerEmail:            requester.Email,
		CustomerPhone:            titular.Phone,
		CustomerFullName:         titular.FullName,
		UserLegalID:              input.UserLegalID,
		UserLegalIDType:          input.UserLegalIDType,
		UserType:                 input.UserType,
		FinancialInstitutionCode: input.FinancialInstitutionCode,
	})
	if err != nil {
		s.releaseReserved(ctx, route, bookingDay, booking.Participants)
		log.Printf("[PAYMENT] Gateway create failed - Reference: %s, Error: %v", reference, err)
		return nil, err
	}

	userType := fmt.Sprintf("%d", input.UserType)
	day := booking.Availability.Date
	payment := &models.Payment{
		UserID:             requester.ID,
		RouteID:            &route.ID,
		AmountInCents:      booking.AmountInCents,
		Currency:           "COP",
		Status:             statusFromGateway(tx.Status),
		PaymentMethod:      models.PaymentMethodPSE,
		WompiTransactionID: &tx.TransactionID,
		WompiReference:     reference,
		WompiPaymentLink:   tx.RedirectURL,
		PayerEmail:         requester.Email,
		PayerPhone:         titular.Phone,
		PayerFullName:      titular.FullName,
		BankCode:           &input.FinancialInstitutionCode,
		UserType:           &userType,
		BookingDate:        &day,
		TotalParticipants:  booking.Participants,
		Notes:              input.Notes,
	}

	participants := make([]models.PaymentParticipant, 0, len(input.Participants))
	for _, p := range input.Participants {
		participants = append(participants, models.PaymentParticipant{
			FullName:              p.FullName,
			Phone:                 p.Phone,
			Email:                 p.Email,
			EmergencyContactName:  p.EmergencyContactName,
			EmergencyContactPhone: p.EmergencyContactPhone,
		})
	}

	if err := s.payments.Create(ctx, payment, participants); err != nil {
		s.releaseReserved(ctx, route, bookingDay, booking.Participants)
		// Remote charge exists with no local record. There is no rollback on
		// the rail; keep the transaction id loud so it can be reconciled by
		// hand or from the webhook log.
		log.Printf("[PAYMENT] ORPHANED remote charge - Transaction: %s, Reference: %s, User: %d, Error: %v",
			tx.TransactionID, reference, requester.ID, err)
		return nil, &PersistenceError{Err: err}
	}

	log.Printf("[PAYMENT] Processed - Payment: %s, Transaction: %s, Status: %s",
		payment.ID, tx.TransactionID, payment.Status)

	return &PaymentResult{
		PaymentID:         payment.ID,
		TransactionID:     tx.TransactionID,
		Status:            payment.Status,
		RedirectURL:       tx.RedirectURL,
		AmountInCents:     booking.AmountInCents,
		Reference:         reference,
		RouteID:           route.ID,
		BookingDate:       day.Format("2006-01-02"),
		TotalParticipants: booking.Participants,
	}, nil
}

func (s *PaymentService) releaseReserved(ctx context.Context, route *models.Route, date time.Time, n int) {
	if err := s.routes.ReleaseSlots(ctx, route.ID, date, n, route.MaxCapacity); err != nil {
		log.Printf("[PAYMENT] Failed to release %d slots - Route: %s, Date: %s, Error: %v",
			n, route.ID, date.Format("2006-01-02"), err)
	}
}

// CheckStatus re-queries the gateway for the payment's transaction and merges
// the answer into the local record. Repeated polls with an unchanged remote
// status perform no write. Only the payment's owner may ask.
func (s *PaymentService) CheckStatus(ctx context.Context, paymentID string, requesterID uint) (*PaymentStatusView, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.UserID != requesterID {
		return nil, ErrNotPaymentOwner
	}

	if payment.WompiTransactionID == nil {
		// No remote charge was ever recorded; local state is all there is.
		return s.viewFor(payment, nil), nil
	}

	remote, err := s.gateway.GetTransactionStatus(ctx, *payment.WompiTransactionID)
	if err != nil {
		return nil, err
	}

	remoteStatus := statusFromGateway(remote.Status)
	statusChanged := remoteStatus != payment.Status
	urlIsNew := remote.RedirectURL != nil && payment.WompiPaymentLink == nil

	if statusChanged || urlIsNew {
		log.Printf("[CHECK_STATUS] Updating - Payment: %s, %s -> %s, NewURL: %t",
			payment.ID, payment.Status, remoteStatus, urlIsNew)
		payment, err = s.payments.UpdateStatusAndURL(ctx, payment.ID, remoteStatus, remote.RedirectURL)
		if err != nil {
			return nil, &PersistenceError{Err: err}
		}
	}

	return s.viewFor(payment, remote), nil
}

func (s *PaymentService) viewFor(payment *models.Payment, remote *TransactionResult) *PaymentStatusView {
	view := &PaymentStatusView{
		PaymentID:         payment.ID,
		Status:            payment.Status,
		AmountInCents:     payment.AmountInCents,
		Reference:         payment.WompiReference,
		RedirectURL:       payment.WompiPaymentLink,
		TotalParticipants: payment.TotalParticipants,
		CreatedAt:         payment.CreatedAt,
		UpdatedAt:         payment.UpdatedAt,
		CompletedAt:       payment.CompletedAt,
	}
	if payment.WompiTransactionID != nil {
		view.TransactionID = *payment.WompiTransactionID
	}
	if payment.BookingDate != nil {
		d := payment.BookingDate.Format("2006-01-02")
		view.BookingDate = &d
	}
	if remote != nil {
		// Gateway-sourced metadata wins when present
		if remote.RedirectURL != nil {
			view.RedirectURL = remote.RedirectURL
		}
		view.TicketID = remote.TicketID
		view.ReturnCode = remote.ReturnCode
	}
	return view
}

// ListUserPayments returns the requester's payment history, newest first.
func (s *PaymentService) ListUserPayments(ctx context.Context, userID uint) ([]models.Payment, error) {
	return s.payments.ListByUser(ctx, userID)
}

// ListFinancialInstitutions returns the PSE bank list, cached in Redis for a
// short window since the gateway's list rarely changes.
func (s *PaymentService) ListFinancialInstitutions(ctx context.Context) ([]FinancialInstitution, error) {
	return GetOrSet(s.cache, ctx, banksCacheKey, banksCacheTTL, func() ([]FinancialInstitution, error) {
		return s.gateway.GetFinancialInstitutions(ctx)
	})
}

// RecordWebhook persists a raw gateway event for later reconciliation.
func (s *PaymentService) RecordWebhook(ctx context.Context, entry *models.PaymentWebhookLog) error {
	return s.payments.LogWebhook(ctx, entry)
}
