package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"senderos_booking/internal/middleware"
	"senderos_booking/internal/models"
	"senderos_booking/internal/services"
)

type PaymentHandler struct {
	payments *services.PaymentService
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type participantRequest struct {
	FullName              string  `json:"full_name" validate:"required,max=200"`
	Phone                 string  `json:"phone" validate:"required,max=20"`
	Email                 *string `json:"email" validate:"omitempty,email"`
	EmergencyContactName  string  `json:"emergency_contact_name" validate:"required,max=200"`
	EmergencyContactPhone string  `json:"emergency_contact_phone" validate:"required,max=20"`
}

type processPaymentRequest struct {
	RouteID                  string               `json:"route_id" validate:"required,uuid4"`
	BookingDate              string               `json:"booking_date" validate:"required,datetime=2006-01-02"`
	Participants             []participantRequest `json:"participants" validate:"required,min=1,max=10,dive"`
	UserLegalID              string               `json:"user_legal_id" validate:"required,numeric,max=50"`
	UserLegalIDType          string               `json:"user_legal_id_type" validate:"omitempty,oneof=CC CE NIT PP TI"`
	UserType                 int                  `json:"user_type" validate:"oneof=0 1"`
	FinancialInstitutionCode string               `json:"financial_institution_code" validate:"required,numeric"`
	Reference                string               `json:"reference" validate:"omitempty,max=100"`
	Notes                    string               `json:"notes"`
}

// ProcessPayment handles POST /api/payments: validates the reservation,
// creates the PSE charge and persists the payment with its participants.
func (h *PaymentHandler) ProcessPayment(c echo.Context) error {
	var req processPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cuerpo de la petición inválido")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	bookingDate, err := time.Parse("2006-01-02", req.BookingDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "formato de fecha inválido, use YYYY-MM-DD")
	}
	if req.UserLegalIDType == "" {
		req.UserLegalIDType = "CC"
	}

	participants := make([]services.BookingParticipant, 0, len(req.Participants))
	for _, p := range req.Participants {
		participants = append(participants, services.BookingParticipant{
			FullName:              p.FullName,
			Phone:                 p.Phone,
			Email:                 p.Email,
			EmergencyContactName:  p.EmergencyContactName,
			EmergencyContactPhone: p.EmergencyContactPhone,
		})
	}

	requester := services.Requester{
		ID:    middleware.UserID(c),
		Email: middleware.UserEmail(c),
	}

	result, err := h.payments.ProcessPayment(c.Request().Context(), requester, services.ProcessPaymentInput{
		RouteID:                  req.RouteID,
		BookingDate:              bookingDate,
		Participants:             participants,
		UserLegalID:              req.UserLegalID,
		UserLegalIDType:          req.UserLegalIDType,
		UserType:                 req.UserType,
		FinancialInstitutionCode: req.FinancialInstitutionCode,
		Reference:                req.Reference,
		Notes:                    req.Notes,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, result)
}

// GetPaymentStatus handles GET /api/payments/:id/status: re-queries the
// gateway and returns the merged view. Only the payment's owner may poll.
func (h *PaymentHandler) GetPaymentStatus(c echo.Context) error {
	view, err := h.payments.CheckStatus(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// ListMyPayments handles GET /api/payments: the requester's payment history.
func (h *PaymentHandler) ListMyPayments(c echo.Context) error {
	payments, err := h.payments.ListUserPayments(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":    len(payments),
		"payments": payments,
	})
}

// ListFinancialInstitutions handles GET /api/payments/financial-institutions.
func (h *PaymentHandler) ListFinancialInstitutions(c echo.Context) error {
	institutions, err := h.payments.ListFinancialInstitutions(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": institutions})
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Transaction struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"transaction"`
	} `json:"data"`
}

// ReceiveWompiWebhook handles POST /webhooks/wompi. Events are stored raw and
// unprocessed; reconciliation stays caller-driven.
func (h *PaymentHandler) ReceiveWompiWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil || len(body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "cuerpo del webhook inválido")
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cuerpo del webhook inválido")
	}

	entry := &models.PaymentWebhookLog{
		EventType:     event.Event,
		TransactionID: event.Data.Transaction.ID,
		Status:        event.Data.Transaction.Status,
		RawPayload:    body,
	}
	if err := h.payments.RecordWebhook(c.Request().Context(), entry); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}
