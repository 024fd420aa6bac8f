package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"senderos_booking/internal/models"
)

// ErrPaymentNotFound is returned when no payment exists for the given key
var ErrPaymentNotFound = errors.New("pago no encontrado")

// PaymentRepo persists payments and their participants.
type PaymentRepo struct {
	db *gorm.DB
}

func NewPaymentRepo(db *gorm.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

// Create writes the payment and all its participants in one transaction.
// Either every row lands or none do. Participant ordering starts at 1 and the
// first participant is stamped as the titular.
func (r *PaymentRepo) Create(ctx context.Context, payment *models.Payment, participants []models.PaymentParticipant) error {
	log.Printf("[PAYMENT_REPO] Creating payment - User: %d, Reference: %s, Participants: %d",
		payment.UserID, payment.WompiReference, len(participants))

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		for i := range participants {
			participants[i].PaymentID = payment.ID
			participants[i].Order = i + 1
		}
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist payment %s: %w", payment.WompiReference, err)
	}

	log.Printf("[PAYMENT_REPO] Payment created - ID: %s", payment.ID)
	return nil
}

// GetByID returns a payment with its participants ordered by position.
func (r *PaymentRepo) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc")
		}).
		First(&payment, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByTransactionID returns a payment by its gateway transaction id.
func (r *PaymentRepo) GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Participants").
		First(&payment, "wompi_transaction_id = ?", transactionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetByReference returns a payment by its gateway reference.
func (r *PaymentRepo) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Participants").
		First(&payment, "wompi_reference = ?", reference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// UpdateStatusAndURL merges the freshest gateway state into the row in a
// single write. The redirect URL is only stored when none was stored before,
// and completed_at is set only on the first transition into APPROVED.
func (r *PaymentRepo) UpdateStatusAndURL(ctx context.Context, id string, status models.PaymentStatus, redirectURL *string) (*models.Payment, error) {
	payment, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"status": status}

	if redirectURL != nil && *redirectURL != "" && payment.WompiPaymentLink == nil {
		updates["wompi_payment_link"] = *redirectURL
	}
	if status == models.PaymentStatusApproved && payment.CompletedAt == nil {
		updates["completed_at"] = time.Now().UTC()
	}

	err = r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update payment %s: %w", id, err)
	}

	log.Printf("[PAYMENT_REPO] Payment updated - ID: %s, Status: %s -> %s", id, payment.Status, status)
	return r.GetByID(ctx, id)
}

// ListByUser returns every payment owned by the user, newest first.
func (r *PaymentRepo) ListByUser(ctx context.Context, userID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Preload("Route").
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// LogWebhook stores a raw gateway event for later reconciliation. The payment
// association is best-effort: events for unknown transactions are kept too.
func (r *PaymentRepo) LogWebhook(ctx context.Context, entry *models.PaymentWebhookLog) error {
	if entry.TransactionID != "" {
		if payment, err := r.GetByTransactionID(ctx, entry.TransactionID); err == nil {
			entry.PaymentID = &payment.ID
		}
	}
	return r.db.WithContext(ctx).Create(entry).Error
}
