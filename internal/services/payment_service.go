package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/ibbs/backend/internal/audit"
	"github.com/ibbs/backend/internal/config"
	"github.com/ibbs/backend/internal/models"
	"github.com/ibbs/backend/internal/providers"
)

// WebhookAck is returned on every non-reject webhook path, replays
// included, so providers are not encouraged to retry.
type WebhookAck struct {
	Received bool `json:"received"`
}

// PaymentService initiates payments through provider adapters and
// reconciles their asynchronous webhooks against bookings. Webhook
// processing is idempotent per (provider, event id); the booking status
// flip and the compensating capacity increment are gated on the current
// status inside one transaction, so a replayed or duplicated failure
// event can never double-increment a trip's capacity.
type PaymentService struct {
	db        *sql.DB
	redis     *redis.Client
	registry  *providers.Registry
	locks     *SeatLockService
	tickets   *TicketService
	notifier  *NotificationService
	cfg       *config.BookingConfig
	validator *ValidationHelper
	audit     *audit.Logger
}

func NewPaymentService(db *sql.DB, rdb *redis.Client, registry *providers.Registry, locks *SeatLockService, tickets *TicketService, notifier *NotificationService, cfg *config.BookingConfig) *PaymentService {
	return &PaymentService{
		db:        db,
		redis:     rdb,
		registry:  registry,
		locks:     locks,
		tickets:   tickets,
		notifier:  notifier,
		cfg:       cfg,
		validator: NewValidationHelper(),
		audit:     audit.NewLogger(),
	}
}

func dedupKey(provider, eventID string) string {
	return fmt.Sprintf("payment_webhook:%s:%s", provider, eventID)
}

// markEventProcessed writes the idempotency marker for (provider,
// eventID) as a single atomic set-if-absent. A false return means the
// event was already processed.
func (s *PaymentService) markEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	return s.redis.SetNX(ctx, dedupKey(provider, eventID), "1", s.cfg.WebhookRetention).Result()
}

// InitiatePayment opens a payment with a provider
// @Summary Initiate a payment
// @Description Delegate to the named provider adapter and persist an initiated payment record
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{bookingId=int,provider=string,amount=number,currency=string} true "Payment initiation"
// @Success 201 {object} object{provider=string,providerRef=string,checkoutUrl=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/initiate [post]
func (s *PaymentService) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID int64   `json:"bookingId" validate:"required,gt=0"`
		Provider  string  `json:"provider" validate:"required"`
		Amount    float64 `json:"amount" validate:"required,gt=0"`
		Currency  string  `json:"currency" validate:"required,len=3"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	adapter, ok := s.registry.Get(req.Provider)
	if !ok {
		SendErrorResponse(w, "Unknown payment provider", http.StatusNotFound, nil)
		return
	}

	var bookingStatus string
	err := s.db.QueryRowContext(r.Context(),
		`SELECT status FROM bookings WHERE id = $1`, req.BookingID).Scan(&bookingStatus)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Booking not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[PAYMENT] Booking lookup failed for %d: %v", req.BookingID, err)
		SendErrorResponse(w, "Failed to initiate payment", http.StatusInternalServerError, nil)
		return
	}

	initRes, err := adapter.Initiate(r.Context(), req.BookingID, req.Amount, req.Currency)
	if err != nil {
		log.Printf("[PAYMENT] Provider initiate failed for booking %d: %v", req.BookingID, err)
		SendErrorResponse(w, "Failed to initiate payment", http.StatusInternalServerError, nil)
		return
	}

	var paymentID int64
	err = s.db.QueryRowContext(r.Context(), `
		INSERT INTO payments (booking_id, amount, currency, provider, provider_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, req.BookingID, req.Amount, req.Currency, adapter.Name(), initRes.ProviderRef, models.PaymentStatusInitiated).Scan(&paymentID)
	if err != nil {
		log.Printf("[PAYMENT] Failed to store payment for booking %d: %v", req.BookingID, err)
		SendErrorResponse(w, "Failed to store payment record", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogPayment(paymentID, req.BookingID, adapter.Name(), models.PaymentStatusInitiated)
	SendJSON(w, http.StatusCreated, map[string]any{
		"paymentId":   paymentID,
		"provider":    adapter.Name(),
		"providerRef": initRes.ProviderRef,
		"checkoutUrl": initRes.CheckoutURL,
	})
}

// HandleWebhook applies a provider's asynchronous payment verdict
// @Summary Payment provider webhook
// @Description Verify, deduplicate and apply a payment provider event; replays are acknowledged with no state change
// @Tags payments
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Success 200 {object} services.WebhookAck
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/webhook/{provider} [post]
func (s *PaymentService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	adapter, ok := s.registry.Get(providerName)
	if !ok {
		SendErrorResponse(w, "Unknown payment provider", http.StatusNotFound, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	// Signature over the exact raw bytes; nothing is mutated before this
	// check passes.
	if !adapter.VerifySignature(r.Header, body) {
		log.Printf("[WEBHOOK] Invalid signature from provider %s", adapter.Name())
		SendErrorResponse(w, "Invalid signature", http.StatusBadRequest, nil)
		return
	}

	event, err := adapter.Normalize(body)
	if err != nil {
		log.Printf("[WEBHOOK] Rejected %s event: %v", adapter.Name(), err)
		SendErrorResponse(w, "Missing event id for idempotency", http.StatusBadRequest, nil)
		return
	}

	added, err := s.markEventProcessed(r.Context(), adapter.Name(), event.EventID)
	if err != nil {
		log.Printf("[WEBHOOK] Dedup store unavailable for %s event %s: %v", adapter.Name(), event.EventID, err)
		SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}
	if !added {
		// Replay: acknowledged with zero side effects.
		log.Printf("[WEBHOOK] Replayed %s event %s acknowledged", adapter.Name(), event.EventID)
		SendJSON(w, http.StatusOK, WebhookAck{Received: true})
		return
	}

	if err := s.reconcile(r.Context(), adapter.Name(), event); err != nil {
		log.Printf("[WEBHOOK] Reconciliation failed for %s event %s: %v", adapter.Name(), event.EventID, err)
		SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, WebhookAck{Received: true})
}

// reconcileResult carries what happened inside the transaction so the
// best-effort follow-ups (lease release, ticket, notification) can run
// after commit.
type reconcileResult struct {
	bookingID  int64
	tripID     int64
	seatID     int64
	transition string // "paid", "cancelled" or ""
}

// reconcile locates or creates the payment record for the event and
// drives the booking state machine forward (paid) or backward
// (cancelled plus capacity restore). All ledger writes commit together.
func (s *PaymentService) reconcile(ctx context.Context, providerName string, event *providers.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var paymentID int64
	var bookingID sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT id, booking_id FROM payments WHERE provider_ref = $1 FOR UPDATE
	`, event.ProviderRef).Scan(&paymentID, &bookingID)
	if err == sql.ErrNoRows {
		// First sighting of this reference: create the record lazily so
		// the verdict is not lost, with no booking to act on.
		err = tx.QueryRowContext(ctx, `
			INSERT INTO payments (booking_id, amount, currency, provider, provider_ref, status)
			VALUES (NULL, $1, $2, $3, $4, $5)
			RETURNING id
		`, event.Amount, s.cfg.DefaultCurrency, providerName, event.ProviderRef, paymentStatusFor(event)).Scan(&paymentID)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		if event.Status == providers.StatusSuccess {
			_, err = tx.ExecContext(ctx,
				`UPDATE payments SET status = $1, paid_at = NOW() WHERE id = $2`,
				paymentStatusFor(event), paymentID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE payments SET status = $1 WHERE id = $2`,
				paymentStatusFor(event), paymentID)
		}
		if err != nil {
			return err
		}
	}

	res := reconcileResult{}
	switch event.Status {
	case providers.StatusSuccess:
		if bookingID.Valid {
			res.bookingID = bookingID.Int64
			transitioned, err := s.markBookingPaid(ctx, tx, bookingID.Int64)
			if err != nil {
				return err
			}
			if transitioned {
				res.transition = models.BookingStatusPaid
			}
		}
	case providers.StatusFailed:
		if bookingID.Valid {
			res.bookingID = bookingID.Int64
			tripID, seatID, transitioned, err := s.cancelBooking(ctx, tx, bookingID.Int64)
			if err != nil {
				return err
			}
			if transitioned {
				res.transition = models.BookingStatusCancelled
				res.tripID = tripID
				res.seatID = seatID
			}
		}
	default:
		// Unknown verdicts are recorded on the payment row and left for
		// a later event or manual resolution; the booking keeps its last
		// known good state.
		log.Printf("[WEBHOOK] Unknown %s status %q for ref %s recorded, no transition",
			providerName, event.RawStatus, event.ProviderRef)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.afterReconcile(ctx, providerName, res)
	return nil
}

// markBookingPaid flips a booking to paid, gated on its current status
// so the transition happens at most once. Capacity is untouched: it was
// consumed at confirm time.
func (s *PaymentService) markBookingPaid(ctx context.Context, tx *sql.Tx, bookingID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = $1
		WHERE id = $2 AND status IN ($3, $4)
	`, models.BookingStatusPaid, bookingID, models.BookingStatusConfirmed, models.BookingStatusAwaitingPayment)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// cancelBooking flips a booking to cancelled and restores the trip's
// seat counter. The increment only runs when the status flip affected a
// row, which pairs it 1:1 with the decrement taken at confirm time even
// when failure events arrive more than once.
func (s *PaymentService) cancelBooking(ctx context.Context, tx *sql.Tx, bookingID int64) (tripID, seatID int64, transitioned bool, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT trip_id, seat_id FROM bookings WHERE id = $1 FOR UPDATE
	`, bookingID).Scan(&tripID, &seatID)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = $1
		WHERE id = $2 AND status IN ($3, $4)
	`, models.BookingStatusCancelled, bookingID, models.BookingStatusConfirmed, models.BookingStatusAwaitingPayment)
	if err != nil {
		return 0, 0, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, 0, false, err
	}
	if rows == 0 {
		return tripID, seatID, false, nil
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE trips SET seats_available = seats_available + 1 WHERE id = $1
	`, tripID); err != nil {
		return 0, 0, false, err
	}
	return tripID, seatID, true, nil
}

// afterReconcile runs the best-effort follow-ups once the ledger writes
// are durable. None of these can undo the committed transition.
func (s *PaymentService) afterReconcile(ctx context.Context, providerName string, res reconcileResult) {
	switch res.transition {
	case models.BookingStatusPaid:
		s.audit.LogReconciliation(res.bookingID, providerName, models.BookingStatusPaid)
		if _, err := s.tickets.Issue(ctx, res.bookingID); err != nil {
			log.Printf("[WEBHOOK] Ticket issue failed for booking %d: %v", res.bookingID, err)
		}
		if err := s.notifier.Enqueue(ctx, NotificationEvent{
			BookingID: res.bookingID,
			Status:    models.BookingStatusPaid,
			Provider:  providerName,
		}); err != nil {
			log.Printf("[WEBHOOK] Notification enqueue failed for booking %d: %v", res.bookingID, err)
		}
	case models.BookingStatusCancelled:
		s.audit.LogReconciliation(res.bookingID, providerName, models.BookingStatusCancelled)
		// Residual lease cleanup is advisory; a failure here self-heals
		// when the lease TTL lapses.
		if err := s.locks.Release(ctx, res.tripID, res.seatID, ""); err != nil {
			log.Printf("[WEBHOOK] Lease release failed for trip %d seat %d: %v", res.tripID, res.seatID, err)
		}
		if err := s.notifier.Enqueue(ctx, NotificationEvent{
			BookingID: res.bookingID,
			Status:    models.BookingStatusCancelled,
			Provider:  providerName,
		}); err != nil {
			log.Printf("[WEBHOOK] Notification enqueue failed for booking %d: %v", res.bookingID, err)
		}
	}
}

// paymentStatusFor maps the canonical verdict onto the payments row
// status; unknown verdicts keep the provider's raw wording for triage.
func paymentStatusFor(event *providers.Event) string {
	switch event.Status {
	case providers.StatusSuccess:
		return models.PaymentStatusSuccess
	case providers.StatusFailed:
		return models.PaymentStatusFailed
	default:
		if event.RawStatus != "" {
			return event.RawStatus
		}
		return string(providers.StatusUnknown)
	}
}
