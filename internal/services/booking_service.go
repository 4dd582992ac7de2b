package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"

	"github.com/ibbs/backend/internal/audit"
	"github.com/ibbs/backend/internal/config"
	"github.com/ibbs/backend/internal/models"
)

// BookingService converts a validated lease into a durable booking. The
// confirm path runs as a single transaction: a conditioned decrement of
// trips.seats_available followed by the booking insert, with the
// (trip_id, seat_id) uniqueness constraint as the last line of defense
// against double booking.
type BookingService struct {
	db        *sql.DB
	locks     *SeatLockService
	cfg       *config.BookingConfig
	validator *ValidationHelper
	audit     *audit.Logger
}

func NewBookingService(db *sql.DB, locks *SeatLockService, cfg *config.BookingConfig) *BookingService {
	return &BookingService{
		db:        db,
		locks:     locks,
		cfg:       cfg,
		validator: NewValidationHelper(),
		audit:     audit.NewLogger(),
	}
}

// Confirm consumes the lease and commits the booking. Outcomes:
// ErrLeaseInvalid (caller must re-lock), ErrNoSeats (capacity exhausted
// by a path that never took a lease), ErrSeatTaken (uniqueness
// constraint fired). On success both the decrement and the insert are
// durable together.
func (s *BookingService) Confirm(ctx context.Context, tripID, seatID int64, token string, userID int64, amount float64) (*models.Booking, error) {
	if err := s.locks.Consume(ctx, tripID, seatID, token); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE trips
		SET seats_available = seats_available - 1
		WHERE id = $1 AND seats_available > 0
	`, tripID)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrNoSeats
	}

	booking := &models.Booking{
		UserID:      userID,
		TripID:      tripID,
		SeatID:      seatID,
		Status:      models.BookingStatusConfirmed,
		TotalAmount: amount,
		BookedAt:    time.Now().UTC(),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bookings (user_id, trip_id, seat_id, status, total_amount, booked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, booking.UserID, booking.TripID, booking.SeatID, booking.Status, booking.TotalAmount, booking.BookedAt).Scan(&booking.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrSeatTaken
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.audit.LogBooking(booking.ID, tripID, seatID, booking.Status)
	return booking, nil
}

// GetBooking fetches one booking row.
func (s *BookingService) GetBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	b := &models.Booking{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, trip_id, seat_id, status, total_amount, booked_at
		FROM bookings
		WHERE id = $1
	`, bookingID).Scan(&b.ID, &b.UserID, &b.TripID, &b.SeatID, &b.Status, &b.TotalAmount, &b.BookedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// HTTP surface

// LockSeat acquires a time-bounded exclusive lease on a seat
// @Summary Lock a seat
// @Description Acquire a short-lived exclusive lock on a (trip, seat) pair before confirming
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{tripId=int,seatId=int,ttlSeconds=int} true "Seat lock request"
// @Success 200 {object} services.Lease
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /bookings/locks [post]
func (s *BookingService) LockSeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TripID     int64 `json:"tripId" validate:"required,gt=0"`
		SeatID     int64 `json:"seatId" validate:"required,gt=0"`
		TTLSeconds int   `json:"ttlSeconds" validate:"omitempty,gt=0"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ttl := s.cfg.LockTTLDefault
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
		if ttl > s.cfg.LockTTLMax {
			ttl = s.cfg.LockTTLMax
		}
	}

	lease, err := s.locks.Acquire(r.Context(), req.TripID, req.SeatID, ttl)
	if err == ErrSeatLocked {
		SendErrorResponse(w, "Seat already locked", http.StatusConflict, nil)
		return
	}
	if err != nil {
		log.Printf("[BOOKING] Lock acquire failed for trip %d seat %d: %v", req.TripID, req.SeatID, err)
		SendErrorResponse(w, "Failed to lock seat", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogLock(req.TripID, req.SeatID, "ACQUIRED")
	SendJSON(w, http.StatusOK, lease)
}

// ConfirmBooking consumes a lease and commits the booking
// @Summary Confirm a booking
// @Description Consume a seat lock token and create the booking, decrementing trip capacity atomically
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{tripId=int,seatId=int,token=string,amount=number} true "Booking confirmation"
// @Success 201 {object} models.Booking
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /bookings/confirm [post]
func (s *BookingService) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		TripID int64   `json:"tripId" validate:"required,gt=0"`
		SeatID int64   `json:"seatId" validate:"required,gt=0"`
		Token  string  `json:"token" validate:"required,uuid4"`
		Amount float64 `json:"amount" validate:"omitempty,gte=0"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	booking, err := s.Confirm(r.Context(), req.TripID, req.SeatID, req.Token, userID, req.Amount)
	switch {
	case err == ErrLeaseInvalid:
		SendErrorResponse(w, "Invalid or expired lock token", http.StatusConflict, nil)
		return
	case err == ErrNoSeats:
		SendErrorResponse(w, "No seats available", http.StatusConflict, nil)
		return
	case err == ErrSeatTaken:
		SendErrorResponse(w, "Seat already booked", http.StatusConflict, nil)
		return
	case err != nil:
		log.Printf("[BOOKING] Confirm failed for trip %d seat %d: %v", req.TripID, req.SeatID, err)
		SendErrorResponse(w, "Failed to confirm booking", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusCreated, booking)
}

// ReleaseLock voluntarily or administratively frees a seat lock
// @Summary Release a seat lock
// @Description Release a seat lock; with a token only the matching lease is removed, without one the release is unconditional
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{tripId=int,seatId=int,token=string} true "Release request"
// @Success 200 {object} object{released=bool}
// @Failure 409 {object} services.ErrorResponse
// @Router /bookings/locks/release [post]
func (s *BookingService) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TripID int64  `json:"tripId" validate:"required,gt=0"`
		SeatID int64  `json:"seatId" validate:"required,gt=0"`
		Token  string `json:"token" validate:"omitempty,uuid4"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	err := s.locks.Release(r.Context(), req.TripID, req.SeatID, req.Token)
	if err == ErrLeaseInvalid {
		SendErrorResponse(w, "Token mismatch or lock not owned", http.StatusConflict, nil)
		return
	}
	if err != nil {
		log.Printf("[BOOKING] Lock release failed for trip %d seat %d: %v", req.TripID, req.SeatID, err)
		SendErrorResponse(w, "Failed to release lock", http.StatusInternalServerError, nil)
		return
	}

	s.audit.LogLock(req.TripID, req.SeatID, "RELEASED")
	SendJSON(w, http.StatusOK, map[string]bool{"released": true})
}

// GetBookingByID retrieves a booking
// @Summary Get booking by ID
// @Tags bookings
// @Produce json
// @Security BearerAuth
// @Param bookingId path int true "Booking ID"
// @Success 200 {object} models.Booking
// @Failure 404 {object} services.ErrorResponse
// @Router /bookings/{bookingId} [get]
func (s *BookingService) GetBookingByID(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(chi.URLParam(r, "bookingId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid booking id", http.StatusBadRequest, nil)
		return
	}

	booking, err := s.GetBooking(r.Context(), bookingID)
	if err == ErrBookingNotFound {
		SendErrorResponse(w, "Booking not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch booking", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, booking)
}

// TripAvailability reads the current seat counter for a trip
// @Summary Get trip seat availability
// @Tags trips
// @Produce json
// @Security BearerAuth
// @Param tripId path int true "Trip ID"
// @Success 200 {object} object{tripId=int,seatsAvailable=int,status=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /trips/{tripId}/availability [get]
func (s *BookingService) TripAvailability(w http.ResponseWriter, r *http.Request) {
	tripID, err := strconv.ParseInt(chi.URLParam(r, "tripId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid trip id", http.StatusBadRequest, nil)
		return
	}

	var seats int
	var status string
	err = s.db.QueryRowContext(r.Context(), `
		SELECT seats_available, status FROM trips WHERE id = $1
	`, tripID).Scan(&seats, &status)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Trip not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch trip", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"tripId":         tripID,
		"seatsAvailable": seats,
		"status":         status,
	})
}

// userIDFromContext reads the authenticated user id injected by the
// auth middleware.
func userIDFromContext(ctx context.Context) (int64, bool) {
	raw, ok := ctx.Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
