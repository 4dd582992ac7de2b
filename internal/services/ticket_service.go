package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/ibbs/backend/internal/models"
)

// TicketService issues travel tickets for paid bookings. A ticket
// carries a unique number and a QR rendering of it for gate scanning.
type TicketService struct {
	db *sql.DB
}

func NewTicketService(db *sql.DB) *TicketService {
	return &TicketService{db: db}
}

// Issue creates the ticket row for a booking that just transitioned to
// paid. The ticket_number uniqueness constraint stops a second ticket
// for the same booking even if this is called twice.
func (s *TicketService) Issue(ctx context.Context, bookingID int64) (*models.Ticket, error) {
	number := fmt.Sprintf("TKT-%s", strings.ToUpper(uuid.New().String()[:8]))

	qrImage, err := renderQR(number, bookingID)
	if err != nil {
		return nil, err
	}

	meta, err := json.Marshal(map[string]string{"qr_png_base64": qrImage})
	if err != nil {
		return nil, err
	}

	ticket := &models.Ticket{
		BookingID:    bookingID,
		TicketNumber: number,
		IssuedAt:     time.Now().UTC(),
		Meta:         meta,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tickets (booking_id, ticket_number, issued_at, meta)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, ticket.BookingID, ticket.TicketNumber, ticket.IssuedAt, ticket.Meta).Scan(&ticket.ID)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// GetByBooking fetches the ticket issued for a booking.
func (s *TicketService) GetByBooking(ctx context.Context, bookingID int64) (*models.Ticket, error) {
	t := &models.Ticket{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, booking_id, ticket_number, issued_at, meta
		FROM tickets
		WHERE booking_id = $1
	`, bookingID).Scan(&t.ID, &t.BookingID, &t.TicketNumber, &t.IssuedAt, &t.Meta)
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTicket retrieves the ticket for a paid booking
// @Summary Get ticket by booking ID
// @Tags tickets
// @Produce json
// @Security BearerAuth
// @Param bookingId path int true "Booking ID"
// @Success 200 {object} models.Ticket
// @Failure 404 {object} services.ErrorResponse
// @Router /tickets/{bookingId} [get]
func (s *TicketService) GetTicket(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(chi.URLParam(r, "bookingId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid booking id", http.StatusBadRequest, nil)
		return
	}

	ticket, err := s.GetByBooking(r.Context(), bookingID)
	if err == ErrTicketNotFound {
		SendErrorResponse(w, "Ticket not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch ticket", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, ticket)
}

func renderQR(ticketNumber string, bookingID int64) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"ticket_number": ticketNumber,
		"booking_id":    bookingID,
	})
	if err != nil {
		return "", err
	}

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
