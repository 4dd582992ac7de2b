package models

import (
	"encoding/json"
	"time"
)

// Booking statuses. A booking starts out confirmed (capacity already
// consumed), then moves to paid or cancelled from webhook reconciliation.
const (
	BookingStatusPending         = "pending"
	BookingStatusConfirmed       = "confirmed"
	BookingStatusAwaitingPayment = "awaiting_payment"
	BookingStatusPaid            = "paid"
	BookingStatusCancelled       = "cancelled"
)

// Payment statuses as stored on the payments row.
const (
	PaymentStatusInitiated = "initiated"
	PaymentStatusSuccess   = "success"
	PaymentStatusFailed    = "failed"
)

// Trip represents a scheduled departure with a seat-availability counter.
// seats_available is only ever mutated through conditioned updates in the
// booking confirm path (decrement) and the failed-payment compensation
// path (increment).
type Trip struct {
	ID             int64     `json:"id" db:"id"`
	Route          string    `json:"route" db:"route"`
	DepartureTime  time.Time `json:"departure_time" db:"departure_time"`
	Status         string    `json:"status" db:"status"`
	SeatsAvailable int       `json:"seats_available" db:"seats_available"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Seat belongs to exactly one trip's seat map.
type Seat struct {
	ID         int64  `json:"id" db:"id"`
	TripID     int64  `json:"trip_id" db:"trip_id"`
	SeatNumber string `json:"seat_number" db:"seat_number"`
	IsWindow   bool   `json:"is_window" db:"is_window"`
}

// Booking references a trip and seat. The database enforces a uniqueness
// constraint on (trip_id, seat_id), which is the authoritative guard
// against double booking regardless of what the lock layer saw.
type Booking struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	TripID      int64     `json:"trip_id" db:"trip_id"`
	SeatID      int64     `json:"seat_id" db:"seat_id"`
	Status      string    `json:"status" db:"status"`
	TotalAmount float64   `json:"total_amount" db:"total_amount"`
	BookedAt    time.Time `json:"booked_at" db:"booked_at"`
}

// Payment tracks one attempt against a provider. provider_ref is unique
// so a webhook can always be matched back to a single record.
type Payment struct {
	ID          int64      `json:"id" db:"id"`
	BookingID   *int64     `json:"booking_id" db:"booking_id"`
	Amount      float64    `json:"amount" db:"amount"`
	Currency    string     `json:"currency" db:"currency"`
	Provider    string     `json:"provider" db:"provider"`
	ProviderRef string     `json:"provider_ref" db:"provider_ref"`
	Status      string     `json:"status" db:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty" db:"paid_at"`
}

// Ticket is issued exactly once when a booking transitions to paid.
type Ticket struct {
	ID           int64           `json:"id" db:"id"`
	BookingID    int64           `json:"booking_id" db:"booking_id"`
	TicketNumber string          `json:"ticket_number" db:"ticket_number"`
	IssuedAt     time.Time       `json:"issued_at" db:"issued_at"`
	Meta         json.RawMessage `json:"meta,omitempty" db:"meta"`
}
