package services

import "errors"

// Contention and lease errors are normal control flow for the booking
// paths, so they are sentinels the handlers translate rather than raw
// storage errors.
var (
	// ErrSeatLocked: a live lease already exists for the (trip, seat).
	ErrSeatLocked = errors.New("seat already locked")

	// ErrLeaseInvalid: the lease is gone or the token does not match.
	ErrLeaseInvalid = errors.New("invalid or expired lock token")

	// ErrNoSeats: the conditioned capacity decrement matched no row.
	ErrNoSeats = errors.New("no seats available")

	// ErrSeatTaken: the (trip, seat) uniqueness constraint fired.
	ErrSeatTaken = errors.New("seat already booked")

	// ErrBookingNotFound: no booking row for the given id.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrTicketNotFound: no ticket issued for the given booking.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrUnknownProvider: no adapter registered under that name.
	ErrUnknownProvider = errors.New("unknown payment provider")
)
