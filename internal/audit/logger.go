package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is a structured audit record emitted for every lock, booking
// and reconciliation transition.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	BookingID int64     `json:"booking_id,omitempty"`
	TripID    int64     `json:"trip_id,omitempty"`
	SeatID    int64     `json:"seat_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) LogLock(tripID, seatID int64, status string) {
	l.log(Event{
		Timestamp: time.Now(),
		EventType: "SEAT_LOCK",
		TripID:    tripID,
		SeatID:    seatID,
		Status:    status,
	})
}

func (l *Logger) LogBooking(bookingID, tripID, seatID int64, status string) {
	l.log(Event{
		Timestamp: time.Now(),
		EventType: "BOOKING",
		BookingID: bookingID,
		TripID:    tripID,
		SeatID:    seatID,
		Status:    status,
	})
}

func (l *Logger) LogPayment(paymentID, bookingID int64, provider, status string) {
	l.log(Event{
		Timestamp: time.Now(),
		EventType: "PAYMENT",
		BookingID: bookingID,
		Provider:  provider,
		Status:    status,
		Details:   map[string]int64{"payment_id": paymentID},
	})
}

func (l *Logger) LogReconciliation(bookingID int64, provider, status string) {
	l.log(Event{
		Timestamp: time.Now(),
		EventType: "RECONCILIATION",
		BookingID: bookingID,
		Provider:  provider,
		Status:    status,
	})
}

func (l *Logger) log(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[AUDIT] Failed to marshal event: %v", err)
		return
	}
	log.Printf("[AUDIT] %s", data)
}
