package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibbs/backend/internal/models"
	"github.com/ibbs/backend/internal/providers"
)

// The cancel-then-rebook lifecycle: a confirmed booking whose payment
// fails is cancelled, its seat capacity and lease are freed, and a
// different user can then lock and book the same seat.
func TestSeatLifecycle_CancelThenRebook(t *testing.T) {
	ctx := context.Background()

	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	rdb, redisMock := redismock.NewClientMock()

	cfg := testBookingConfig()
	locks := NewSeatLockService(rdb)
	bookings := NewBookingService(db, locks, cfg)
	payments := NewPaymentService(
		db, rdb,
		providers.NewRegistry(providers.NewMTN("mtn-secret")),
		locks,
		NewTicketService(db),
		NewNotificationService(rdb),
		cfg,
	)

	// User A confirms seat (10, 3) off a held lease.
	expectConsume(redisMock, 10, 3, "tok-a", true)
	dbMock.ExpectBegin()
	dbMock.ExpectExec("UPDATE trips").
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectQuery("INSERT INTO bookings").
		WithArgs(int64(42), int64(10), int64(3), models.BookingStatusConfirmed, 25000.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))
	dbMock.ExpectCommit()

	booking, err := bookings.Confirm(ctx, 10, 3, "tok-a", 42, 25000)
	require.NoError(t, err)
	require.Equal(t, int64(77), booking.ID)

	// The provider reports the payment failed: booking 77 cancels, the
	// seat counter is restored and the residual lease is removed.
	body := []byte(`{"transaction_id":"mtn_r1","status":"failed","amount":25000}`)

	redisMock.ExpectSetNX("payment_webhook:mtn:mtn_r1", "1", 24*time.Hour).SetVal(true)
	dbMock.ExpectBegin()
	dbMock.ExpectQuery("SELECT id, booking_id FROM payments").
		WithArgs("mtn_r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id"}).AddRow(int64(6), int64(77)))
	dbMock.ExpectExec("UPDATE payments SET status").
		WithArgs(models.PaymentStatusFailed, int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectQuery("SELECT trip_id, seat_id FROM bookings").
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"trip_id", "seat_id"}).AddRow(int64(10), int64(3)))
	dbMock.ExpectExec("UPDATE bookings SET status").
		WithArgs(models.BookingStatusCancelled, int64(77), models.BookingStatusConfirmed, models.BookingStatusAwaitingPayment).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(`UPDATE trips SET seats_available = seats_available \+ 1`).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()
	redisMock.ExpectDel(lockKey(10, 3)).SetVal(1)
	redisMock.Regexp().ExpectRPush(notificationQueue, `.*`).SetVal(1)

	w := postWebhook(payments, "mtn", body, signBody("mtn-secret", body))
	require.Equal(t, http.StatusOK, w.Code)

	// User B locks the now-free seat and confirms it.
	redisMock.Regexp().ExpectSetNX(lockKey(10, 3), `.*`, cfg.LockTTLDefault).SetVal(true)

	lease, err := locks.Acquire(ctx, 10, 3, cfg.LockTTLDefault)
	require.NoError(t, err)

	expectConsume(redisMock, 10, 3, lease.Token, true)
	dbMock.ExpectBegin()
	dbMock.ExpectExec("UPDATE trips").
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectQuery("INSERT INTO bookings").
		WithArgs(int64(51), int64(10), int64(3), models.BookingStatusConfirmed, 25000.0, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(78)))
	dbMock.ExpectCommit()

	rebooked, err := bookings.Confirm(ctx, 10, 3, lease.Token, 51, 25000)
	require.NoError(t, err)
	assert.Equal(t, int64(78), rebooked.ID)

	assert.NoError(t, dbMock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}
