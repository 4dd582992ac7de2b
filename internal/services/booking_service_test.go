package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibbs/backend/internal/config"
	"github.com/ibbs/backend/internal/models"
)

func testBookingConfig() *config.BookingConfig {
	return &config.BookingConfig{
		LockTTLDefault:   5 * time.Minute,
		LockTTLMax:       15 * time.Minute,
		WebhookRetention: 24 * time.Hour,
		DefaultCurrency:  "UGX",
	}
}

func newBookingTestService(t *testing.T) (*BookingService, sqlmock.Sqlmock, redismock.ClientMock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rdb, redisMock := redismock.NewClientMock()
	svc := NewBookingService(db, NewSeatLockService(rdb), testBookingConfig())
	return svc, dbMock, redisMock
}

func expectConsume(redisMock redismock.ClientMock, tripID, seatID int64, token string, ok bool) {
	val := int64(0)
	if ok {
		val = 1
	}
	redisMock.ExpectEvalSha(casDelete.Hash(), []string{lockKey(tripID, seatID)}, token).SetVal(val)
}

func TestBookingService_Confirm(t *testing.T) {
	ctx := context.Background()

	t.Run("successful confirm decrements capacity and inserts booking atomically", func(t *testing.T) {
		svc, dbMock, redisMock := newBookingTestService(t)

		expectConsume(redisMock, 10, 3, "tok-a", true)
		dbMock.ExpectBegin()
		dbMock.ExpectExec("UPDATE trips").
			WithArgs(int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectQuery("INSERT INTO bookings").
			WithArgs(int64(42), int64(10), int64(3), models.BookingStatusConfirmed, 25000.0, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))
		dbMock.ExpectCommit()

		booking, err := svc.Confirm(ctx, 10, 3, "tok-a", 42, 25000)
		require.NoError(t, err)
		assert.Equal(t, int64(77), booking.ID)
		assert.Equal(t, models.BookingStatusConfirmed, booking.Status)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired or mismatched lease returns before touching the ledger", func(t *testing.T) {
		svc, dbMock, redisMock := newBookingTestService(t)

		expectConsume(redisMock, 10, 3, "stale-token", false)

		booking, err := svc.Confirm(ctx, 10, 3, "stale-token", 42, 0)
		assert.ErrorIs(t, err, ErrLeaseInvalid)
		assert.Nil(t, booking)
		// no transaction was even opened
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("exhausted capacity aborts the transaction", func(t *testing.T) {
		svc, dbMock, redisMock := newBookingTestService(t)

		expectConsume(redisMock, 10, 3, "tok-a", true)
		dbMock.ExpectBegin()
		dbMock.ExpectExec("UPDATE trips").
			WithArgs(int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectRollback()

		_, err := svc.Confirm(ctx, 10, 3, "tok-a", 42, 0)
		assert.ErrorIs(t, err, ErrNoSeats)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("uniqueness constraint violation surfaces as seat already booked", func(t *testing.T) {
		svc, dbMock, redisMock := newBookingTestService(t)

		expectConsume(redisMock, 10, 3, "tok-a", true)
		dbMock.ExpectBegin()
		dbMock.ExpectExec("UPDATE trips").
			WithArgs(int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectQuery("INSERT INTO bookings").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_trip_seat"})
		dbMock.ExpectRollback()

		_, err := svc.Confirm(ctx, 10, 3, "tok-a", 42, 0)
		assert.ErrorIs(t, err, ErrSeatTaken)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("two confirms racing one lease produce exactly one booking", func(t *testing.T) {
		svc, dbMock, redisMock := newBookingTestService(t)

		// winner consumes the lease and commits
		expectConsume(redisMock, 10, 3, "tok-a", true)
		dbMock.ExpectBegin()
		dbMock.ExpectExec("UPDATE trips").
			WithArgs(int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectQuery("INSERT INTO bookings").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))
		dbMock.ExpectCommit()
		// loser finds the lease already consumed
		expectConsume(redisMock, 10, 3, "tok-a", false)

		winner, err := svc.Confirm(ctx, 10, 3, "tok-a", 42, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(77), winner.ID)

		loser, err := svc.Confirm(ctx, 10, 3, "tok-a", 43, 0)
		assert.ErrorIs(t, err, ErrLeaseInvalid)
		assert.Nil(t, loser)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestBookingService_Handlers(t *testing.T) {
	t.Run("lock seat conflict maps to 409", func(t *testing.T) {
		svc, _, redisMock := newBookingTestService(t)

		redisMock.Regexp().ExpectSetNX(lockKey(10, 3), `.*`, 5*time.Minute).SetVal(false)

		body, _ := json.Marshal(map[string]any{"tripId": 10, "seatId": 3})
		r := httptest.NewRequest("POST", "/bookings/locks", bytes.NewReader(body))
		w := httptest.NewRecorder()

		svc.LockSeat(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("lock seat returns lease on success", func(t *testing.T) {
		svc, _, redisMock := newBookingTestService(t)

		redisMock.Regexp().ExpectSetNX(lockKey(10, 3), `.*`, 60*time.Second).SetVal(true)

		body, _ := json.Marshal(map[string]any{"tripId": 10, "seatId": 3, "ttlSeconds": 60})
		r := httptest.NewRequest("POST", "/bookings/locks", bytes.NewReader(body))
		w := httptest.NewRecorder()

		svc.LockSeat(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var lease Lease
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lease))
		assert.NotEmpty(t, lease.Token)
	})

	t.Run("confirm without identity is unauthorized", func(t *testing.T) {
		svc, _, _ := newBookingTestService(t)

		body, _ := json.Marshal(map[string]any{"tripId": 10, "seatId": 3, "token": "0b1f1e8c-3f64-4c44-9bb4-32ab304bd9a1"})
		r := httptest.NewRequest("POST", "/bookings/confirm", bytes.NewReader(body))
		w := httptest.NewRecorder()

		svc.ConfirmBooking(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid request body is rejected", func(t *testing.T) {
		svc, _, _ := newBookingTestService(t)

		r := httptest.NewRequest("POST", "/bookings/locks", bytes.NewBufferString("not json"))
		w := httptest.NewRecorder()

		svc.LockSeat(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("release without token always succeeds", func(t *testing.T) {
		svc, _, redisMock := newBookingTestService(t)

		redisMock.ExpectDel(lockKey(10, 3)).SetVal(0)

		body, _ := json.Marshal(map[string]any{"tripId": 10, "seatId": 3})
		r := httptest.NewRequest("POST", "/bookings/locks/release", bytes.NewReader(body))
		w := httptest.NewRecorder()

		svc.ReleaseLock(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestBookingService_GetBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("missing booking", func(t *testing.T) {
		svc, dbMock, _ := newBookingTestService(t)

		dbMock.ExpectQuery("SELECT id, user_id, trip_id, seat_id").
			WithArgs(int64(404)).
			WillReturnError(sql.ErrNoRows)

		_, err := svc.GetBooking(ctx, 404)
		assert.ErrorIs(t, err, ErrBookingNotFound)
	})

	t.Run("existing booking", func(t *testing.T) {
		svc, dbMock, _ := newBookingTestService(t)

		dbMock.ExpectQuery("SELECT id, user_id, trip_id, seat_id").
			WithArgs(int64(77)).
			WillReturnRows(sqlmock.NewRows(
				[]string{"id", "user_id", "trip_id", "seat_id", "status", "total_amount", "booked_at"}).
				AddRow(int64(77), int64(42), int64(10), int64(3), models.BookingStatusConfirmed, 25000.0, time.Now()))

		booking, err := svc.GetBooking(ctx, 77)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusConfirmed, booking.Status)
	})
}
