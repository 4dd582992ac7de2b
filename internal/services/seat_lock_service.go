package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Lease is a time-bounded advisory claim on one (trip, seat) pair. The
// token proves ownership of this particular acquisition: a later caller
// who re-locks the same seat after TTL expiry gets a different token,
// so a stale holder can never consume the new lease.
type Lease struct {
	TripID    int64     `json:"trip_id"`
	SeatID    int64     `json:"seat_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// compare-and-delete as one uninterruptible step; a plain GET followed
// by DEL would race with TTL expiry and re-acquisition.
var casDelete = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end
`)

// SeatLockService issues, consumes and releases seat leases in Redis.
// The lease is a soft mutex for fast conflict feedback, not the
// correctness boundary; the bookings uniqueness constraint is.
type SeatLockService struct {
	redis *redis.Client
}

func NewSeatLockService(rdb *redis.Client) *SeatLockService {
	return &SeatLockService{redis: rdb}
}

func lockKey(tripID, seatID int64) string {
	return fmt.Sprintf("seat_lock:%d:%d", tripID, seatID)
}

// Acquire attempts an atomic create-if-absent of the lease key. Returns
// ErrSeatLocked when a live lease already exists.
func (s *SeatLockService) Acquire(ctx context.Context, tripID, seatID int64, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()

	ok, err := s.redis.SetNX(ctx, lockKey(tripID, seatID), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease store unavailable: %w", err)
	}
	if !ok {
		return nil, ErrSeatLocked
	}

	return &Lease{
		TripID:    tripID,
		SeatID:    seatID,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

// Consume atomically validates the token and deletes the lease. Returns
// ErrLeaseInvalid when the key is absent or holds a different token; a
// differently-tokened live lease is never deleted.
func (s *SeatLockService) Consume(ctx context.Context, tripID, seatID int64, token string) error {
	res, err := casDelete.Run(ctx, s.redis, []string{lockKey(tripID, seatID)}, token).Int()
	if err != nil {
		return fmt.Errorf("lease store unavailable: %w", err)
	}
	if res == 0 {
		return ErrLeaseInvalid
	}
	return nil
}

// Release frees a lease. With a token it behaves like Consume (voluntary
// cancellation). With an empty token it is the administrative form:
// deletes unconditionally and succeeds even when the key is absent.
func (s *SeatLockService) Release(ctx context.Context, tripID, seatID int64, token string) error {
	if token == "" {
		if err := s.redis.Del(ctx, lockKey(tripID, seatID)).Err(); err != nil {
			return fmt.Errorf("lease store unavailable: %w", err)
		}
		return nil
	}
	return s.Consume(ctx, tripID, seatID, token)
}
