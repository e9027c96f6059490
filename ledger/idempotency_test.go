package ledger

import (
	"sync"
	"testing"
	"time"

	"bursar-backend/models"
)

// The reservation semantics are enforced by a unique index on the keys table;
// these tests are intentionally DB-free and validate the intended behavior
// against an in-memory registry with the same contract:
//   - one reservation wins, every duplicate observes the stored outcome
//   - a reused key with a different request hash is a conflict, never a replay
// Full DB integration tests belong in an environment that can run Postgres.

type fakeKeyRegistry struct {
	mu   sync.Mutex
	rows map[string]*models.IdempotencyKey
}

func newFakeKeyRegistry() *fakeKeyRegistry {
	return &fakeKeyRegistry{rows: map[string]*models.IdempotencyKey{}}
}

// reserve mirrors reserveIdempotencyKey: returns (nil, nil) for a fresh
// reservation, the stored row for a completed duplicate, and a CONFLICT error
// for a hash mismatch or an in-flight duplicate.
func (r *fakeKeyRegistry) reserve(key, requestHash string, now time.Time, ttl time.Duration) (*models.IdempotencyKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rows[key]
	if ok && existing.Expired(ttl, now) {
		delete(r.rows, key)
		ok = false
	}
	if !ok {
		r.rows[key] = &models.IdempotencyKey{
			Key:         key,
			RequestHash: requestHash,
			Status:      models.IdempotencyPending,
			CreatedAt:   now,
		}
		return nil, nil
	}
	if existing.RequestHash != requestHash {
		return nil, &Error{Kind: KindConflict, Op: "reserve", Entity: "idempotency_key", EntityID: key,
			Message: "key reused with different request parameters"}
	}
	if existing.Status == models.IdempotencyPending {
		return nil, &Error{Kind: KindConflict, Op: "reserve", Entity: "idempotency_key", EntityID: key,
			Message: "operation with this key is in progress"}
	}
	return existing, nil
}

func (r *fakeKeyRegistry) complete(key, paymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[key]
	row.Status = models.IdempotencySucceeded
	row.PaymentID = &paymentID
}

func TestIdempotencyDuplicateProcessedOnce(t *testing.T) {
	reg := newFakeKeyRegistry()
	now := time.Now()

	var (
		mu       sync.Mutex
		executed int
		replays  int
	)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := reg.reserve("gw-key-1", "hash-a", now, DefaultIdempotencyRetention)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				// In-flight duplicate; a real caller retries and replays.
			case outcome == nil:
				executed++
				reg.complete("gw-key-1", "pay-1")
			default:
				replays++
			}
		}()
	}
	wg.Wait()

	if executed != 1 {
		t.Fatalf("expected exactly one execution, got %d", executed)
	}
	// Every non-conflicting duplicate after completion replays the outcome.
	outcome, err := reg.reserve("gw-key-1", "hash-a", now, DefaultIdempotencyRetention)
	if err != nil {
		t.Fatal(err)
	}
	if outcome == nil || outcome.PaymentID == nil || *outcome.PaymentID != "pay-1" {
		t.Fatalf("expected replay of pay-1, got %+v", outcome)
	}
}

func TestIdempotencyHashMismatchConflicts(t *testing.T) {
	reg := newFakeKeyRegistry()
	now := time.Now()

	if _, err := reg.reserve("gw-key-2", "hash-a", now, DefaultIdempotencyRetention); err != nil {
		t.Fatal(err)
	}
	reg.complete("gw-key-2", "pay-2")

	_, err := reg.reserve("gw-key-2", "hash-b", now, DefaultIdempotencyRetention)
	if !IsKind(err, KindConflict) {
		t.Fatalf("expected CONFLICT for reused key with different parameters, got %v", err)
	}
}

func TestIdempotencyKeyExpiresAfterRetention(t *testing.T) {
	reg := newFakeKeyRegistry()
	start := time.Now()

	if _, err := reg.reserve("gw-key-3", "hash-a", start, DefaultIdempotencyRetention); err != nil {
		t.Fatal(err)
	}
	reg.complete("gw-key-3", "pay-3")

	later := start.Add(DefaultIdempotencyRetention + time.Hour)
	outcome, err := reg.reserve("gw-key-3", "hash-c", later, DefaultIdempotencyRetention)
	if err != nil {
		t.Fatalf("expired key must be reusable as a fresh operation, got %v", err)
	}
	if outcome != nil {
		t.Fatalf("expired key must not replay, got %+v", outcome)
	}
}

func TestIdempotencyKeyExpired(t *testing.T) {
	now := time.Now()
	k := models.IdempotencyKey{CreatedAt: now.Add(-49 * time.Hour)}
	if !k.Expired(DefaultIdempotencyRetention, now) {
		t.Error("49h old key should be expired under the 48h default")
	}
	fresh := models.IdempotencyKey{CreatedAt: now.Add(-time.Hour)}
	if fresh.Expired(DefaultIdempotencyRetention, now) {
		t.Error("1h old key should not be expired")
	}
}
