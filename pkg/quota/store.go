package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCounterOverflow is returned when an increment would exceed the int64 range
var ErrCounterOverflow = errors.New("quota counter overflow")

// Key identifies one counter
type Key struct {
	TenantID    string
	Feature     string
	WindowStart time.Time
}

// String renders the key for key-value backends
func (k Key) String() string {
	return fmt.Sprintf("quota:%s:%s:%d", k.TenantID, k.Feature, k.WindowStart.Unix())
}

// CounterStore holds quota counters. Every method must be atomic per key.
type CounterStore interface {
	// Increment adds amount and returns the post-increment value.
	Increment(ctx context.Context, key Key, amount int64, expireAt time.Time) (int64, error)
	// IncrementWithin adds amount only if the result stays within ceiling.
	// It returns the counter value and whether the increment happened.
	IncrementWithin(ctx context.Context, key Key, amount, ceiling int64, expireAt time.Time) (int64, bool, error)
	// Get returns the current value, zero for a missing counter.
	Get(ctx context.Context, key Key) (int64, error)
	// Prune removes counters whose window started before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
