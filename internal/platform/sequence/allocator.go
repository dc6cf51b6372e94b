// Package sequence hands out exactly-once monotonic counters. Two named
// sequences exist in this deployment: screening numbers, issued at
// participant intake, and randomization numbers, issued when a participant
// concludes their first visit. The contract is that no two callers ever
// receive the same value and every issued value is strictly greater than
// the previously issued one; contiguity is only guaranteed for successful
// allocations (a caller that fails after allocating burns its number).
package sequence

import (
	"context"
	"errors"
	"sync"
)

// Sequence names used by the trial core.
const (
	Screening     = "screening"
	Randomization = "randomization"
)

// ErrContention is returned when the atomic allocation step could not commit
// within the bounded retry budget. The caller may retry the whole operation;
// no number was issued on the failed attempt.
var ErrContention = errors.New("sequence allocation contention")

// Allocator issues the next value of a named sequence. Implementations must
// make the read-modify-write atomic against storage: two concurrent calls
// must never both observe the same current maximum.
type Allocator interface {
	Next(ctx context.Context, name string) (int64, error)
}

// MemoryAllocator is a process-local Allocator guarded by a mutex. It backs
// tests and single-node development; durable deployments use the Postgres
// implementation.
type MemoryAllocator struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryAllocator creates an empty in-memory allocator; every sequence
// starts at 1.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{values: make(map[string]int64)}
}

// Next returns the next value of the named sequence.
func (a *MemoryAllocator) Next(_ context.Context, name string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[name]++
	return a.values[name], nil
}

// Seed sets the current maximum of a sequence, for test setup and for
// importing legacy data.
func (a *MemoryAllocator) Seed(name string, value int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[name] = value
}
