// Package raffle serializes ticket allocation. Tickets are sequential
// from 1 and bounded; the allocator is the single global critical
// section through which every allocation passes.
package raffle

import (
	"context"
	"sync"
	"time"

	"github.com/basket/meetquest/internal/persistence"
)

// DefaultMaxTickets bounds the pool when configuration does not.
const DefaultMaxTickets = 1000

// Allocator hands out raffle tickets. Safe for concurrent use.
type Allocator struct {
	mu    sync.Mutex
	store *persistence.Store
	max   int
}

// New creates an allocator over the store with the given pool bound.
// Bounds below 1 fall back to DefaultMaxTickets.
func New(store *persistence.Store, maxTickets int) *Allocator {
	if maxTickets < 1 {
		maxTickets = DefaultMaxTickets
	}
	return &Allocator{store: store, max: maxTickets}
}

// Max returns the configured pool bound.
func (a *Allocator) Max() int {
	return a.max
}

// Allocate issues the participant's raffle ticket and marks the session
// completed. Calling again for a ticket holder returns the held number.
// Returns persistence.ErrPoolExhausted when the pool is spent; the
// participant's session is left untouched in that case.
func (a *Allocator) Allocate(ctx context.Context, participantID int64, now time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	number, _, err := a.store.IssueTicket(ctx, participantID, a.max, now)
	if err != nil {
		return 0, err
	}
	return number, nil
}

// Remaining reports how many tickets are still available.
func (a *Allocator) Remaining(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, err := a.store.NextTicket(ctx)
	if err != nil {
		return 0, err
	}
	left := a.max - next + 1
	if left < 0 {
		left = 0
	}
	return left, nil
}
