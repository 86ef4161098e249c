// Package fitness is the boundary between the evolution loop and whoever
// judges a melody. A rater receives one melody at a time and blocks until a
// rating is available.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"melodyevo/internal/genome"
)

const (
	MinRating = 1
	MaxRating = 5
)

var ErrRatingOutOfRange = errors.New("rating out of range")

// Request is a single rating exchange.
type Request struct {
	Melody     genome.Melody `json:"melody"`
	BPM        int           `json:"bpm"`
	Generation int           `json:"generation"`
	Index      int           `json:"index"`
}

type Rater interface {
	Rate(ctx context.Context, req Request) (int, error)
}

// Previewer renders a melody for the rater before a rating is requested.
type Previewer interface {
	Preview(ctx context.Context, melody genome.Melody, bpm int) error
}

func CheckRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrRatingOutOfRange, rating, MinRating, MaxRating)
	}
	return nil
}

// FuncRater adapts a function to the Rater interface.
type FuncRater func(ctx context.Context, req Request) (int, error)

func (f FuncRater) Rate(ctx context.Context, req Request) (int, error) {
	return f(ctx, req)
}

// FixedRater returns the same rating for every melody.
type FixedRater struct {
	Rating int
}

func (r FixedRater) Rate(ctx context.Context, _ Request) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.Rating, nil
}

// SequenceRater replays ratings in order and records every request it saw.
type SequenceRater struct {
	mu       sync.Mutex
	ratings  []int
	next     int
	requests []Request
}

func NewSequenceRater(ratings ...int) *SequenceRater {
	return &SequenceRater{ratings: append([]int(nil), ratings...)}
}

func (r *SequenceRater) Rate(ctx context.Context, req Request) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = append(r.requests, req)
	if r.next >= len(r.ratings) {
		return 0, fmt.Errorf("rating sequence exhausted after %d ratings", len(r.ratings))
	}
	rating := r.ratings[r.next]
	r.next++
	return rating, nil
}

func (r *SequenceRater) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// WithTimeout bounds every evaluation of rater by d. A non-positive d returns
// rater unchanged.
func WithTimeout(rater Rater, d time.Duration) Rater {
	if d <= 0 {
		return rater
	}
	return timeoutRater{rater: rater, timeout: d}
}

type timeoutRater struct {
	rater   Rater
	timeout time.Duration
}

func (r timeoutRater) Rate(ctx context.Context, req Request) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		rating int
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		rating, err := r.rater.Rate(ctx, req)
		done <- outcome{rating: rating, err: err}
	}()

	select {
	case out := <-done:
		return out.rating, out.err
	case <-ctx.Done():
		return 0, fmt.Errorf("rating not received within %s: %w", r.timeout, ctx.Err())
	}
}
