package collab

import (
	"context"
	"errors"
)

const DefaultMaxSemaphore = 100

var (
	ErrAcquireTimeout = errors.New("semaphore acquire reached time limit")
	ErrNotAcquired    = errors.New("semaphore release failed: not acquired")
)

// SemaphoreControl bounds the number of concurrent background writes
// (Kafka sends, snapshot checkpoints).
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(n int) *SemaphoreControl {
	if n <= 0 {
		n = DefaultMaxSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, n)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrAcquireTimeout
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrNotAcquired
	}
}
