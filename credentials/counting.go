package credentials

import (
	"context"
	"sync/atomic"
)

// CountingStore wraps a [Store] and counts writes and clears. The load-test command and
// the package tests use it to check how many times credentials were replaced.
type CountingStore struct {
	Store

	gets   atomic.Uint64
	sets   atomic.Uint64
	clears atomic.Uint64
}

// NewCountingStore wraps inner.
func NewCountingStore(inner Store) *CountingStore {
	return &CountingStore{Store: inner}
}

func (s *CountingStore) Get(ctx context.Context) (Credentials, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx)
}

func (s *CountingStore) Set(ctx context.Context, creds Credentials) error {
	s.sets.Add(1)
	return s.Store.Set(ctx, creds)
}

func (s *CountingStore) Clear(ctx context.Context) error {
	s.clears.Add(1)
	return s.Store.Clear(ctx)
}

func (s *CountingStore) Gets() uint64   { return s.gets.Load() }
func (s *CountingStore) Sets() uint64   { return s.sets.Load() }
func (s *CountingStore) Clears() uint64 { return s.clears.Load() }

// Reset zeroes the counters.
func (s *CountingStore) Reset() {
	s.gets.Store(0)
	s.sets.Store(0)
	s.clears.Store(0)
}
