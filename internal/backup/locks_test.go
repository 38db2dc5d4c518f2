// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package backup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestChainLocksSerializeSameChain(t *testing.T) {
	t.Parallel()

	locks := NewChainLocks()
	var (
		active  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("chain-a")
			defer unlock()
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("two holders of the same chain lock overlapped")
	}
	if n := locks.Len(); n != 0 {
		t.Errorf("Len() = %d after all releases, want 0", n)
	}
}

func TestChainLocksIndependentChains(t *testing.T) {
	t.Parallel()

	locks := NewChainLocks()
	unlockA := locks.Lock("chain-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("chain-b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on chain-b blocked behind chain-a")
	}
}

func TestChainLocksReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	locks := NewChainLocks()
	unlock := locks.Lock("chain-a")
	unlock()
	unlock()

	if n := locks.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}

	// The chain is free again.
	again := locks.Lock("chain-a")
	again()
}
