// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package backup

import "sync"

// ChainLocks is a keyed mutex over chain ids. Entries are reference counted
// and dropped once nobody holds or waits for them, so locks on different
// chains never contend and the map does not grow with history.
type ChainLocks struct {
	mu    sync.Mutex
	locks map[string]*chainLock
}

type chainLock struct {
	mu   sync.Mutex
	refs int
}

// NewChainLocks returns an empty lock set.
func NewChainLocks() *ChainLocks {
	return &ChainLocks{locks: make(map[string]*chainLock)}
}

// Lock blocks until chainID is free and returns its release function.
// Calling the release function more than once is a no-op.
func (l *ChainLocks) Lock(chainID string) func() {
	l.mu.Lock()
	cl, ok := l.locks[chainID]
	if !ok {
		cl = &chainLock{}
		l.locks[chainID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cl.mu.Unlock()
			l.mu.Lock()
			cl.refs--
			if cl.refs == 0 {
				delete(l.locks, chainID)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of chains currently held or awaited.
func (l *ChainLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
