/*
 * SPDX-License-Identifier: Unlicense
 *
 * This is free and unencumbered software released into the public domain.
 *
 * Anyone is free to copy, modify, publish, use, compile, sell, or distribute this
 * software, either in source code form or as a compiled binary, for any purpose,
 * commercial or non-commercial, and by any means.
 *
 * For more information, please refer to <http://unlicense.org/>
 */

package detector

import (
	"sync"

	"go.uber.org/atomic"
)

// Mailbox is a single slot channel where the newest value wins. Senders
// never block; a value not yet received is replaced.
type Mailbox[T any] struct {
	mu      sync.Mutex
	ch      chan T
	dropped atomic.Int64
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// Offer stores v and reports whether it replaced a pending value.
func (m *Mailbox[T]) Offer(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	replaced := false
	select {
	case <-m.ch:
		replaced = true
		m.dropped.Inc()
	default:
	}
	// only Offer sends, under mu, so the slot is free here
	m.ch <- v
	return replaced
}

// C is the receive side.
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}

// Dropped counts values replaced before being received.
func (m *Mailbox[T]) Dropped() int64 {
	return m.dropped.Load()
}
