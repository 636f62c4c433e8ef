// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package session

import "sync"

// NotifyFunc receives a human-readable message describing the session error.
type NotifyFunc func(message string)

// Notifier is a single-slot observer. Registering replaces the previous
// callback; there is never more than one listener.
type Notifier struct {
	mu sync.RWMutex
	fn NotifyFunc
}

// NewNotifier returns a Notifier with nothing registered.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Register installs fn, overwriting any earlier registration. A nil fn unregisters.
func (n *Notifier) Register(fn NotifyFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fn = fn
}

// Notify calls the registered callback, if any. It is safe on a nil Notifier.
func (n *Notifier) Notify(message string) {
	if n == nil {
		return
	}
	n.mu.RLock()
	fn := n.fn
	n.mu.RUnlock()
	if fn != nil {
		fn(message)
	}
}
