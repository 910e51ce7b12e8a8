// Package popup serializes transient pop-up messages so that at most one is
// visible at a time.
//
// Each enqueued message is shown on a Surface for its lifetime, then
// detached and appended to an in-memory history.
//
// # Drain loop
//
// The scheduler owns no background goroutine. The first Enqueue after an
// idle period flips the drain state to active and shows the queue head; a
// timer scheduled for the head's lifetime retires it and shows the next one.
// When the queue runs dry the drain state flips back to idle and no timer is
// left behind. A later Enqueue starts a fresh loop.
//
// # History
//
// History only grows, in display order, and is never consulted by the
// scheduler itself. It is not persisted.
package popup
