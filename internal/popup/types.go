package popup

import (
	"context"
	"errors"
	"time"

	"popupq/internal/element"
)

// Tags used by the built-in categories.
const (
	TagPopup   = "popup"
	TagError   = "error"
	TagInfo    = "info"
	TagSuccess = "success"
)

// Event types published on the bus.
const (
	EventQueued          = "popup.queued"
	EventShown           = "popup.shown"
	EventExpired         = "popup.expired"
	EventLifetimeClamped = "popup.lifetime_clamped"
)

// ErrNegativeLifetime is advisory: Enqueue clamps the lifetime to zero and
// carries on.
var ErrNegativeLifetime = errors.New("popup: negative lifetime clamped to zero")

// ErrSurfacePanic wraps a recovered panic from Attach or Detach.
var ErrSurfacePanic = errors.New("popup: surface panicked")

// Surface is where a pop-up becomes visible.
type Surface interface {
	Attach(ctx context.Context, n *element.Node) error
	Detach(ctx context.Context, n *element.Node) error
}

// Clock schedules deferred continuations.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

// Event is the payload of popup.* bus events.
type Event struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Tags     []string      `json:"tags,omitempty"`
	Lifetime time.Duration `json:"lifetime"`
	Pending  int           `json:"pending"`
	Error    string        `json:"error,omitempty"`
}

type pendingMessage struct {
	node     *element.Node
	lifetime time.Duration
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type nopSurface struct{}

func (nopSurface) Attach(context.Context, *element.Node) error { return nil }
func (nopSurface) Detach(context.Context, *element.Node) error { return nil }
