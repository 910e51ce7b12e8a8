package popup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"popupq/internal/element"
	"popupq/internal/eventbus"
	logx "popupq/pkg/logx"
)

const defaultSurfaceTimeout = 10 * time.Second

// Scheduler is the pop-up queue: FIFO, one visible message at a time.
//
// It is safe for concurrent use. A single mutex guards the queue, the drain
// flag and the history; surface calls happen outside of it.
type Scheduler struct {
	mu sync.Mutex

	queue    []pendingMessage
	draining bool
	// inFlight is true while a message is attached and its expiry timer is
	// pending. It keeps a pause/resume pair from starting a second loop.
	inFlight bool
	history  []*element.Node
	idle     chan struct{} // closed while idle
	starts   uint64

	factory        element.Factory
	surface        Surface
	clock          Clock
	log            logx.Logger
	bus            eventbus.Bus
	surfaceTimeout time.Duration
}

type Option func(*Scheduler)

func WithFactory(f element.Factory) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.factory = f
		}
	}
}

func WithSurface(sf Surface) Option {
	return func(s *Scheduler) {
		if sf != nil {
			s.surface = sf
		}
	}
}

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

// WithSurfaceTimeout bounds each Attach/Detach call.
func WithSurfaceTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.surfaceTimeout = d
		}
	}
}

func New(opts ...Option) *Scheduler {
	idle := make(chan struct{})
	close(idle)
	s := &Scheduler{
		idle:           idle,
		factory:        element.DefaultFactory{},
		surface:        nopSurface{},
		clock:          realClock{},
		surfaceTimeout: defaultSurfaceTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// Enqueue builds a node for content and tags, queues it for lifetime and
// makes sure the drain loop runs. A negative lifetime is clamped to zero.
func (s *Scheduler) Enqueue(content string, tags []string, lifetime time.Duration) {
	node := s.factory.CreateNode(element.Spec{Text: content, Tags: tags})
	s.EnqueueNode(node, lifetime)
}

// EnqueueNode queues a node built by the caller.
func (s *Scheduler) EnqueueNode(node *element.Node, lifetime time.Duration) {
	if node == nil {
		return
	}
	if lifetime < 0 {
		s.log.Warn("pop-up lifetime is negative",
			logx.Err(ErrNegativeLifetime),
			logx.String("id", node.ID),
			logx.Duration("lifetime", lifetime),
		)
		s.publish(EventLifetimeClamped, node, lifetime, -1, ErrNegativeLifetime)
		lifetime = 0
	}

	s.mu.Lock()
	s.queue = append(s.queue, pendingMessage{node: node, lifetime: lifetime})
	n := len(s.queue)
	head := s.requestDrainLocked(true)
	s.mu.Unlock()

	s.log.Debug("pop-up queued", logx.String("id", node.ID), logx.Int("pending", n))
	s.publish(EventQueued, node, lifetime, n, nil)
	if head != nil {
		s.show(*head)
	}
}

// History returns the displayed nodes in display order. The slice is a copy.
func (s *Scheduler) History() []*element.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*element.Node(nil), s.history...)
}

// Pending reports how many messages are queued, including the visible one.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Draining reports the drain state.
func (s *Scheduler) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// WaitIdle blocks until the drain loop has stopped or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestDrain is idempotent: asking for the current state does nothing, an
// idle->active transition starts one loop.
func (s *Scheduler) requestDrain(active bool) {
	s.mu.Lock()
	head := s.requestDrainLocked(active)
	s.mu.Unlock()

	if head != nil {
		s.show(*head)
	}
}

// requestDrainLocked flips the drain flag and returns the head the caller
// must show once the lock is released.
func (s *Scheduler) requestDrainLocked(active bool) *pendingMessage {
	if active == s.draining {
		return nil
	}
	s.draining = active
	if !active {
		return nil
	}
	s.starts++
	s.markBusyLocked()
	return s.nextLocked()
}

// nextLocked decides the next drain step. It returns the head to show, or
// nil when the loop must stop (queue empty, paused, or a message is already
// on screen).
func (s *Scheduler) nextLocked() *pendingMessage {
	if s.inFlight {
		return nil
	}
	if len(s.queue) == 0 || !s.draining {
		s.draining = false
		s.markIdleLocked()
		return nil
	}
	s.inFlight = true
	head := s.queue[0]
	return &head
}

func (s *Scheduler) show(p pendingMessage) {
	err := s.callSurface(s.surface.Attach, p.node)
	if err != nil {
		// The message still owns the screen slot for its whole lifetime.
		s.log.Warn("pop-up attach failed", logx.String("id", p.node.ID), logx.Err(err))
	}
	s.log.Debug("pop-up shown", logx.String("id", p.node.ID), logx.Duration("lifetime", p.lifetime))
	s.publish(EventShown, p.node, p.lifetime, -1, err)

	s.clock.AfterFunc(p.lifetime, func() { s.expire(p) })
}

func (s *Scheduler) expire(p pendingMessage) {
	s.mu.Lock()
	s.history = append(s.history, p.node)
	s.mu.Unlock()

	err := s.callSurface(s.surface.Detach, p.node)
	if err != nil {
		s.log.Warn("pop-up detach failed", logx.String("id", p.node.ID), logx.Err(err))
	}

	s.mu.Lock()
	s.queue[0] = pendingMessage{}
	s.queue = s.queue[1:]
	s.inFlight = false
	pending := len(s.queue)
	head := s.nextLocked()
	s.mu.Unlock()

	s.log.Debug("pop-up expired", logx.String("id", p.node.ID), logx.Int("pending", pending))
	s.publish(EventExpired, p.node, p.lifetime, pending, err)

	if head != nil {
		s.show(*head)
	}
}

// callSurface runs one bounded surface call. A panic is reported as an error
// so the loop keeps its slot bookkeeping intact.
func (s *Scheduler) callSurface(fn func(context.Context, *element.Node) error, n *element.Node) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.surfaceTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSurfacePanic, r)
		}
	}()
	return fn(ctx, n)
}

func (s *Scheduler) markBusyLocked() {
	select {
	case <-s.idle:
		s.idle = make(chan struct{})
	default:
	}
}

func (s *Scheduler) markIdleLocked() {
	select {
	case <-s.idle:
	default:
		close(s.idle)
	}
}

func (s *Scheduler) publish(typ string, n *element.Node, lifetime time.Duration, pending int, err error) {
	if s.bus == nil {
		return
	}
	ev := Event{ID: n.ID, Text: n.Text, Tags: n.Tags, Lifetime: lifetime, Pending: pending}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Publish(s.bus, typ, ev)
}
