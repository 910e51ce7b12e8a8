package popup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"popupq/internal/element"
	"popupq/internal/eventbus"
	"popupq/internal/surface"
)

// manualClock fires timers only when Advance is called.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	c       *manualClock
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now + d, f: f, c: c}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in deadline order. Timers
// scheduled by a firing callback fire too if they fall inside the window.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()
	for {
		c.mu.Lock()
		idx := -1
		for i, t := range c.timers {
			if t.stopped || t.at > target {
				continue
			}
			if idx < 0 || t.at < c.timers[idx].at {
				idx = i
			}
		}
		if idx < 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[idx]
		c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
		c.now = t.at
		c.mu.Unlock()
		t.f()
	}
}

func (c *manualClock) Scheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func newTestScheduler(opts ...Option) (*Scheduler, *manualClock, *surface.Memory) {
	clk := &manualClock{}
	mem := surface.NewMemory()
	seq := 0
	ids := element.DefaultFactory{NewID: func() string { seq++; return fmt.Sprintf("m%d", seq) }}
	base := []Option{WithClock(clk), WithSurface(mem), WithFactory(ids)}
	return New(append(base, opts...)...), clk, mem
}

func texts(nodes []*element.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Text)
	}
	return out
}

func visibleText(mem *surface.Memory) string {
	v := mem.Visible()
	if len(v) == 0 {
		return ""
	}
	return v[0].Text
}

func TestDisplayOrderMatchesEnqueueOrder(t *testing.T) {
	s, clk, mem := newTestScheduler()

	s.Enqueue("m1", []string{TagPopup, TagError}, 100*time.Millisecond)
	s.Enqueue("m2", []string{TagPopup, TagInfo}, 200*time.Millisecond)
	s.Enqueue("m3", []string{TagPopup, TagSuccess}, 300*time.Millisecond)

	if got := visibleText(mem); got != "m1" {
		t.Fatalf("visible = %q, want m1", got)
	}
	if len(s.History()) != 0 {
		t.Fatalf("history should be empty before the first expiry")
	}

	clk.Advance(99 * time.Millisecond)
	if got := visibleText(mem); got != "m1" {
		t.Fatalf("m1 retired early, visible = %q", got)
	}
	clk.Advance(1 * time.Millisecond)
	if got := visibleText(mem); got != "m2" {
		t.Fatalf("visible = %q, want m2", got)
	}
	clk.Advance(200 * time.Millisecond)
	if got := visibleText(mem); got != "m3" {
		t.Fatalf("visible = %q, want m3", got)
	}
	clk.Advance(300 * time.Millisecond)

	if got := texts(s.History()); !slices.Equal(got, []string{"m1", "m2", "m3"}) {
		t.Fatalf("history = %v", got)
	}
	if got := mem.Visible(); len(got) != 0 {
		t.Fatalf("expected empty surface, got %v", texts(got))
	}
	if mem.MaxVisible() != 1 {
		t.Fatalf("max visible = %d, want 1", mem.MaxVisible())
	}
}

func TestAtMostOneVisible(t *testing.T) {
	s, clk, mem := newTestScheduler()
	for i := 0; i < 20; i++ {
		s.Enqueue(fmt.Sprintf("msg-%d", i), nil, time.Duration(i%4)*time.Second)
		if i%3 == 0 {
			clk.Advance(500 * time.Millisecond)
		}
	}
	clk.Advance(time.Minute)

	if mem.MaxVisible() != 1 {
		t.Fatalf("max visible = %d, want 1", mem.MaxVisible())
	}
	ops := mem.Ops()
	for i, op := range ops {
		want := "attach"
		if i%2 == 1 {
			want = "detach"
		}
		if op.Kind != want {
			t.Fatalf("op %d = %s, want %s (ops=%+v)", i, op.Kind, want, ops)
		}
	}
	if len(s.History()) != 20 {
		t.Fatalf("history len = %d, want 20", len(s.History()))
	}
}

func TestLoopStopsWhenQueueDrainsAndRestartsOnce(t *testing.T) {
	s, clk, mem := newTestScheduler()

	s.Enqueue("first", nil, time.Second)
	clk.Advance(time.Second)

	if s.Draining() {
		t.Fatal("drain state should be idle after the queue emptied")
	}
	if n := clk.Scheduled(); n != 0 {
		t.Fatalf("%d timers still scheduled while idle", n)
	}
	if err := s.WaitIdle(context.Background()); err != nil {
		t.Fatalf("wait idle: %v", err)
	}

	for i := 0; i < 10; i++ {
		s.Enqueue(fmt.Sprintf("again-%d", i), nil, time.Second)
	}
	if s.starts != 2 {
		t.Fatalf("drain loop started %d times, want 2", s.starts)
	}
	if n := clk.Scheduled(); n != 1 {
		t.Fatalf("%d timers scheduled, want 1", n)
	}
	if !s.Draining() || s.Pending() != 10 {
		t.Fatalf("draining=%v pending=%d", s.Draining(), s.Pending())
	}

	clk.Advance(10 * time.Second)
	if s.Draining() || s.Pending() != 0 || clk.Scheduled() != 0 {
		t.Fatalf("expected idle, got draining=%v pending=%d timers=%d", s.Draining(), s.Pending(), clk.Scheduled())
	}
	if mem.MaxVisible() != 1 {
		t.Fatalf("max visible = %d", mem.MaxVisible())
	}
	if len(s.History()) != 11 {
		t.Fatalf("history len = %d, want 11", len(s.History()))
	}
}

func TestRequestDrainIsIdempotent(t *testing.T) {
	s, clk, mem := newTestScheduler()

	s.mu.Lock()
	s.queue = append(s.queue, pendingMessage{node: &element.Node{ID: "x", Text: "x"}, lifetime: time.Second})
	s.mu.Unlock()

	s.requestDrain(true)
	s.requestDrain(true)

	if s.starts != 1 {
		t.Fatalf("starts = %d, want 1", s.starts)
	}
	if clk.Scheduled() != 1 || len(mem.Visible()) != 1 {
		t.Fatalf("timers=%d visible=%d", clk.Scheduled(), len(mem.Visible()))
	}

	s.requestDrain(false)
	s.requestDrain(false)
	clk.Advance(time.Second)
	if s.Draining() {
		t.Fatal("expected idle")
	}
}

func TestRequestDrainWithEmptyQueueGoesIdle(t *testing.T) {
	s, clk, _ := newTestScheduler()
	s.requestDrain(true)
	if s.Draining() {
		t.Fatal("an empty queue must switch the drain state back off")
	}
	if clk.Scheduled() != 0 {
		t.Fatal("no timer expected for an empty queue")
	}
}

func TestPauseResumeDoesNotOverlap(t *testing.T) {
	s, clk, mem := newTestScheduler()
	s.Enqueue("a", nil, time.Second)
	s.Enqueue("b", nil, time.Second)

	// Pause and resume while "a" is on screen.
	s.requestDrain(false)
	s.requestDrain(true)

	if len(mem.Visible()) != 1 || clk.Scheduled() != 1 {
		t.Fatalf("visible=%d timers=%d after resume", len(mem.Visible()), clk.Scheduled())
	}
	clk.Advance(2 * time.Second)
	if got := texts(s.History()); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("history = %v", got)
	}
	if mem.MaxVisible() != 1 {
		t.Fatalf("max visible = %d", mem.MaxVisible())
	}
}

func TestPauseStopsAfterCurrentMessage(t *testing.T) {
	s, clk, mem := newTestScheduler()
	s.Enqueue("a", nil, time.Second)
	s.Enqueue("b", nil, time.Second)

	s.requestDrain(false)
	clk.Advance(5 * time.Second)

	if got := texts(s.History()); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("history = %v", got)
	}
	if s.Pending() != 1 || len(mem.Visible()) != 0 || clk.Scheduled() != 0 {
		t.Fatalf("pending=%d visible=%d timers=%d", s.Pending(), len(mem.Visible()), clk.Scheduled())
	}

	s.requestDrain(true)
	clk.Advance(time.Second)
	if got := texts(s.History()); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("history = %v", got)
	}
}

func TestHistoryIsAppendOnlyCopy(t *testing.T) {
	s, clk, _ := newTestScheduler()
	s.Enqueue("one", nil, time.Second)
	s.Enqueue("two", nil, time.Second)

	clk.Advance(time.Second)
	first := s.History()
	first[0] = &element.Node{Text: "tampered"}

	clk.Advance(time.Second)
	second := s.History()
	if len(second) != 2 || second[0].Text != "one" || second[1].Text != "two" {
		t.Fatalf("history = %v", texts(second))
	}
}

func TestNegativeLifetimeIsClamped(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s, clk, _ := newTestScheduler(WithBus(bus))

	s.Enqueue("late", nil, -3*time.Second)
	clk.Advance(0)

	if got := texts(s.History()); !slices.Equal(got, []string{"late"}) {
		t.Fatalf("history = %v", got)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	want := []string{EventLifetimeClamped, EventQueued, EventShown, EventExpired}
	if !slices.Equal(types, want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestEnqueueNodeNilIsIgnored(t *testing.T) {
	s, _, _ := newTestScheduler()
	s.EnqueueNode(nil, time.Second)
	if s.Pending() != 0 || s.Draining() {
		t.Fatal("nil node must not be queued")
	}
}

type flakySurface struct {
	surface.Memory
	fail bool
}

func (f *flakySurface) Attach(ctx context.Context, n *element.Node) error {
	_ = f.Memory.Attach(ctx, n)
	if f.fail {
		return errors.New("render failed")
	}
	return nil
}

func TestSurfaceErrorsDoNotBreakLoop(t *testing.T) {
	clk := &manualClock{}
	sf := &flakySurface{fail: true}
	s := New(WithClock(clk), WithSurface(sf))

	s.Enqueue("a", nil, time.Second)
	s.Enqueue("b", nil, time.Second)
	clk.Advance(2 * time.Second)

	if got := texts(s.History()); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("history = %v", got)
	}
	if s.Draining() {
		t.Fatal("expected idle")
	}
}

type panickySurface struct {
	surface.Memory
	attachPanics, detachPanics int
}

func (p *panickySurface) Attach(ctx context.Context, n *element.Node) error {
	_ = p.Memory.Attach(ctx, n)
	if p.attachPanics > 0 {
		p.attachPanics--
		panic("attach blew up")
	}
	return nil
}

func (p *panickySurface) Detach(ctx context.Context, n *element.Node) error {
	_ = p.Memory.Detach(ctx, n)
	if p.detachPanics > 0 {
		p.detachPanics--
		panic("detach blew up")
	}
	return nil
}

func TestSurfacePanicKeepsSlotAndLoop(t *testing.T) {
	clk := &manualClock{}
	sf := &panickySurface{attachPanics: 1, detachPanics: 1}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := New(WithClock(clk), WithSurface(sf), WithBus(bus))

	s.Enqueue("first", nil, time.Second)
	if !s.Draining() || s.Pending() != 1 {
		t.Fatalf("draining = %v pending = %d after panicking attach", s.Draining(), s.Pending())
	}
	s.Enqueue("later", nil, time.Second)
	clk.Advance(time.Second)
	if got := texts(s.History()); !slices.Equal(got, []string{"first"}) {
		t.Fatalf("history after first lifetime = %v", got)
	}
	clk.Advance(time.Second)

	if got := texts(s.History()); !slices.Equal(got, []string{"first", "later"}) {
		t.Fatalf("history = %v", got)
	}
	if s.Draining() {
		t.Fatal("expected idle")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("wait idle: %v", err)
	}

	var panics int
	for len(events) > 0 {
		ev := <-events
		if ev.Type != EventShown && ev.Type != EventExpired {
			continue
		}
		if strings.Contains(ev.Data.(Event).Error, ErrSurfacePanic.Error()) {
			panics++
		}
	}
	if panics != 2 {
		t.Fatalf("surface panics reported = %d, want 2", panics)
	}
}

func TestQueuedMessageAlwaysHasDrainLoop(t *testing.T) {
	s := New(WithSurface(surface.NewMemory()))

	stop := make(chan struct{})
	bad := make(chan string, 1)
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s.mu.Lock()
			pending, draining := len(s.queue), s.draining
			s.mu.Unlock()
			if pending > 0 && !draining {
				select {
				case bad <- fmt.Sprintf("pending = %d with no drain loop", pending):
				default:
				}
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Enqueue("x", nil, 0)
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("wait idle: %v", err)
	}
	close(stop)
	watcher.Wait()
	select {
	case msg := <-bad:
		t.Fatal(msg)
	default:
	}
	if len(s.History()) != 200 {
		t.Fatalf("history len = %d", len(s.History()))
	}
}

func TestConcurrentProducersRealClock(t *testing.T) {
	mem := surface.NewMemory()
	s := New(WithSurface(mem))

	const producers, each = 4, 5
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				s.Enqueue(fmt.Sprintf("p%d-%d", p, i), nil, time.Millisecond)
			}
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		t.Fatalf("wait idle: %v", err)
	}

	hist := s.History()
	if len(hist) != producers*each {
		t.Fatalf("history len = %d, want %d", len(hist), producers*each)
	}
	if mem.MaxVisible() != 1 {
		t.Fatalf("max visible = %d, want 1", mem.MaxVisible())
	}
	// Per-producer order is preserved.
	last := map[int]int{}
	for _, n := range hist {
		var p, i int
		if _, err := fmt.Sscanf(n.Text, "p%d-%d", &p, &i); err != nil {
			t.Fatalf("bad text %q", n.Text)
		}
		if prev, ok := last[p]; ok && i <= prev {
			t.Fatalf("producer %d out of order: %d after %d", p, i, prev)
		}
		last[p] = i
	}
}

func TestWaitIdleHonorsContext(t *testing.T) {
	s, _, _ := newTestScheduler()
	s.Enqueue("stuck", nil, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
