// Package poller periodically fetches a server payload and dispatches it
// into the pop-up queue.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"popupq/internal/dispatch"
	"popupq/internal/eventbus"
	"popupq/internal/transport"
	logx "popupq/pkg/logx"
)

const (
	EventFetched = "poller.fetched"
	EventFailed  = "poller.failed"

	DefaultSchedule = "@every 30s"
)

type Config struct {
	Enabled bool
	// Schedule is a cron spec (seconds optional) or a descriptor such as
	// "@every 1m".
	Schedule string
	Timezone string
	Request  transport.Request
	// Lifetime of pop-ups created from polled payloads.
	Lifetime time.Duration
}

// Fetcher is the transport as seen by the poller.
type Fetcher interface {
	Do(ctx context.Context, req transport.Request) ([]byte, error)
}

// FetchedEvent is the payload of poller.fetched events.
type FetchedEvent struct {
	Categories int `json:"categories"`
	Responses  int `json:"responses"`
}

// FailedEvent is the payload of poller.failed events.
type FailedEvent struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type Poller struct {
	mu  sync.Mutex
	cfg Config

	fetch      Fetcher
	queue      dispatch.Enqueuer
	nav        dispatch.Navigator
	onResponse dispatch.ResponseAction
	log        logx.Logger
	bus        eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	runCtx context.Context
}

type Option func(*Poller)

func WithNavigator(n dispatch.Navigator) Option { return func(p *Poller) { p.nav = n } }

// WithResponseCallback handles the raw "responses" entries of each payload.
func WithResponseCallback(fn dispatch.ResponseAction) Option {
	return func(p *Poller) { p.onResponse = fn }
}

func WithLogger(log logx.Logger) Option { return func(p *Poller) { p.log = log } }

func WithBus(b eventbus.Bus) Option { return func(p *Poller) { p.bus = b } }

func New(cfg Config, fetch Fetcher, queue dispatch.Enqueuer, opts ...Option) *Poller {
	p := &Poller{
		cfg:    normalize(cfg),
		fetch:  fetch,
		queue:  queue,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, o := range opts {
		o(p)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	p.log = p.log.With(logx.String("comp", "poller"))
	return p
}

func normalize(cfg Config) Config {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = dispatch.DefaultLifetime
	}
	return cfg
}

// Validate checks the schedule and timezone without starting anything.
func (p *Poller) Validate(cfg Config) error {
	cfg = normalize(cfg)
	if _, err := p.parser.Parse(cfg.Schedule); err != nil {
		return fmt.Errorf("poller schedule %q: %w", cfg.Schedule, err)
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return err
	}
	return nil
}

// Poll fetches one payload and dispatches it.
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	if p.fetch == nil {
		return errors.New("poller: no fetcher")
	}
	body, err := p.fetch.Do(ctx, cfg.Request)
	if err != nil {
		p.fail("fetch", err)
		return err
	}

	d, err := dispatch.New(body, p.queue,
		dispatch.WithLifetime(cfg.Lifetime),
		dispatch.WithNavigator(p.nav),
		dispatch.WithLogger(p.log),
		dispatch.WithBus(p.bus),
	)
	if err != nil {
		p.fail("parse", err)
		return err
	}
	if p.onResponse != nil {
		d.SetResponseCallback(p.onResponse)
	}
	eventbus.Publish(p.bus, EventFetched, FetchedEvent{Categories: len(d.Payload().Categories), Responses: len(d.Payload().Responses)})

	if err := d.HandleResponse(ctx); err != nil {
		p.fail("dispatch", err)
		return err
	}
	return nil
}

func (p *Poller) fail(stage string, err error) {
	p.log.Warn("poll failed", logx.String("stage", stage), logx.Err(err))
	eventbus.Publish(p.bus, EventFailed, FailedEvent{Stage: stage, Error: err.Error()})
}

// Start schedules Poll. It is a no-op when disabled or already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return nil
	}
	p.runCtx = ctx
	if !p.cfg.Enabled {
		return nil
	}
	return p.startLocked()
}

func (p *Poller) startLocked() error {
	loc, err := loadLocation(p.cfg.Timezone)
	if err != nil {
		return err
	}
	cl := cronLogger{log: p.log}
	c := cron.New(
		cron.WithParser(p.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx := p.runCtx
	if _, err := c.AddFunc(p.cfg.Schedule, func() { _ = p.Poll(ctx) }); err != nil {
		return fmt.Errorf("poller schedule %q: %w", p.cfg.Schedule, err)
	}
	c.Start()
	p.c = c
	p.log.Info("poller started", logx.String("schedule", p.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the schedule and waits for a running poll until ctx is done.
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the configuration. A running schedule is restarted when the
// schedule, timezone or enabled flag changed.
func (p *Poller) Apply(cfg Config) error {
	cfg = normalize(cfg)
	if err := p.Validate(cfg); err != nil {
		return err
	}
	p.mu.Lock()
	old := p.cfg
	p.cfg = cfg
	running := p.c != nil
	started := p.runCtx != nil
	p.mu.Unlock()

	if !started {
		return nil
	}
	if running && old.Schedule == cfg.Schedule && old.Timezone == cfg.Timezone && cfg.Enabled {
		return nil
	}
	if running {
		p.Stop(context.Background())
	}
	if !cfg.Enabled {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return nil
	}
	return p.startLocked()
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("poller timezone %q: %w", tz, err)
	}
	return loc, nil
}

// cronLogger routes cron's logs into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
