// Package app wires the pop-up daemon: config, logging, the pop-up queue and
// its surface, and the optional server poller.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"popupq/internal/config"
	"popupq/internal/dispatch"
	"popupq/internal/eventbus"
	"popupq/internal/poller"
	"popupq/internal/popup"
	"popupq/internal/runtime/supervisor"
	"popupq/internal/transport"
	logx "popupq/pkg/logx"
)

// EventNavigate carries the redirect target of a "redirection" message.
const EventNavigate = "navigate"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	sched   *popup.Scheduler
	surface popup.Surface
	client  *transport.Client
	poller  *poller.Poller

	// lifetime is the default pop-up lifetime in nanoseconds; hot reloadable.
	lifetime atomic.Int64
}

type Option func(*options)

type options struct {
	surface popup.Surface
	out     io.Writer
}

// WithSurface overrides the surface selected by popup.surface.
func WithSurface(s popup.Surface) Option { return func(o *options) { o.surface = s } }

// WithOutput sets the writer of the console surface. Default os.Stdout.
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{out: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	bus := eventbus.New()

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
	}
	a.lifetime.Store(int64(cfg.Popup.Lifetime()))

	a.surface = o.surface
	if a.surface == nil {
		a.surface, err = buildSurface(cfg.Popup, o.out, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}

	a.sched = popup.New(
		popup.WithSurface(a.surface),
		popup.WithSurfaceTimeout(cfg.Popup.AttachTimeout()),
		popup.WithLogger(log),
		popup.WithBus(bus),
	)

	if cfg.Transport != nil {
		a.client = transport.New(mapTransportConfig(cfg.Transport), log.With(logx.String("comp", "transport")))
		a.poller = poller.New(mapPollerConfig(cfg), a.client, a.sched,
			poller.WithNavigator(a),
			poller.WithLogger(log),
			poller.WithBus(bus),
		)
	} else if cfg.Poller != nil && cfg.Poller.Enabled {
		a.log.Warn("poller enabled without a transport section; polling disabled")
	}

	return a, nil
}

func (a *App) Scheduler() *popup.Scheduler { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

// Poller is nil when no transport is configured.
func (a *App) Poller() *poller.Poller { return a.poller }

func (a *App) Lifetime() time.Duration { return time.Duration(a.lifetime.Load()) }

// Send queues a one-off pop-up with the default lifetime.
func (a *App) Send(text string, tags ...string) {
	a.sched.Enqueue(text, append([]string{popup.TagPopup}, tags...), a.Lifetime())
}

// Dispatch runs the default actions for a raw server payload against the
// app's queue.
func (a *App) Dispatch(ctx context.Context, raw []byte) error {
	d, err := dispatch.New(raw, a.sched,
		dispatch.WithLifetime(a.Lifetime()),
		dispatch.WithNavigator(a),
		dispatch.WithLogger(a.log),
		dispatch.WithBus(a.bus),
	)
	if err != nil {
		return err
	}
	return d.HandleResponse(ctx)
}

// Navigate is the daemon's redirect handler: there is no page to move, so the
// target is logged and published.
func (a *App) Navigate(_ context.Context, target string) error {
	a.log.Info("redirect requested", logx.String("target", target))
	eventbus.Publish(a.bus, EventNavigate, target)
	return nil
}

// Done is closed when the app context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		pc := mapPollerConfig(cfg)
		if a.poller != nil {
			return a.poller.Validate(pc)
		}
		return poller.New(pc, nil, nil).Validate(pc)
	})

	if a.poller != nil {
		if err := a.poller.Start(a.sup.Context()); err != nil {
			a.sup.Cancel()
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				next = latest(sub, next)
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgPath), logx.Bool("poller", a.poller != nil))
	return nil
}

// latest drains queued revisions and keeps the newest.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer := <-sub:
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.Strings("changed", sections)}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogConfig(next))
	a.lifetime.Store(int64(next.Popup.Lifetime()))

	if prev.Popup.SurfaceName() != next.Popup.SurfaceName() || prev.Popup.AttachTimeout() != next.Popup.AttachTimeout() {
		a.log.Warn("popup surface config changed; restart required for changes to take effect")
	}
	if (prev.Transport == nil) != (next.Transport == nil) || (a.client != nil && !sameTransport(prev.Transport, next.Transport)) {
		a.log.Warn("transport config changed; restart required for changes to take effect")
	}

	if a.poller != nil {
		if err := a.poller.Apply(mapPollerConfig(next)); err != nil {
			a.log.Warn("invalid poller config; keeping previous", logx.Err(err))
		}
	}
}

func sameTransport(x, y *config.TransportConfig) bool {
	if x == nil || y == nil {
		return x == y
	}
	return strings.TrimSpace(x.BaseURL) == strings.TrimSpace(y.BaseURL) &&
		x.RequestTimeout() == y.RequestTimeout() &&
		x.RatePerSec == y.RatePerSec &&
		maps.Equal(x.Headers, y.Headers)
}
