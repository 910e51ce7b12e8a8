// Package dispatch routes a categorized server payload to per-category
// actions. By default errors, information and successes become pop-ups and
// redirection entries go to a Navigator.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"popupq/internal/eventbus"
	"popupq/internal/popup"
	logx "popupq/pkg/logx"
)

// DefaultLifetime is how long default pop-ups stay visible.
const DefaultLifetime = 4000 * time.Millisecond

// EventFailed is published for every failed action.
const EventFailed = "dispatch.failed"

// Enqueuer is the pop-up queue as seen by the dispatcher.
type Enqueuer interface {
	Enqueue(content string, tags []string, lifetime time.Duration)
}

// Navigator handles redirection targets.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

type NavigatorFunc func(ctx context.Context, target string) error

func (f NavigatorFunc) Navigate(ctx context.Context, target string) error { return f(ctx, target) }

// Action handles one message of a category.
type Action func(ctx context.Context, msg string) error

// ResponseAction handles one raw response entry.
type ResponseAction func(ctx context.Context, raw json.RawMessage) error

// FailedEvent is the payload of dispatch.failed events.
type FailedEvent struct {
	Category string `json:"category,omitempty"`
	Response bool   `json:"response,omitempty"`
	Index    int    `json:"index"`
	Error    string `json:"error"`
}

// Dispatcher is bound to one parsed payload. Callbacks may be replaced at
// any time; HandleResponse uses a snapshot taken when it starts.
type Dispatcher struct {
	payload  *Payload
	queue    Enqueuer
	nav      Navigator
	lifetime time.Duration
	log      logx.Logger
	bus      eventbus.Bus

	mu         sync.Mutex
	actions    map[Category]Action
	onResponse ResponseAction
}

type Option func(*Dispatcher)

// WithLifetime sets the lifetime of pop-ups created by default actions.
func WithLifetime(d time.Duration) Option { return func(x *Dispatcher) { x.lifetime = d } }

func WithNavigator(n Navigator) Option { return func(x *Dispatcher) { x.nav = n } }

func WithLogger(log logx.Logger) Option { return func(x *Dispatcher) { x.log = log } }

func WithBus(b eventbus.Bus) Option { return func(x *Dispatcher) { x.bus = b } }

// New parses raw and binds the default actions. queue may be nil; the
// pop-up actions then fail with a *ConfigurationError when they fire.
func New(raw []byte, queue Enqueuer, opts ...Option) (*Dispatcher, error) {
	p, err := ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		payload:  p,
		lifetime: DefaultLifetime,
	}
	if !isNil(queue) {
		d.queue = queue
	}
	for _, o := range opts {
		o(d)
	}
	if isNil(d.nav) {
		d.nav = nil
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.actions = map[Category]Action{
		Redirection: d.navigate,
		Errors:      d.popupAction(Errors, popup.TagError),
		Information: d.popupAction(Information, popup.TagInfo),
		Successes:   d.popupAction(Successes, popup.TagSuccess),
	}
	return d, nil
}

// Payload returns the parsed payload. Callers must not modify it.
func (d *Dispatcher) Payload() *Payload { return d.payload }

// SetServerCallback replaces or adds the action for category. A nil action
// removes it.
func (d *Dispatcher) SetServerCallback(category Category, action Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if action == nil {
		delete(d.actions, category)
		return
	}
	d.actions[category] = action
}

// SetResponseCallback sets the handler called once per raw response.
func (d *Dispatcher) SetResponseCallback(action ResponseAction) {
	d.mu.Lock()
	d.onResponse = action
	d.mu.Unlock()
}

// HandleResponse runs the registered actions over the payload: categories in
// document order, messages in order, then raw responses. Categories and
// responses without a handler are skipped. A failing or panicking handler
// does not stop the others; all failures come back joined.
func (d *Dispatcher) HandleResponse(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	actions := make(map[Category]Action, len(d.actions))
	for k, v := range d.actions {
		actions[k] = v
	}
	onResponse := d.onResponse
	d.mu.Unlock()

	var errs []error
	for _, c := range d.payload.Categories {
		act, ok := actions[c.Name]
		if !ok {
			continue
		}
		for i, msg := range c.Messages {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if err := d.invoke(c.Name, false, i, func() error { return act(ctx, msg) }); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if onResponse != nil {
		for i, raw := range d.payload.Responses {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if err := d.invoke("", true, i, func() error { return onResponse(ctx, raw) }); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) invoke(category Category, response bool, index int, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.log.Error("dispatch action panicked",
				logx.String("category", string(category)),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
		if err != nil {
			d.log.Warn("dispatch action failed",
				logx.String("category", string(category)),
				logx.Bool("response", response),
				logx.Int("index", index),
				logx.Err(err),
			)
			eventbus.Publish(d.bus, EventFailed, FailedEvent{Category: string(category), Response: response, Index: index, Error: err.Error()})
			err = &ActionError{Category: category, Response: response, Index: index, Err: err}
		}
	}()
	return fn()
}

func (d *Dispatcher) popupAction(category Category, tag string) Action {
	return func(_ context.Context, msg string) error {
		if d.queue == nil {
			return &ConfigurationError{Category: category, Err: ErrNoQueue}
		}
		d.queue.Enqueue(msg, []string{popup.TagPopup, tag}, d.lifetime)
		return nil
	}
}

func (d *Dispatcher) navigate(ctx context.Context, target string) error {
	if d.nav == nil {
		return &ConfigurationError{Category: Redirection, Err: ErrNoNavigator}
	}
	return d.nav.Navigate(ctx, target)
}

// isNil catches typed nil pointers hidden in an interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Interface, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
