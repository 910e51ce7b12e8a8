package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultPopupLifetime    = 4 * time.Second
	DefaultSurfaceTimeout   = 10 * time.Second
	DefaultTransportTimeout = 15 * time.Second

	SurfaceConsole  = "console"
	SurfaceTelegram = "telegram"
	SurfaceMemory   = "memory"
)

// Validate checks the parts of cfg that decoding cannot: enum values,
// duration strings and cross-section requirements.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("popup.default_lifetime", cfg.Popup.DefaultLifetime)
	add(err)
	_, err = ParseDurationField("popup.surface_timeout", cfg.Popup.SurfaceTimeout)
	add(err)

	switch cfg.Popup.SurfaceName() {
	case SurfaceConsole, SurfaceMemory:
	case SurfaceTelegram:
		tg := cfg.Popup.Telegram
		switch {
		case tg == nil:
			add(errors.New("popup.telegram: section is required for the telegram surface"))
		case strings.TrimSpace(tg.Token) == "":
			add(errors.New("popup.telegram.token: must be set"))
		case tg.ChatID == 0:
			add(errors.New("popup.telegram.chat_id: must be set"))
		}
	default:
		add(fmt.Errorf("popup.surface: unknown surface %q", cfg.Popup.Surface))
	}

	if t := cfg.Transport; t != nil {
		_, err = ParseDurationField("transport.timeout", t.Timeout)
		add(err)
		if t.RatePerSec < 0 {
			add(errors.New("transport.rate_per_sec: must be >= 0"))
		}
	}

	if p := cfg.Poller; p != nil {
		_, err = ParseDurationField("poller.lifetime", p.Lifetime)
		add(err)
		switch strings.ToUpper(strings.TrimSpace(p.Method)) {
		case "", http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPut:
		default:
			add(fmt.Errorf("poller.method: %q is not one of GET, POST, DELETE, PUT", p.Method))
		}
		if p.Enabled && (cfg.Transport == nil || strings.TrimSpace(cfg.Transport.BaseURL) == "") {
			add(errors.New("poller: enabled but transport.base_url is not set"))
		}
	}

	return errors.Join(errs...)
}

// SurfaceName returns the normalized surface, "console" when unset.
func (p PopupConfig) SurfaceName() string {
	s := strings.ToLower(strings.TrimSpace(p.Surface))
	if s == "" {
		return SurfaceConsole
	}
	return s
}

func (p PopupConfig) Lifetime() time.Duration {
	return durationOr("popup.default_lifetime", p.DefaultLifetime, DefaultPopupLifetime)
}

func (p PopupConfig) AttachTimeout() time.Duration {
	return durationOr("popup.surface_timeout", p.SurfaceTimeout, DefaultSurfaceTimeout)
}

func (t TransportConfig) RequestTimeout() time.Duration {
	return durationOr("transport.timeout", t.Timeout, DefaultTransportTimeout)
}

// PollLifetime falls back to def when the poller sets no lifetime of its own.
func (p PollerConfig) PollLifetime(def time.Duration) time.Duration {
	return durationOr("poller.lifetime", p.Lifetime, def)
}

func durationOr(path, raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault(path, raw, def)
	if err != nil {
		return def
	}
	return d
}
