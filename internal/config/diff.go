package config

import (
	"reflect"
	"sort"
	"strings"

	logx "popupq/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	op, np := oldCfg.Popup, newCfg.Popup
	if op.Lifetime() != np.Lifetime() || op.AttachTimeout() != np.AttachTimeout() ||
		op.SurfaceName() != np.SurfaceName() || op.Console != np.Console ||
		!reflect.DeepEqual(redactTelegram(op.Telegram), redactTelegram(np.Telegram)) {
		changed = append(changed, "popup")
		attrs = append(attrs,
			logx.Duration("popup.default_lifetime", np.Lifetime()),
			logx.String("popup.surface", np.SurfaceName()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport) {
		changed = append(changed, "transport")
		if t := newCfg.Transport; t != nil {
			attrs = append(attrs,
				logx.String("transport.base_url", strings.TrimSpace(t.BaseURL)),
				logx.Duration("transport.timeout", t.RequestTimeout()),
				logx.Int("transport.header_count", len(t.Headers)),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Poller, newCfg.Poller) {
		changed = append(changed, "poller")
		if p := newCfg.Poller; p != nil {
			attrs = append(attrs,
				logx.Bool("poller.enabled", p.Enabled),
				logx.String("poller.schedule", strings.TrimSpace(p.Schedule)),
				logx.String("poller.path", p.Path),
			)
		}
	}

	sort.Strings(changed)
	return changed, attrs
}

// redactTelegram keeps whether a token is set, not its value.
func redactTelegram(t *TelegramSurface) *TelegramSurface {
	if t == nil {
		return nil
	}
	c := *t
	if c.Token != "" {
		c.Token = "set"
	}
	return &c
}
