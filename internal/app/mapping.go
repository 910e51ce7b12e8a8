package app

import (
	"fmt"
	"io"
	"strings"

	"popupq/internal/config"
	"popupq/internal/poller"
	"popupq/internal/popup"
	"popupq/internal/surface"
	"popupq/internal/transport"
	logx "popupq/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTransportConfig(tc *config.TransportConfig) transport.Config {
	return transport.Config{
		BaseURL:    tc.BaseURL,
		Timeout:    tc.RequestTimeout(),
		Headers:    tc.Headers,
		RatePerSec: tc.RatePerSec,
	}
}

// mapPollerConfig returns a disabled config when the section is missing.
func mapPollerConfig(cfg *config.Config) poller.Config {
	pc := cfg.Poller
	if pc == nil {
		return poller.Config{}
	}
	data := make([]transport.Field, 0, len(pc.Data))
	for _, f := range pc.Data {
		data = append(data, transport.Field{Name: f.Name, Value: f.Value})
	}
	return poller.Config{
		Enabled:  pc.Enabled,
		Schedule: pc.Schedule,
		Timezone: pc.Timezone,
		Request: transport.Request{
			Method: pc.Method,
			Path:   pc.Path,
			Data:   data,
		},
		Lifetime: pc.PollLifetime(cfg.Popup.Lifetime()),
	}
}

func buildSurface(pc config.PopupConfig, out io.Writer, log logx.Logger) (popup.Surface, error) {
	switch pc.SurfaceName() {
	case config.SurfaceConsole:
		return surface.NewConsole(out, pc.Console.ShowRetired), nil
	case config.SurfaceMemory:
		return surface.NewMemory(), nil
	case config.SurfaceTelegram:
		tg := pc.Telegram
		if tg == nil {
			return nil, fmt.Errorf("popup.telegram: section is required")
		}
		return surface.NewTelegram(surface.TelegramConfig{
			Token:        strings.TrimSpace(tg.Token),
			ChatID:       tg.ChatID,
			ThreadID:     tg.ThreadID,
			RatePerSec:   tg.RatePerSec,
			KeepMessages: tg.KeepMessages,
		}, log.With(logx.String("comp", "surface.telegram")))
	default:
		return nil, fmt.Errorf("popup.surface: unknown surface %q", pc.Surface)
	}
}
