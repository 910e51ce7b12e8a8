package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Popup   PopupConfig   `json:"popup"`

	// Transport and Poller are optional; a nil section disables server polling.
	Transport *TransportConfig `json:"transport,omitempty"`
	Poller    *PollerConfig    `json:"poller,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PopupConfig controls the pop-up queue and where pop-ups are shown.
//
// All durations are Go duration strings (e.g. "500ms", "4s").
//
// Defaults (when fields are omitted/zero):
//   - default_lifetime: "4s"
//   - surface_timeout: "10s"
//   - surface: "console"
type PopupConfig struct {
	DefaultLifetime string `json:"default_lifetime,omitempty"`
	SurfaceTimeout  string `json:"surface_timeout,omitempty"`

	// Surface is one of "console", "telegram" or "memory".
	Surface  string           `json:"surface,omitempty"`
	Console  ConsoleSurface   `json:"console"`
	Telegram *TelegramSurface `json:"telegram,omitempty"`
}

type ConsoleSurface struct {
	ShowRetired bool `json:"show_retired"`
}

type TelegramSurface struct {
	Token        string `json:"token"`
	ChatID       int64  `json:"chat_id"`
	ThreadID     int    `json:"thread_id,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	KeepMessages bool   `json:"keep_messages,omitempty"`
}

type TransportConfig struct {
	BaseURL string `json:"base_url"`
	// Timeout is a Go duration string. Default "15s".
	Timeout    string            `json:"timeout,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	RatePerSec int               `json:"rate_per_sec,omitempty"`
}

// PollerConfig schedules payload fetches through the transport.
//
// Example:
//
//	"poller": { "enabled": true, "schedule": "@every 30s", "path": "/messages" }
type PollerConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	Method string      `json:"method,omitempty"`
	Path   string      `json:"path"`
	Data   []DataField `json:"data,omitempty"`

	// Lifetime of pop-ups created from polled payloads. Falls back to
	// popup.default_lifetime.
	Lifetime string `json:"lifetime,omitempty"`
}

// DataField is an ordered request parameter.
type DataField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
