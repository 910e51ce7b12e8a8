// Package transport fetches server payloads over HTTP.
//
// Only GET, POST, DELETE and PUT are allowed. Request data is sent as a
// query string for GET and as a form-encoded body otherwise. Non-2xx
// statuses come back as *StatusError and are never mixed into the payload's
// own "errors" category.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	logx "popupq/pkg/logx"
)

var ErrMethodNotAllowed = errors.New("transport: method not allowed")

const formContentType = "application/x-www-form-urlencoded"

// Field is a name/value pair for request data and headers.
type Field struct {
	Name  string
	Value string
}

type Request struct {
	Method  string
	Path    string
	Data    []Field
	Headers []Field
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
	// RatePerSec throttles outgoing requests. 0 disables throttling.
	RatePerSec int
}

type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetLogger(restyLogger{log: log})
	if len(cfg.Headers) > 0 {
		rc.SetHeaders(cfg.Headers)
	}
	c := &Client{http: rc, log: log}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return c
}

// Do sends req and returns the response body of a 2xx response.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPut:
	default:
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.Method)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	r := c.http.R().SetContext(ctx)
	for _, h := range req.Headers {
		r.SetHeader(h.Name, h.Value)
	}
	target := req.Path
	data := EncodeData(req.Data)
	if method == http.MethodGet {
		// Kept in the URL: resty's query params would be re-sorted.
		if data != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + data
		}
	} else {
		r.SetHeader("Content-Type", formContentType).SetBody(data)
	}

	start := time.Now()
	resp, err := r.Execute(method, target)
	if err != nil {
		return nil, fmt.Errorf("transport %s %s: %w", method, req.Path, err)
	}
	c.log.Debug("transport request done",
		logx.String("method", method),
		logx.String("path", req.Path),
		logx.Int("status", resp.StatusCode()),
		logx.Duration("took", time.Since(start)),
	)

	if class := Classify(resp.StatusCode()); class != Success {
		return nil, &StatusError{Method: method, Path: req.Path, Code: resp.StatusCode(), Class: class, Body: string(resp.Body())}
	}
	return resp.Body(), nil
}

// EncodeData renders fields as name=value pairs joined by '&'. An empty value
// is sent as "null".
func EncodeData(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := f.Value
		if v == "" {
			v = "null"
		}
		parts = append(parts, url.QueryEscape(f.Name)+"="+url.QueryEscape(v))
	}
	return strings.Join(parts, "&")
}

type restyLogger struct{ log logx.Logger }

func (l restyLogger) Errorf(format string, v ...interface{}) { l.log.Error(fmt.Sprintf(format, v...)) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.log.Warn(fmt.Sprintf(format, v...)) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.log.Debug(fmt.Sprintf(format, v...)) }
