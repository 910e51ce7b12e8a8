package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrNoQueue     = errors.New("no pop-up queue bound")
	ErrNoNavigator = errors.New("no navigator bound")
)

// MalformedPayloadError reports a payload that is not valid JSON or does not
// have the expected {"server": {...}, "responses": [...]} shape.
type MalformedPayloadError struct {
	Reason string
	Err    error
}

func (e *MalformedPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payload: %s: %v", e.Reason, e.Err)
	}
	return "malformed payload: " + e.Reason
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// ConfigurationError is returned by a default action that fires without the
// collaborator it needs.
type ConfigurationError struct {
	Category Category
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("dispatch %q: %v", e.Category, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ActionError wraps a failed (or panicking) handler invocation. Response is
// set for raw-response handlers, which carry no category.
type ActionError struct {
	Category Category
	Response bool
	Index    int
	Err      error
}

func (e *ActionError) Error() string {
	if e.Response {
		return fmt.Sprintf("response callback [%d]: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("server callback %q [%d]: %v", e.Category, e.Index, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
