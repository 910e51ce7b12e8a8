package transport

import "fmt"

type StatusClass string

const (
	Success     StatusClass = "success"
	ClientError StatusClass = "client_error"
	ServerError StatusClass = "server_error"
	Unexpected  StatusClass = "unexpected"
)

func Classify(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Success
	case code >= 400 && code < 500:
		return ClientError
	case code >= 500 && code < 600:
		return ServerError
	default:
		return Unexpected
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Class  StatusClass
	Body   string
}

func (e *StatusError) Error() string {
	switch e.Class {
	case ClientError:
		return fmt.Sprintf("client side error occurred: %s %s: status %d", e.Method, e.Path, e.Code)
	case ServerError:
		return fmt.Sprintf("server side error occurred: %s %s: status %d", e.Method, e.Path, e.Code)
	default:
		return fmt.Sprintf("unexpected status: %s %s: status %d", e.Method, e.Path, e.Code)
	}
}
