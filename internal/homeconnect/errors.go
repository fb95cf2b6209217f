package homeconnect

import (
	"errors"
	"fmt"
)

// ErrUnexpectedStatus is wrapped by every *StatusError.
var ErrUnexpectedStatus = errors.New("homeconnect: unexpected response status")

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("homeconnect: %s %s: status %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
