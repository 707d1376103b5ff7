package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches a StatusError with status 404.
	ErrNotFound = errors.New("not found")
	// ErrBadResponse wraps undecodable response bodies.
	ErrBadResponse = errors.New("bad response")
	// ErrNoAnchor is returned when a sequential fetch has no document to
	// page from.
	ErrNoAnchor = errors.New("no anchor document")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("api: %s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Temporary reports server-side failures worth retrying by the caller.
func (e *StatusError) Temporary() bool {
	return e.Status/100 == 5 || e.Status == http.StatusRequestTimeout
}
