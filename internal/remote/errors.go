package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("remote: %d %s", e.Code, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
// Only 400 and 404 qualify; every other failure is treated as transient.
func (e *StatusError) Permanent() bool {
	return e.Code == http.StatusBadRequest || e.Code == http.StatusNotFound
}

// IsNotFound reports whether err is a 404 StatusError.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
