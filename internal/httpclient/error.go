package httpclient

import (
	"fmt"
	"net/http"

	"github.com/voxbill/voxbill/internal/errors"
)

// Error is returned by Send when the remote answered outside 2xx. The body
// is kept so gateways can read their provider's rejection payload.
type Error struct {
	*errors.InternalError
	StatusCode int
	Response   []byte
}

func (e *Error) Unwrap() error { return e.InternalError.Unwrap() }

func (e *Error) Error() string { return e.InternalError.Error() }

// IsThrottled reports a 429 from the remote.
func (e *Error) IsThrottled() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsServerError reports a 5xx from the remote.
func (e *Error) IsServerError() bool { return e.StatusCode >= http.StatusInternalServerError }

func NewError(statusCode int, response []byte) *Error {
	return &Error{
		InternalError: &errors.InternalError{
			Code:    errors.ErrCodeHTTPClient,
			Message: fmt.Sprintf("remote responded %d %s", statusCode, http.StatusText(statusCode)),
		},
		StatusCode: statusCode,
		Response:   response,
	}
}

// IsHTTPError unwraps err to an *Error when the failure came from a response.
func IsHTTPError(err error) (*Error, bool) {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
