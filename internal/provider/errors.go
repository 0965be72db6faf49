package provider

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by raw clients whose credentials are missing.
var ErrNotConfigured = errors.New("provider credentials not configured")

// ExternalAPIError is a failed provider call. It is the only error class the
// cached clients return.
type ExternalAPIError struct {
	Service    string
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *ExternalAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (%s): status %d: %v", e.Service, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s API error (%s): %v", e.Service, e.Endpoint, e.Err)
}

func (e *ExternalAPIError) Unwrap() error {
	return e.Err
}

// NewError wraps err for endpoint unless it already is an ExternalAPIError.
func NewError(service, endpoint string, statusCode int, err error) error {
	var apiErr *ExternalAPIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &ExternalAPIError{
		Service:    service,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Err:        err,
	}
}
