package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// ServiceError is a failed call to the embedding or generation service
type ServiceError struct {
	Op          string
	Status      int // HTTP status, 0 when the request never got an answer
	RateLimited bool
	Err         error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Temporary reports whether the same request may succeed later
func (e *ServiceError) Temporary() bool {
	switch {
	case e.RateLimited, e.Status == 0, e.Status >= 500, e.Status == http.StatusRequestTimeout:
		return true
	}
	return false
}

// classify wraps err from go-openai into a ServiceError
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ServiceError{
			Op:          op,
			Status:      apiErr.HTTPStatusCode,
			RateLimited: apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			Err:         err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ServiceError{
			Op:          op,
			Status:      reqErr.HTTPStatusCode,
			RateLimited: reqErr.HTTPStatusCode == http.StatusTooManyRequests,
			Err:         err,
		}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ServiceError{Op: op, Status: http.StatusServiceUnavailable, Err: err}
	}

	// Transport failure, no response
	return &ServiceError{Op: op, Err: err}
}
