package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/samcharles93/mnnllm/internal/mnn"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a facade error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, mnn.ErrEmptyPath),
		errors.Is(err, mnn.ErrEmptyQuestion):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, mnn.ErrNotLoaded):
		return http.StatusConflict, "model_not_loaded"
	case errors.Is(err, mnn.ErrLoadFailed):
		return http.StatusUnprocessableEntity, "load_failed"
	case errors.Is(err, mnn.ErrEmptyReply):
		return http.StatusBadGateway, "empty_reply"
	case errors.Is(err, mnn.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "cancelled"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
