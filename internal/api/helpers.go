package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mnnllm/internal/mnn"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": APIError{Message: msg, Type: errType},
	})
}

func writeFacadeError(c *echo.Context, err error) error {
	status, errType := classify(err)
	return writeError(c, status, errType, err.Error())
}

func apiError(err error) *APIError {
	_, errType := classify(err)
	return &APIError{Message: err.Error(), Type: errType}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, fmt.Errorf("request body is required")
		}
		return out, err
	}
	return out, nil
}

func newChatID() string {
	return "chat-" + uuid.NewString()
}

func newJobID() string {
	return "job_" + uuid.NewString()
}

func chatResponse(id string, created time.Time, model string, res mnn.Result) *ChatResponse {
	return &ChatResponse{
		ID:         id,
		Object:     "chat.reply",
		Created:    created.Unix(),
		Model:      model,
		Text:       res.Text,
		Tokens:     res.Tokens,
		DurationMS: res.Duration.Milliseconds(),
	}
}
