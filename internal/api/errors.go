package api

import (
	"fmt"
	"net/http"
	"strings"
)

// ApiError is the JSON error body for every non-2xx REST response. The
// wrapped cause is for logs and errors.Is, never serialized.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *ApiError) Unwrap() error { return e.Err }

func newApiError(status int, err error) *ApiError {
	return &ApiError{
		StatusCode: status,
		Message:    strings.ToLower(http.StatusText(status)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError   { return newApiError(http.StatusBadRequest, nil) }
func NewNotFoundError() *ApiError     { return newApiError(http.StatusNotFound, nil) }
func NewUnauthorizedError() *ApiError { return newApiError(http.StatusUnauthorized, nil) }

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewServiceUnavailableError(err error) *ApiError {
	return newApiError(http.StatusServiceUnavailable, err)
}
