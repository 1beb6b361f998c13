package errors

import (
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeConfig          ErrCode = "CONFIG_ERROR"
	ErrCodeHTTP            ErrCode = "HTTP_ERROR"
	ErrCodeParse           ErrCode = "PARSE_ERROR"
	ErrCodeExternalProcess ErrCode = "EXTERNAL_PROCESS_ERROR"
	ErrCodeIO              ErrCode = "IO_ERROR"
	ErrCodeNotification    ErrCode = "NOTIFICATION_ERROR"
	ErrCodeDiscovery       ErrCode = "DISCOVERY_ERROR"
	ErrCodeNotFound        ErrCode = "NOT_FOUND"
	ErrCodeBadRequest      ErrCode = "BAD_REQUEST"
	ErrCodeInternal        ErrCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	// StatusCode and URL are only set for HTTP errors.
	StatusCode int
	URL        string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeConfig,
		Message: message,
		Err:     err,
	}
}

// NewHTTPError creates an error for a non-success API response
func NewHTTPError(url string, statusCode int) *AppError {
	return &AppError{
		Code:       ErrCodeHTTP,
		Message:    fmt.Sprintf("GET %s returned status %d", url, statusCode),
		StatusCode: statusCode,
		URL:        url,
	}
}

// NewParseError creates an error for a response body that could not be decoded
func NewParseError(url string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeParse,
		Message: fmt.Sprintf("malformed response body from %s", url),
		URL:     url,
		Err:     err,
	}
}

// NewExternalProcessError creates an error for a failed external command
func NewExternalProcessError(command string, output string, err error) *AppError {
	msg := fmt.Sprintf("%s failed", command)
	if output != "" {
		msg = fmt.Sprintf("%s failed: %s", command, output)
	}
	return &AppError{
		Code:    ErrCodeExternalProcess,
		Message: msg,
		Err:     err,
	}
}

// NewIOError creates an error for a filesystem failure
func NewIOError(path string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeIO,
		Message: fmt.Sprintf("cannot write %s", path),
		Err:     err,
	}
}

// NewNotificationError creates an error for a failed notification
func NewNotificationError(channel string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeNotification,
		Message: fmt.Sprintf("%s notification failed", channel),
		Err:     err,
	}
}

// NewDiscoveryError creates an error for a failed account or repository lookup
func NewDiscoveryError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeDiscovery,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in the chain, or "" if there is none.
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HTTPStatus returns the status code carried by an HTTP error, or 0.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == ErrCodeHTTP {
		return appErr.StatusCode
	}
	return 0
}

// IsHTTPError checks if the error is an API status error
func IsHTTPError(err error) bool {
	return CodeOf(err) == ErrCodeHTTP
}

// IsParseError checks if the error is a body decoding error
func IsParseError(err error) bool {
	return CodeOf(err) == ErrCodeParse
}

// IsExternalProcessError checks if the error came from an external command
func IsExternalProcessError(err error) bool {
	return CodeOf(err) == ErrCodeExternalProcess
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound || HTTPStatus(err) == 404
}
