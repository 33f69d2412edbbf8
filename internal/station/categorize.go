package station

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory is a stable label for error classification in metrics and health.
type ErrorCategory string

const (
	ErrorCategoryConnect  ErrorCategory = "connect"
	ErrorCategoryWakeup   ErrorCategory = "wakeup"
	ErrorCategoryProtocol ErrorCategory = "protocol"
	ErrorCategoryTimeout  ErrorCategory = "timeout"
	ErrorCategoryNetwork  ErrorCategory = "network"
	ErrorCategoryCanceled ErrorCategory = "canceled"
	ErrorCategoryUnknown  ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrConnect):
		return ErrorCategoryConnect
	case errors.Is(err, ErrWakeupFailed):
		return ErrorCategoryWakeup
	case errors.Is(err, ErrProtocol):
		return ErrorCategoryProtocol
	case errors.Is(err, ErrIOTimeout):
		return ErrorCategoryTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return ErrorCategoryTimeout
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "closed pipe") || strings.Contains(errStr, "EOF") {
		return ErrorCategoryNetwork
	}

	return ErrorCategoryUnknown
}
