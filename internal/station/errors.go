package station

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Error kinds returned by Link. Details are wrapped with %w; match with errors.Is.
var (
	ErrConnect      = errors.New("station connect failed")
	ErrWakeupFailed = errors.New("station wakeup failed")
	ErrProtocol     = errors.New("station protocol error")
	ErrIOTimeout    = errors.New("station i/o timeout")
)

var errNotOpen = errors.New("station link not open")

// ioError wraps a socket error for op, marking deadline expiry as ErrIOTimeout.
func ioError(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %s: %w", ErrIOTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
