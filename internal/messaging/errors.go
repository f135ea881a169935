package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks malformed or disallowed requests; the connection stays open.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStoreUnavailable marks persistence failures and timeouts.
	ErrStoreUnavailable = errors.New("store unavailable")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
