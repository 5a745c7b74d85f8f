package item

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrTransientNetwork = errors.New("transient network error")
	ErrAuth             = errors.New("authentication error")
	ErrMalformedSource  = errors.New("malformed source")
	ErrMalformedItem    = errors.New("malformed item")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrStoreUnavailable)
}

// IsStructural reports whether err points at a configuration problem
// rather than network noise.
func IsStructural(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrMalformedSource)
}

// Classify maps transport level failures onto the taxonomy. Errors that
// already carry a taxonomy sentinel are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{ErrTransientNetwork, ErrAuth, ErrMalformedSource, ErrMalformedItem, ErrStoreUnavailable} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
	}

	return err
}

// StoreError wraps a durable store or cache failure. Deadlines also match
// ErrTransientNetwork.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w: %w", op, ErrStoreUnavailable, ErrTransientNetwork, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
