package docstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/flexquest/flexquest/internal/store"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const codeAuthenticationFailed = 18

// classify maps a driver error onto the store error classes. Errors that fit
// no class are returned as they are.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isAuthError(err):
		return fmt.Errorf("%v: %w", err, store.ErrAuthenticationFailed)
	case isNameResolutionError(err):
		return fmt.Errorf("%v: %w", err, store.ErrNameResolution)
	case errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err):
		return fmt.Errorf("%v: %w", err, store.ErrTimeout)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%v: %w", err, store.ErrDuplicateUsername)
	case mongo.IsNetworkError(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		strings.Contains(err.Error(), "server selection error"):
		return fmt.Errorf("%v: %w", err, store.ErrUnavailable)
	}
	return err
}

// classifyConnect is classify for the connect path, where anything that is
// not a credential problem means the store cannot be reached.
func classifyConnect(err error) error {
	err = classify(err)
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrAuthenticationFailed) {
		return err
	}
	return fmt.Errorf("%v: %w", err, store.ErrUnavailable)
}

func isAuthError(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == codeAuthenticationFailed {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "AuthenticationFailed") ||
		strings.Contains(msg, "auth error") ||
		strings.Contains(msg, "Authentication failed")
}

func isNameResolutionError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return strings.Contains(err.Error(), "no such host")
}
