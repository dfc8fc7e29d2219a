package backend

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/sentinel"
)

// StatusError is a non-2xx HTTP answer from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Classify tags err as transient or permanent. Errors already carrying a
// domain code are returned unchanged.
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var tagged *dErrors.Error
	if errors.As(err, &tagged) {
		return err
	}
	if IsTransient(err) {
		return dErrors.Wrap(err, dErrors.CodeTransient, op)
	}
	return dErrors.Wrap(err, dErrors.CodePermanent, op)
}

// IsTransient reports whether err is network, timeout or availability class.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sentinel.ErrUnavailable) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
