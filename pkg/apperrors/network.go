package apperrors

import (
	"errors"
	"net"
	"syscall"
)

// IsNetworkError reports whether err represents a transient network failure:
// connection refused/reset, timeout, broken pipe, or an unreachable host.
// This classification is stdlib-only (net/syscall) by design: no example in
// the reference corpus ships a standalone network-error-classifier library,
// and the one precedent available (k8s.io/apimachinery/pkg/util/net) pulls in
// the entire apimachinery module for four helper functions this domain has no
// other use for, so the classification is reimplemented directly against
// net.Error/net.OpError/syscall.Errno instead of adding that dependency.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT,
			syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.ECONNABORTED,
			syscall.EPIPE:
			return true
		}
	}

	return false
}
