package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// maxErrorBody caps how much of an error response is kept on a StatusError.
const maxErrorBody = 512

// StatusError is a non-2xx response from an external lookup service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

// NewStatusError records a failed response, keeping at most 512 bytes of
// body. A rune split by the cut, or any other invalid UTF-8, becomes U+FFFD.
func NewStatusError(service string, statusCode int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{
		Service:    service,
		StatusCode: statusCode,
		Body:       strings.ToValidUTF8(string(body), "\uFFFD"),
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d %s: %s", e.Service, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Temporary reports whether the provider is overloaded or down rather than
// rejecting the request itself.
func (e *StatusError) Temporary() bool {
	return IsTransientHTTPStatus(e.StatusCode)
}

var transientStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsTransientHTTPStatus reports whether code signals throttling or a
// server-side fault.
func IsTransientHTTPStatus(code int) bool {
	return transientStatus[code]
}

var transientErrnos = []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE}

// Fallback for transport errors that arrive flattened into strings.
var transientFragments = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"temporary failure in name resolution",
}

// IsTransient reports whether err, anywhere in its chain, looks like a
// provider outage. Caller cancellation is never transient.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	if se := (*StatusError)(nil); errors.As(err, &se) {
		return se.Temporary()
	}
	if de := (*net.DNSError)(nil); errors.As(err, &de) {
		return de.IsTimeout || de.IsTemporary
	}
	if ne := net.Error(nil); errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
