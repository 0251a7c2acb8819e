package board

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category classifies a failed remote call. Classification happens once at
// the HTTP-call boundary; everything downstream switches on the category
// instead of re-inspecting error types.
type Category string

const (
	CategoryConnection  Category = "connection"
	CategoryTimeout     Category = "timeout"
	CategoryRateLimited Category = "rate_limited"
	CategoryAccess      Category = "access"
	CategoryHTTP        Category = "http"
	CategoryRedirects   Category = "redirects"
	CategoryUnknown     Category = "unknown"
)

// ErrTooManyRedirects is returned by the client's redirect policy when a
// request exceeds the redirect cap.
var ErrTooManyRedirects = errors.New("too many redirects")

// RequestError is the tagged error produced for every failed remote call.
type RequestError struct {
	Category   Category
	StatusCode int
	URL        string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (HTTP %d) for %s", e.Category, e.StatusCode, e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error for %s: %v", e.Category, e.URL, e.Err)
	}
	return fmt.Sprintf("%s error for %s", e.Category, e.URL)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Classify builds a RequestError from a transport error or a non-2xx
// status. Exactly one of err or status is consulted: pass status 0 with a
// non-nil err for transport failures, or err nil with the offending status.
func Classify(rawURL string, status int, err error) *RequestError {
	if err != nil {
		re := &RequestError{URL: rawURL, Err: err}
		switch {
		case errors.Is(err, ErrTooManyRedirects):
			re.Category = CategoryRedirects
		case isTimeout(err):
			re.Category = CategoryTimeout
		case isConnection(err):
			re.Category = CategoryConnection
		default:
			re.Category = CategoryUnknown
		}
		return re
	}

	re := &RequestError{URL: rawURL, StatusCode: status}
	switch {
	case status == http.StatusTooManyRequests:
		re.Category = CategoryRateLimited
	case status == http.StatusForbidden || status == http.StatusNotFound:
		re.Category = CategoryAccess
	default:
		re.Category = CategoryHTTP
	}
	return re
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnection(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
