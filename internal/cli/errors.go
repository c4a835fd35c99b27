package cli

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"

	"atlasauth/internal/auth"
	"atlasauth/internal/dancer"
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a network connectivity error (e.g., refused, unreachable).
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError indicates a site could not be reached.
type ConnectionError struct {
	// Site is the host that could not be reached.
	Site string
	// Type categorizes the connection error.
	Type ConnectionErrorType
	// Reason is the underlying error.
	Reason error
}

// Error returns the category, the site and a hint for TLS failures.
func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("%s reaching %s: %v", e.Type, e.Site, e.Reason)
	if e.Type == ConnectionErrorTLS {
		msg += "\n\nIf the site uses a private CA, pass it with --ca-cert (or a client certificate with --pfx)."
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError returns the connection error err represents, or
// nil if err is not a connection failure. Timeouts waiting for the browser
// are not connection failures.
func ClassifyConnectionError(err error, site string) *ConnectionError {
	if err == nil || errors.Is(err, dancer.ErrCallbackTimeout) {
		return nil
	}

	var dnsErr *net.DNSError
	switch {
	case isTLSError(err):
		return &ConnectionError{Site: site, Type: ConnectionErrorTLS, Reason: err}
	case errors.As(err, &dnsErr):
		return &ConnectionError{Site: site, Type: ConnectionErrorDNS, Reason: err}
	case isTimeoutError(err):
		return &ConnectionError{Site: site, Type: ConnectionErrorTimeout, Reason: err}
	case isDialError(err):
		return &ConnectionError{Site: site, Type: ConnectionErrorNetwork, Reason: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ConnectionError{Site: site, Type: ConnectionErrorUnknown, Reason: err}
	}
	return nil
}

// isTLSError reports handshake failures against a site: an untrusted or
// mismatched certificate, or a plain HTTP server on a TLS port.
func isTLSError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
		systemRoots x509.SystemRootsError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &systemRoots)
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isDialError reports a site that refused or could not be routed to.
func isDialError(err error) bool {
	for _, errno := range []error{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// AuthRequiredError indicates there are no credentials for a site.
type AuthRequiredError struct {
	// Site is the host without credentials.
	Site string
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Authentication required for %s

To authenticate, run:
  atlasauth auth login --site %s

To check current authentication status:
  atlasauth auth status`, e.Site, e.Site)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthExpiredError indicates the stored credentials of a site were marked
// invalid.
type AuthExpiredError struct {
	// Site is the host whose credentials are invalid.
	Site string
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf(`Credentials for %s are no longer valid

To re-authenticate, run:
  atlasauth auth login --site %s

Or, for a server site, store new credentials:
  atlasauth auth update --site %s`, e.Site, e.Site, e.Site)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthExpiredError) Is(target error) bool {
	_, ok := target.(*AuthExpiredError)
	return ok
}

// AuthFailedError indicates a login attempt failed.
type AuthFailedError struct {
	// Site is the host the login targeted.
	Site string
	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication failed for %s: %v

To retry authentication, run:
  atlasauth auth login --site %s`, e.Site, e.Reason, e.Site)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}

// WrapLoginError turns a login failure for site into an AuthFailedError.
// Connection failures are classified first so the message names the
// network problem rather than the credentials.
func WrapLoginError(site string, err error) error {
	if err == nil {
		return nil
	}
	if connErr := ClassifyConnectionError(err, site); connErr != nil {
		return &AuthFailedError{Site: site, Reason: connErr}
	}
	var loginErr *auth.LoginError
	if errors.As(err, &loginErr) {
		return &AuthFailedError{Site: site, Reason: loginErr.Cause}
	}
	return &AuthFailedError{Site: site, Reason: err}
}
