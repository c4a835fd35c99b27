package dancer

import "errors"

var (
	// ErrStateMismatch is returned when the state of a redirect does not
	// match a pending authorization request.
	ErrStateMismatch = errors.New("state mismatch - possible CSRF attack")

	// ErrCallbackTimeout is returned when no redirect arrives in time.
	ErrCallbackTimeout = errors.New("timed out waiting for OAuth callback")

	// ErrProfileFetch is returned when the user profile cannot be resolved
	// after a successful token exchange.
	ErrProfileFetch = errors.New("failed to fetch user profile")

	// ErrProviderUnavailable is returned for providers without a client id.
	ErrProviderUnavailable = errors.New("OAuth provider is not configured")
)
