// Package oauth holds the protocol helpers shared by the interactive and
// remote OAuth dances: PKCE verifier/challenge generation (RFC 7636),
// state generation, a provider-neutral Token with expiry bookkeeping, and
// unverified JWT claim reading for the token issue time.
//
// The authorization request and code exchange themselves are driven by
// golang.org/x/oauth2 in internal/dancer.
package oauth
