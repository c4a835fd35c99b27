// Package transport builds the HTTP clients used for token exchange,
// profile lookups and product REST calls.
package transport
