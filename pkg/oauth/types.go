package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// Token is the provider-neutral view of a token endpoint response.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the token lifetime in seconds (from token response).
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// ExpiresAt is the calculated expiration timestamp.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// ReceivedAt is when the token endpoint answered.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// SetExpiresAtFromExpiresIn calculates and sets ExpiresAt from ExpiresIn,
// relative to ReceivedAt.
func (t *Token) SetExpiresAtFromExpiresIn() {
	if t.ExpiresIn > 0 && t.ExpiresAt.IsZero() {
		base := t.ReceivedAt
		if base.IsZero() {
			base = time.Now()
		}
		t.ExpiresAt = base.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
}

// FromOAuth2Token converts an x/oauth2 token, reading expires_in from the
// raw response when the provider sent it.
func FromOAuth2Token(tok *oauth2.Token, receivedAt time.Time) *Token {
	t := &Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		ExpiresAt:    tok.Expiry,
		ReceivedAt:   receivedAt,
	}
	if t.ExpiresIn == 0 {
		switch v := tok.Extra("expires_in").(type) {
		case float64:
			t.ExpiresIn = int64(v)
		case int64:
			t.ExpiresIn = v
		}
	}
	t.SetExpiresAtFromExpiresIn()
	return t
}
