package login

import (
	"context"
	"net/http"

	"atlasauth/internal/auth"
	"atlasauth/internal/authenticator"
	"atlasauth/internal/strategy"
)

// Dancer runs OAuth dances. It is implemented by *dancer.Dancer.
type Dancer interface {
	DoDance(ctx context.Context, provider strategy.OAuthProvider, site auth.SiteInfo, callback string) (*auth.OAuthResponse, error)
	DoInitRemoteDance(ctx context.Context, state string) (authURL, flowState string, err error)
	DoFinishRemoteDance(ctx context.Context, provider strategy.OAuthProvider, site auth.SiteInfo, code, state string) (*auth.OAuthResponse, error)
	ResolveToken(ctx context.Context, provider strategy.OAuthProvider, accessToken string) (*auth.OAuthResponse, error)
}

// CredentialStore is the part of credentials.Manager the logins write to.
type CredentialStore interface {
	Save(ctx context.Context, site auth.DetailedSiteInfo, info auth.AuthInfo) error
	UpdateState(ctx context.Context, site auth.DetailedSiteInfo, state auth.AuthInfoState) error
}

// SiteRegistry is the part of sites.Registry the logins write to.
type SiteRegistry interface {
	AddSites(sites []auth.DetailedSiteInfo) error
	AddOrUpdateSite(site auth.DetailedSiteInfo) error
	RemoveSite(ctx context.Context, site auth.DetailedSiteInfo) (bool, error)
	SiteForHostname(product auth.Product, hostname string) (auth.DetailedSiteInfo, bool)
}

// AuthenticatorFactory returns the authenticator for a product.
type AuthenticatorFactory func(product auth.Product) (authenticator.Authenticator, error)

// HTTPClientSource supplies the per-site HTTP client for server logins.
type HTTPClientSource interface {
	Client(site auth.SiteInfo) (*http.Client, error)
}

// TokenSource finds a Bitbucket access token outside the credential store.
type TokenSource interface {
	Discover(ctx context.Context) (string, bool)
}

// Notifier shows messages to the user.
type Notifier interface {
	ShowInfo(message string)
	ShowError(message string)
}

// Analytics receives login events.
type Analytics interface {
	Authenticated(site auth.DetailedSiteInfo, isOnboarding bool, source string)
}

// LoginOptions describe where a user initiated login came from.
type LoginOptions struct {
	IsOnboarding bool
	Source       string
}

type nopNotifier struct{}

func (nopNotifier) ShowInfo(string)  {}
func (nopNotifier) ShowError(string) {}

type nopAnalytics struct{}

func (nopAnalytics) Authenticated(auth.DetailedSiteInfo, bool, string) {}
