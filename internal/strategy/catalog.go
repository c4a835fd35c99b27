package strategy

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"atlasauth/internal/auth"
	"atlasauth/pkg/logging"
)

// RemoteAuthEnv holds the JSON client configuration of the remote provider:
// {"clientId": "...", "clientSecret": "...", "callbackUrl": "..."}.
const RemoteAuthEnv = "ATLASAUTH_REMOTE_AUTH"

// ClientCredentials are the registered OAuth client id and secret.
type ClientCredentials struct {
	ClientID     string `yaml:"clientId" json:"clientId"`
	ClientSecret string `yaml:"clientSecret" json:"clientSecret"`
}

// Props is the static OAuth configuration of one provider.
type Props struct {
	Provider OAuthProvider
	Product  auth.Product

	AuthorizationURL       string
	TokenURL               string
	ProfileURL             string
	EmailsURL              string
	AccessibleResourcesURL string

	// APIHost is the host of the product REST gateway.
	APIHost string
	// ResourceHost is the site host for providers without resource discovery.
	ResourceHost string

	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AdditionalAuthParams map[string]string
	AuthStyle            oauth2.AuthStyle
}

// Available reports whether the provider has a client id. An empty id
// means the provider cannot be used.
func (p Props) Available() bool {
	return p.ClientID != ""
}

// OAuth2Config returns the x/oauth2 configuration for the provider.
func (p Props) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.CallbackURL,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthorizationURL,
			TokenURL:  p.TokenURL,
			AuthStyle: p.AuthStyle,
		},
	}
}

// CallbackAddress splits the callback URL into the loopback listen
// address and the path the provider redirects to.
func (p Props) CallbackAddress() (addr, path string, err error) {
	u, err := url.Parse(p.CallbackURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid callback URL for %s: %w", p.Provider, err)
	}
	if u.Port() == "" {
		return "", "", fmt.Errorf("callback URL for %s has no port", p.Provider)
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return u.Host, path, nil
}

const (
	jiraScopes = "read:jira-user read:jira-work write:jira-work offline_access manage:jira-project"

	loopbackCallback = "http://127.0.0.1:31415"
)

func baseProps() map[OAuthProvider]Props {
	jiraParams := map[string]string{
		"audience": "api.atlassian.com",
		"prompt":   "consent",
	}
	jiraStagingParams := map[string]string{
		"audience": "api.stg.atlassian.com",
		"prompt":   "consent",
	}

	return map[OAuthProvider]Props{
		JiraCloud: {
			Provider:               JiraCloud,
			Product:                auth.ProductJira,
			AuthorizationURL:       "https://auth.atlassian.com/authorize",
			TokenURL:               "https://auth.atlassian.com/oauth/token",
			ProfileURL:             "https://api.atlassian.com/me",
			AccessibleResourcesURL: "https://api.atlassian.com/oauth/token/accessible-resources",
			APIHost:                "api.atlassian.com",
			CallbackURL:            loopbackCallback + "/jira",
			Scopes:                 strings.Fields(jiraScopes),
			AdditionalAuthParams:   jiraParams,
			AuthStyle:              oauth2.AuthStyleInParams,
		},
		JiraCloudStaging: {
			Provider:               JiraCloudStaging,
			Product:                auth.ProductJira,
			AuthorizationURL:       "https://auth.stg.atlassian.com/authorize",
			TokenURL:               "https://auth.stg.atlassian.com/oauth/token",
			ProfileURL:             "https://api.stg.atlassian.com/me",
			AccessibleResourcesURL: "https://api.stg.atlassian.com/oauth/token/accessible-resources",
			APIHost:                "api.stg.atlassian.com",
			CallbackURL:            loopbackCallback + "/jiraStaging",
			Scopes:                 strings.Fields(jiraScopes),
			AdditionalAuthParams:   jiraStagingParams,
			AuthStyle:              oauth2.AuthStyleInParams,
		},
		JiraCloudRemote: {
			Provider:               JiraCloudRemote,
			Product:                auth.ProductJira,
			AuthorizationURL:       "https://auth.atlassian.com/authorize",
			TokenURL:               "https://auth.atlassian.com/oauth/token",
			ProfileURL:             "https://api.atlassian.com/me",
			AccessibleResourcesURL: "https://api.atlassian.com/oauth/token/accessible-resources",
			APIHost:                "api.atlassian.com",
			Scopes:                 strings.Fields(jiraScopes),
			AdditionalAuthParams:   jiraParams,
			AuthStyle:              oauth2.AuthStyleInParams,
		},
		BitbucketCloud: {
			Provider:         BitbucketCloud,
			Product:          auth.ProductBitbucket,
			AuthorizationURL: "https://bitbucket.org/site/oauth2/authorize",
			TokenURL:         "https://bitbucket.org/site/oauth2/access_token",
			ProfileURL:       "https://api.bitbucket.org/2.0/user",
			EmailsURL:        "https://api.bitbucket.org/2.0/user/emails",
			APIHost:          "api.bitbucket.org",
			ResourceHost:     "bitbucket.org",
			CallbackURL:      loopbackCallback + "/bitbucketCloud",
			AuthStyle:        oauth2.AuthStyleInHeader,
		},
		BitbucketCloudStaging: {
			Provider:         BitbucketCloudStaging,
			Product:          auth.ProductBitbucket,
			AuthorizationURL: "https://staging.bb-inf.net/site/oauth2/authorize",
			TokenURL:         "https://staging.bb-inf.net/site/oauth2/access_token",
			ProfileURL:       "https://api-staging.bb-inf.net/2.0/user",
			EmailsURL:        "https://api-staging.bb-inf.net/2.0/user/emails",
			APIHost:          "api-staging.bb-inf.net",
			ResourceHost:     "staging.bb-inf.net",
			CallbackURL:      loopbackCallback + "/bitbucketStaging",
			AuthStyle:        oauth2.AuthStyleInHeader,
		},
	}
}

// Catalog is the immutable provider to Props lookup, resolved once at
// start-up.
type Catalog struct {
	props map[OAuthProvider]Props
}

type remoteAuthConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	CallbackURL  string `json:"callbackUrl"`
}

// NewCatalog merges the configured client credentials into the built-in
// provider table. The remote provider is configured from the RemoteAuthEnv
// variable read through env; when it is missing or malformed the provider
// stays unavailable.
func NewCatalog(clients map[OAuthProvider]ClientCredentials, env func(string) string) *Catalog {
	props := baseProps()

	for provider, creds := range clients {
		p, ok := props[provider]
		if !ok || provider == JiraCloudRemote {
			continue
		}
		p.ClientID = creds.ClientID
		p.ClientSecret = creds.ClientSecret
		props[provider] = p
	}

	if env != nil {
		remote := props[JiraCloudRemote]
		cfg := parseRemoteAuth(env(RemoteAuthEnv))
		remote.ClientID = cfg.ClientID
		remote.ClientSecret = cfg.ClientSecret
		remote.CallbackURL = cfg.CallbackURL
		props[JiraCloudRemote] = remote
	}

	return &Catalog{props: props}
}

func parseRemoteAuth(raw string) remoteAuthConfig {
	if strings.TrimSpace(raw) == "" {
		return remoteAuthConfig{}
	}
	var cfg remoteAuthConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		logging.Warn("Strategy", "Ignoring malformed %s: %v", RemoteAuthEnv, err)
		return remoteAuthConfig{}
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.CallbackURL == "" {
		logging.Warn("Strategy", "Ignoring incomplete %s", RemoteAuthEnv)
		return remoteAuthConfig{}
	}
	return cfg
}

// Props returns the configuration of provider.
func (c *Catalog) Props(provider OAuthProvider) (Props, error) {
	p, ok := c.props[provider]
	if !ok {
		return Props{}, fmt.Errorf("unknown OAuth provider %q", provider)
	}
	return p, nil
}

// NewCatalogFromProps builds a catalog from explicit provider configurations,
// for deployments that point providers at different endpoints.
func NewCatalogFromProps(props map[OAuthProvider]Props) *Catalog {
	out := make(map[OAuthProvider]Props, len(props))
	for provider, p := range props {
		p.Provider = provider
		out[provider] = p
	}
	return &Catalog{props: out}
}
