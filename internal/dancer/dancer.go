package dancer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"atlasauth/internal/auth"
	"atlasauth/internal/strategy"
	"atlasauth/pkg/logging"
	"atlasauth/pkg/oauth"
)

// DefaultCallbackTimeout bounds the wait for the browser redirect.
const DefaultCallbackTimeout = 5 * time.Minute

// Dancer runs the OAuth authorization-code exchange with PKCE, either
// interactively through a loopback redirect or split into a remote
// init/finish pair.
type Dancer struct {
	catalog         *strategy.Catalog
	httpClient      *http.Client
	flows           *RemoteFlowStore
	openBrowser     BrowserOpener
	callbackTimeout time.Duration
	now             func() time.Time

	mu     sync.Mutex
	seq    uint64
	active map[strategy.OAuthProvider]activeDance
}

type activeDance struct {
	id     uint64
	cancel context.CancelFunc
}

// Option configures a Dancer.
type Option func(*Dancer)

// WithCallbackTimeout overrides DefaultCallbackTimeout.
func WithCallbackTimeout(d time.Duration) Option {
	return func(dn *Dancer) {
		if d > 0 {
			dn.callbackTimeout = d
		}
	}
}

// WithBrowserOpener replaces OpenBrowser, for headless use and tests.
func WithBrowserOpener(fn BrowserOpener) Option {
	return func(dn *Dancer) {
		dn.openBrowser = fn
	}
}

// New creates a Dancer. flows may be nil when the remote dance is unused.
func New(catalog *strategy.Catalog, httpClient *http.Client, flows *RemoteFlowStore, opts ...Option) *Dancer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	d := &Dancer{
		catalog:         catalog,
		httpClient:      httpClient,
		flows:           flows,
		openBrowser:     OpenBrowser,
		callbackTimeout: DefaultCallbackTimeout,
		now:             time.Now,
		active:          make(map[strategy.OAuthProvider]activeDance),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dancer) props(provider strategy.OAuthProvider) (strategy.Props, error) {
	props, err := d.catalog.Props(provider)
	if err != nil {
		return strategy.Props{}, err
	}
	if !props.Available() {
		return strategy.Props{}, fmt.Errorf("%w: %s", ErrProviderUnavailable, provider)
	}
	return props, nil
}

func authCodeOptions(props strategy.Props, verifier string) []oauth2.AuthCodeOption {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	for k, v := range props.AdditionalAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return opts
}

// begin registers a dance for provider, cancelling any dance already
// running for it; only one loopback listener per provider can exist.
func (d *Dancer) begin(ctx context.Context, provider strategy.OAuthProvider) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	if previous, ok := d.active[provider]; ok {
		logging.Debug("Dancer", "Cancelling previous %s dance", provider)
		previous.cancel()
	}
	d.seq++
	id := d.seq
	d.active[provider] = activeDance{id: id, cancel: cancel}
	d.mu.Unlock()

	return ctx, func() {
		cancel()
		d.mu.Lock()
		if current, ok := d.active[provider]; ok && current.id == id {
			delete(d.active, provider)
		}
		d.mu.Unlock()
	}
}

// DoDance runs the interactive flow for provider: it starts the loopback
// callback server, opens the authorization URL in the browser, waits for
// the redirect, checks state, exchanges the code and resolves the user
// and the accessible resources. If callback is set the browser is
// redirected there after success. The callback server is stopped on every
// return path.
func (d *Dancer) DoDance(ctx context.Context, provider strategy.OAuthProvider, site auth.SiteInfo, callback string) (*auth.OAuthResponse, error) {
	props, err := d.props(provider)
	if err != nil {
		return nil, err
	}

	ctx, done := d.begin(ctx, provider)
	defer done()

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}

	addr, path, err := props.CallbackAddress()
	if err != nil {
		return nil, err
	}

	server := NewCallbackServer(addr, path, props.Product.Name, callback)
	servedURL, err := server.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer server.Stop()

	conf := props.OAuth2Config()
	if _, port, _ := net.SplitHostPort(addr); port == "0" {
		conf.RedirectURL = servedURL
	}

	authURL := conf.AuthCodeURL(state, authCodeOptions(props, pkce.CodeVerifier)...)
	logging.Info("Dancer", "Starting %s authorization for %s", provider, site.Host)
	if err := d.openBrowser(authURL); err != nil {
		logging.Warn("Dancer", "Could not open browser, visit this URL to continue: %s (%v)", authURL, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.callbackTimeout)
	defer cancel()

	result, err := server.WaitForCallback(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: no response from %s within %s", ErrCallbackTimeout, provider, d.callbackTimeout)
		}
		server.Complete(err)
		return nil, err
	}

	if result.IsError() {
		err := fmt.Errorf("authorization denied by %s: %s %s", provider, result.Error, result.ErrorDescription)
		server.Complete(err)
		return nil, err
	}
	if result.State != state {
		server.Complete(ErrStateMismatch)
		return nil, ErrStateMismatch
	}

	resp, err := d.exchange(ctx, props, conf, result.Code, pkce.CodeVerifier)
	server.Complete(err)
	if err != nil {
		return nil, err
	}

	logging.Info("Dancer", "%s authorization complete for user %s (%d resource(s))", provider, resp.User.ID, len(resp.AccessibleResources))
	return resp, nil
}

// DoInitRemoteDance starts a remote flow for the Jira remote provider and
// returns the authorization URL. The verifier is stored under state until
// DoFinishRemoteDance consumes it; an empty state is generated.
func (d *Dancer) DoInitRemoteDance(ctx context.Context, state string) (authURL, flowState string, err error) {
	if d.flows == nil {
		return "", "", errors.New("remote OAuth flows are not enabled")
	}
	props, err := d.props(strategy.JiraCloudRemote)
	if err != nil {
		return "", "", err
	}

	if state == "" {
		if state, err = oauth.GenerateState(); err != nil {
			return "", "", err
		}
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return "", "", err
	}

	if err := d.flows.Put(RemoteFlow{
		State:    state,
		Verifier: pkce.CodeVerifier,
		Provider: props.Provider,
	}); err != nil {
		return "", "", err
	}

	logging.Info("Dancer", "Initialized remote %s authorization", props.Provider)
	return props.OAuth2Config().AuthCodeURL(state, authCodeOptions(props, pkce.CodeVerifier)...), state, nil
}

// DoFinishRemoteDance completes the remote flow identified by state with
// the authorization code captured out of process.
func (d *Dancer) DoFinishRemoteDance(ctx context.Context, provider strategy.OAuthProvider, site auth.SiteInfo, code, state string) (*auth.OAuthResponse, error) {
	if d.flows == nil {
		return nil, errors.New("remote OAuth flows are not enabled")
	}
	props, err := d.props(provider)
	if err != nil {
		return nil, err
	}

	flow, ok, err := d.flows.Take(state)
	if err != nil {
		return nil, err
	}
	if !ok || flow.Provider != provider {
		return nil, ErrStateMismatch
	}

	logging.Debug("Dancer", "Finishing remote %s authorization for %s", provider, site.Host)
	return d.exchange(ctx, props, props.OAuth2Config(), code, flow.Verifier)
}

// ResolveToken builds a response for an access token obtained outside a
// dance, such as one found in the git configuration. The token is used
// as is; there is no refresh token and no known expiry.
func (d *Dancer) ResolveToken(ctx context.Context, provider strategy.OAuthProvider, accessToken string) (*auth.OAuthResponse, error) {
	props, err := d.catalog.Props(provider)
	if err != nil {
		return nil, err
	}

	receivedAt := d.now()
	issuedAt := receivedAt
	if iat, ok := oauth.IssuedAt(accessToken); ok {
		issuedAt = iat
	}

	user, err := d.fetchUser(ctx, props, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w from %s: %v", ErrProfileFetch, provider, err)
	}
	resources, err := d.fetchResources(ctx, props, accessToken)
	if err != nil {
		return nil, err
	}

	return &auth.OAuthResponse{
		Access:              accessToken,
		IssuedAt:            issuedAt.UnixMilli(),
		ReceivedAt:          receivedAt.UnixMilli(),
		User:                user,
		AccessibleResources: resources,
	}, nil
}

// exchange trades code for tokens and normalizes the result.
func (d *Dancer) exchange(ctx context.Context, props strategy.Props, conf *oauth2.Config, code, verifier string) (*auth.OAuthResponse, error) {
	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	tok, err := conf.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange with %s failed: %w", props.Provider, err)
	}

	receivedAt := d.now()
	token := oauth.FromOAuth2Token(tok, receivedAt)

	issuedAt := receivedAt
	if iat, ok := oauth.IssuedAt(token.AccessToken); ok {
		issuedAt = iat
	}

	user, err := d.fetchUser(ctx, props, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w from %s: %v", ErrProfileFetch, props.Provider, err)
	}

	resources, err := d.fetchResources(ctx, props, token.AccessToken)
	if err != nil {
		return nil, err
	}

	var expiration int64
	if !token.ExpiresAt.IsZero() {
		expiration = token.ExpiresAt.UnixMilli()
	}

	return &auth.OAuthResponse{
		Access:              token.AccessToken,
		Refresh:             token.RefreshToken,
		IssuedAt:            issuedAt.UnixMilli(),
		ExpirationDate:      expiration,
		ReceivedAt:          receivedAt.UnixMilli(),
		User:                user,
		AccessibleResources: resources,
	}, nil
}

func (d *Dancer) getJSON(ctx context.Context, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("GET %s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

type atlassianProfile struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Picture   string `json:"picture"`
}

type bitbucketProfile struct {
	AccountID   string `json:"account_id"`
	UUID        string `json:"uuid"`
	DisplayName string `json:"display_name"`
	Links       struct {
		Avatar struct {
			Href string `json:"href"`
		} `json:"avatar"`
	} `json:"links"`
}

type bitbucketEmails struct {
	Values []struct {
		Email       string `json:"email"`
		IsPrimary   bool   `json:"is_primary"`
		IsConfirmed bool   `json:"is_confirmed"`
	} `json:"values"`
}

func (d *Dancer) fetchUser(ctx context.Context, props strategy.Props, accessToken string) (auth.UserInfo, error) {
	if props.Product == auth.ProductBitbucket {
		return d.fetchBitbucketUser(ctx, props, accessToken)
	}

	var p atlassianProfile
	if err := d.getJSON(ctx, props.ProfileURL, accessToken, &p); err != nil {
		return auth.UserInfo{}, err
	}
	if p.AccountID == "" {
		return auth.UserInfo{}, errors.New("profile has no account id")
	}
	return auth.UserInfo{ID: p.AccountID, DisplayName: p.Name, Email: p.Email, AvatarURL: p.Picture}, nil
}

func (d *Dancer) fetchBitbucketUser(ctx context.Context, props strategy.Props, accessToken string) (auth.UserInfo, error) {
	var p bitbucketProfile
	if err := d.getJSON(ctx, props.ProfileURL, accessToken, &p); err != nil {
		return auth.UserInfo{}, err
	}
	id := p.AccountID
	if id == "" {
		id = p.UUID
	}
	if id == "" {
		return auth.UserInfo{}, errors.New("profile has no account id")
	}

	user := auth.UserInfo{ID: id, DisplayName: p.DisplayName, AvatarURL: p.Links.Avatar.Href}

	if props.EmailsURL != "" {
		var emails bitbucketEmails
		if err := d.getJSON(ctx, props.EmailsURL, accessToken, &emails); err != nil {
			logging.Warn("Dancer", "Could not read Bitbucket emails for %s: %v", id, err)
		} else {
			for _, e := range emails.Values {
				if e.IsPrimary || user.Email == "" {
					user.Email = e.Email
				}
				if e.IsPrimary {
					break
				}
			}
		}
	}
	return user, nil
}

func (d *Dancer) fetchResources(ctx context.Context, props strategy.Props, accessToken string) ([]auth.AccessibleResource, error) {
	if props.AccessibleResourcesURL == "" {
		return []auth.AccessibleResource{{
			ID:     props.ResourceHost,
			Name:   props.ResourceHost,
			URL:    "https://" + props.ResourceHost,
			Scopes: props.Scopes,
		}}, nil
	}

	var resources []auth.AccessibleResource
	if err := d.getJSON(ctx, props.AccessibleResourcesURL, accessToken, &resources); err != nil {
		return nil, fmt.Errorf("failed to fetch accessible resources from %s: %w", props.Provider, err)
	}
	return resources, nil
}
