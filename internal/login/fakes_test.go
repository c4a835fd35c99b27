package login

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"atlasauth/internal/auth"
	"atlasauth/internal/authenticator"
	"atlasauth/internal/strategy"
)

type fakeDancer struct {
	mu            sync.Mutex
	resp          *auth.OAuthResponse
	err           error
	danceCalls    []strategy.OAuthProvider
	finishCalls   []strategy.OAuthProvider
	finishSites   []auth.SiteInfo
	resolveTokens []string
}

func (d *fakeDancer) DoDance(_ context.Context, provider strategy.OAuthProvider, _ auth.SiteInfo, _ string) (*auth.OAuthResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.danceCalls = append(d.danceCalls, provider)
	return d.resp, d.err
}

func (d *fakeDancer) DoInitRemoteDance(_ context.Context, state string) (string, string, error) {
	if state == "" {
		state = "generated"
	}
	return "https://auth.example.com/authorize?state=" + state, state, nil
}

func (d *fakeDancer) DoFinishRemoteDance(_ context.Context, provider strategy.OAuthProvider, site auth.SiteInfo, _, _ string) (*auth.OAuthResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finishCalls = append(d.finishCalls, provider)
	d.finishSites = append(d.finishSites, site)
	return d.resp, d.err
}

func (d *fakeDancer) ResolveToken(_ context.Context, _ strategy.OAuthProvider, token string) (*auth.OAuthResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolveTokens = append(d.resolveTokens, token)
	return d.resp, d.err
}

type fakeCreds struct {
	mu      sync.Mutex
	saved   map[string]auth.AuthInfo
	states  map[string]auth.AuthInfoState
	saveErr error
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{saved: map[string]auth.AuthInfo{}, states: map[string]auth.AuthInfoState{}}
}

func (c *fakeCreds) Save(_ context.Context, site auth.DetailedSiteInfo, info auth.AuthInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	c.saved[site.ID] = info
	return nil
}

func (c *fakeCreds) UpdateState(_ context.Context, site auth.DetailedSiteInfo, state auth.AuthInfoState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[site.ID] = state
	return nil
}

type fakeSites struct {
	mu       sync.Mutex
	added    []auth.DetailedSiteInfo
	addCalls int
	upserted []auth.DetailedSiteInfo
	removed  []auth.DetailedSiteInfo
	byHost   map[string]auth.DetailedSiteInfo
}

func newFakeSites() *fakeSites {
	return &fakeSites{byHost: map[string]auth.DetailedSiteInfo{}}
}

func (s *fakeSites) AddSites(sites []auth.DetailedSiteInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++
	s.added = append(s.added, sites...)
	for _, site := range sites {
		s.byHost[site.Host] = site
	}
	return nil
}

func (s *fakeSites) AddOrUpdateSite(site auth.DetailedSiteInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, site)
	return nil
}

func (s *fakeSites) RemoveSite(_ context.Context, site auth.DetailedSiteInfo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, site)
	return true, nil
}

func (s *fakeSites) SiteForHostname(_ auth.Product, hostname string) (auth.DetailedSiteInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.byHost[hostname]
	return site, ok
}

type fakeAuthenticator struct {
	product auth.Product
	err     error
}

func (a *fakeAuthenticator) GetOAuthSiteDetails(_ context.Context, _ strategy.OAuthProvider, userID, _ string, resources []auth.AccessibleResource) ([]auth.DetailedSiteInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	var sites []auth.DetailedSiteInfo
	for _, r := range resources {
		sites = append(sites, auth.DetailedSiteInfo{
			ID:           r.ID,
			Host:         r.ID,
			Product:      a.product,
			IsCloud:      true,
			UserID:       userID,
			CredentialID: a.product.Key + "-" + userID,
		})
	}
	return sites, nil
}

func fakeAuthenticators(err error) AuthenticatorFactory {
	return func(product auth.Product) (authenticator.Authenticator, error) {
		return &fakeAuthenticator{product: product, err: err}, nil
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (n *recordingNotifier) ShowInfo(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) ShowError(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

type recordingAnalytics struct {
	mu    sync.Mutex
	sites []auth.DetailedSiteInfo
}

func (a *recordingAnalytics) Authenticated(site auth.DetailedSiteInfo, _ bool, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sites = append(a.sites, site)
}

type staticTokens struct {
	token string
}

func (s staticTokens) Discover(context.Context) (string, bool) {
	return s.token, s.token != ""
}

// dialClients routes every request to addr regardless of its host, so
// tests can use real-looking hostnames.
type dialClients struct {
	addr string
}

func (d dialClients) Client(auth.SiteInfo) (*http.Client, error) {
	if d.addr == "" {
		return nil, errors.New("no test server")
	}
	return &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, network, d.addr)
		},
	}}, nil
}

func testCatalog() *strategy.Catalog {
	return strategy.NewCatalogFromProps(map[strategy.OAuthProvider]strategy.Props{
		strategy.JiraCloud:       {Product: auth.ProductJira, APIHost: "api.atlassian.com", ClientID: "id"},
		strategy.JiraCloudRemote: {Product: auth.ProductJira, APIHost: "api.atlassian.com", ClientID: "id"},
		strategy.BitbucketCloud:  {Product: auth.ProductBitbucket, APIHost: "api.bitbucket.org", ResourceHost: "bitbucket.org", ClientID: "id"},
	})
}

type testEnv struct {
	manager   *Manager
	dancer    *fakeDancer
	creds     *fakeCreds
	sites     *fakeSites
	notifier  *recordingNotifier
	analytics *recordingAnalytics
}

func newTestEnv(cfg Config) *testEnv {
	env := &testEnv{
		dancer:    &fakeDancer{},
		creds:     newFakeCreds(),
		sites:     newFakeSites(),
		notifier:  &recordingNotifier{},
		analytics: &recordingAnalytics{},
	}
	cfg.Catalog = testCatalog()
	cfg.Dancer = env.dancer
	cfg.Credentials = env.creds
	cfg.Sites = env.sites
	cfg.Notifier = env.notifier
	cfg.Analytics = env.analytics
	if cfg.Authenticators == nil {
		cfg.Authenticators = fakeAuthenticators(nil)
	}
	env.manager = NewManager(cfg)
	return env
}

func oauthResponse(userID string, resourceIDs ...string) *auth.OAuthResponse {
	resp := &auth.OAuthResponse{
		Access:     "access",
		Refresh:    "refresh",
		IssuedAt:   1000,
		ReceivedAt: 1000,
		User:       auth.UserInfo{ID: userID},
	}
	for _, id := range resourceIDs {
		resp.AccessibleResources = append(resp.AccessibleResources, auth.AccessibleResource{ID: id, URL: "https://" + id})
	}
	return resp
}
