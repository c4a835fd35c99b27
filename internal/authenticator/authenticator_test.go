package authenticator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlasauth/internal/auth"
	"atlasauth/internal/credentials"
	"atlasauth/internal/jira"
	"atlasauth/internal/strategy"
	"atlasauth/internal/transport"
)

type fakeFields struct {
	mu     sync.Mutex
	fields []jira.Field
	fail   map[string]error
	seen   []auth.DetailedSiteInfo
	delay  time.Duration
}

func (f *fakeFields) GetFields(ctx context.Context, site auth.DetailedSiteInfo, _ string) ([]jira.Field, error) {
	f.mu.Lock()
	f.seen = append(f.seen, site)
	err := f.fail[site.ID]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.fields, nil
}

func testCatalog() *strategy.Catalog {
	return strategy.NewCatalogFromProps(map[strategy.OAuthProvider]strategy.Props{
		strategy.JiraCloud:        {Product: auth.ProductJira, APIHost: "api.atlassian.com", ClientID: "id"},
		strategy.JiraCloudStaging: {Product: auth.ProductJira, APIHost: "api.stg.atlassian.com", ClientID: "id"},
		strategy.BitbucketCloud:   {Product: auth.ProductBitbucket, APIHost: "api.bitbucket.org", ResourceHost: "bitbucket.org", ClientID: "id"},
	})
}

var resource1 = auth.AccessibleResource{
	ID:        "resource1",
	Name:      "Resource 1",
	URL:       "https://resource1.atlassian.net",
	AvatarURL: "https://resource1.atlassian.net/avatar.png",
	Scopes:    []string{},
}

func TestJiraAuthenticator_WithResolutionField(t *testing.T) {
	fields := &fakeFields{fields: []jira.Field{{ID: "summary"}, {ID: "resolution"}}}
	a := NewJiraAuthenticator(testCatalog(), fields)

	sites, err := a.GetOAuthSiteDetails(context.Background(), strategy.JiraCloud, "user123", "token", []auth.AccessibleResource{resource1})
	require.NoError(t, err)
	require.Len(t, sites, 1)

	site := sites[0]
	assert.Equal(t, "https://api.atlassian.com/ex/jira/resource1/rest", site.BaseAPIURL)
	assert.Equal(t, "resource1.atlassian.net", site.Host)
	assert.Equal(t, "https://resource1.atlassian.net", site.BaseLinkURL)
	assert.Equal(t, "resource1", site.ID)
	assert.Equal(t, "Resource 1", site.Name)
	assert.Equal(t, "https://resource1.atlassian.net/avatar.png", site.AvatarURL)
	assert.Equal(t, "user123", site.UserID)
	assert.Equal(t, auth.ProductJira, site.Product)
	assert.True(t, site.IsCloud)
	assert.True(t, site.HasResolutionField)
	assert.Equal(t, credentials.GenerateCredentialID("jira", "user123"), site.CredentialID)

	// The enrichment call sees the partially built site.
	require.Len(t, fields.seen, 1)
	assert.Equal(t, site.BaseAPIURL, fields.seen[0].BaseAPIURL)
}

func TestJiraAuthenticator_WithoutResolutionField(t *testing.T) {
	fields := &fakeFields{fields: []jira.Field{{ID: "summary"}}}
	a := NewJiraAuthenticator(testCatalog(), fields)

	sites, err := a.GetOAuthSiteDetails(context.Background(), strategy.JiraCloud, "user123", "token", []auth.AccessibleResource{resource1})
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.False(t, sites[0].HasResolutionField)
}

func TestJiraAuthenticator_StagingHost(t *testing.T) {
	a := NewJiraAuthenticator(testCatalog(), &fakeFields{})

	sites, err := a.GetOAuthSiteDetails(context.Background(), strategy.JiraCloudStaging, "u", "token", []auth.AccessibleResource{{ID: "r", URL: "https://r.jira-dev.com"}})
	require.NoError(t, err)
	assert.Equal(t, "https://api.stg.atlassian.com/ex/jira/r/rest", sites[0].BaseAPIURL)
}

func TestJiraAuthenticator_OnePerResourceInOrder(t *testing.T) {
	resources := []auth.AccessibleResource{
		{ID: "a", URL: "https://a.atlassian.net"},
		{ID: "b", URL: "https://b.atlassian.net"},
		{ID: "c", URL: "https://c.atlassian.net"},
	}
	a := NewJiraAuthenticator(testCatalog(), &fakeFields{})

	sites, err := a.GetOAuthSiteDetails(context.Background(), strategy.JiraCloud, "user123", "token", resources)
	require.NoError(t, err)
	require.Len(t, sites, 3)

	want := credentials.GenerateCredentialID("jira", "user123")
	for i, r := range resources {
		assert.Equal(t, r.ID, sites[i].ID)
		assert.Equal(t, "https://api.atlassian.com/ex/jira/"+r.ID+"/rest", sites[i].BaseAPIURL)
		assert.Equal(t, want, sites[i].CredentialID)
	}
}

func TestJiraAuthenticator_AllOrNothing(t *testing.T) {
	fields := &fakeFields{
		fail:  map[string]error{"b": errors.New("403 forbidden")},
		delay: 10 * time.Millisecond,
	}
	a := NewJiraAuthenticator(testCatalog(), fields)

	sites, err := a.GetOAuthSiteDetails(context.Background(), strategy.JiraCloud, "user123", "token", []auth.AccessibleResource{
		{ID: "a", URL: "https://a.atlassian.net"},
		{ID: "b", URL: "https://b.atlassian.net"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403 forbidden")
	assert.Nil(t, sites)
}

func TestJiraAuthenticator_InvalidResourceURL(t *testing.T) {
	a := NewJiraAuthenticator(testCatalog(), &fakeFields{})

	_, err := a.GetOAuthSiteDetails(context.Background(), strategy.JiraCloud, "u", "token", []auth.AccessibleResource{{ID: "x", URL: "not a url"}})
	assert.Error(t, err)
}

func TestJiraAuthenticator_UnknownProvider(t *testing.T) {
	a := NewJiraAuthenticator(testCatalog(), &fakeFields{})

	_, err := a.GetOAuthSiteDetails(context.Background(), strategy.OAuthProvider("nope"), "u", "token", []auth.AccessibleResource{resource1})
	assert.Error(t, err)
}

func TestBitbucketAuthenticator(t *testing.T) {
	a := NewBitbucketAuthenticator(testCatalog())

	sites, err := a.GetOAuthSiteDetails(context.Background(), strategy.BitbucketCloud, "bb-user", "token", []auth.AccessibleResource{
		{ID: "bitbucket.org", Name: "bitbucket.org", URL: "https://bitbucket.org"},
	})
	require.NoError(t, err)
	require.Len(t, sites, 1)

	site := sites[0]
	assert.Equal(t, "bitbucket.org", site.ID)
	assert.Equal(t, "bitbucket.org", site.Host)
	assert.Equal(t, "https://api.bitbucket.org/2.0", site.BaseAPIURL)
	assert.Equal(t, auth.ProductBitbucket, site.Product)
	assert.True(t, site.IsCloud)
	assert.False(t, site.HasResolutionField)
	assert.Equal(t, credentials.GenerateCredentialID("bitbucket", "bb-user"), site.CredentialID)
}

func TestForProduct(t *testing.T) {
	a, err := ForProduct(auth.ProductJira, testCatalog(), &fakeFields{})
	require.NoError(t, err)
	assert.IsType(t, &JiraAuthenticator{}, a)

	a, err = ForProduct(auth.ProductBitbucket, testCatalog(), nil)
	require.NoError(t, err)
	assert.IsType(t, &BitbucketAuthenticator{}, a)

	_, err = ForProduct(auth.Product{Key: "confluence"}, testCatalog(), nil)
	assert.Error(t, err)
}

func TestJiraFieldsFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/field", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"resolution","name":"Resolution","custom":false}]`))
	}))
	defer server.Close()

	fetcher := NewJiraFieldsFetcher(transport.NewFactory(5 * time.Second))
	fields, err := fetcher.GetFields(context.Background(), auth.DetailedSiteInfo{
		Host:       "resource1.atlassian.net",
		BaseAPIURL: server.URL + "/rest",
		Product:    auth.ProductJira,
	}, "token")
	require.NoError(t, err)
	assert.True(t, jira.HasField(fields, "resolution"))
}
