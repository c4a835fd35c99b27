package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"atlasauth/internal/auth"
)

func envWith(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestNewCatalog_MergesClients(t *testing.T) {
	c := NewCatalog(map[OAuthProvider]ClientCredentials{
		JiraCloud: {ClientID: "jira-id", ClientSecret: "jira-secret"},
	}, envWith(nil))

	jira, err := c.Props(JiraCloud)
	require.NoError(t, err)
	assert.True(t, jira.Available())
	assert.Equal(t, "jira-id", jira.ClientID)
	assert.Equal(t, auth.ProductJira, jira.Product)
	assert.Equal(t, "consent", jira.AdditionalAuthParams["prompt"])
	assert.Equal(t, "api.atlassian.com", jira.AdditionalAuthParams["audience"])

	bb, err := c.Props(BitbucketCloud)
	require.NoError(t, err)
	assert.False(t, bb.Available())
	assert.Equal(t, oauth2.AuthStyleInHeader, bb.AuthStyle)
}

func TestNewCatalog_RemoteFromEnv(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		available bool
	}{
		{"valid", `{"clientId":"rid","clientSecret":"rsecret","callbackUrl":"https://remote.example.com/cb"}`, true},
		{"missing", "", false},
		{"malformed", `{"clientId":`, false},
		{"incomplete", `{"clientId":"rid"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCatalog(nil, envWith(map[string]string{RemoteAuthEnv: tt.raw}))
			remote, err := c.Props(JiraCloudRemote)
			require.NoError(t, err)
			assert.Equal(t, tt.available, remote.Available())
			if tt.available {
				assert.Equal(t, "https://remote.example.com/cb", remote.CallbackURL)
			} else {
				assert.Empty(t, remote.ClientSecret)
				assert.Empty(t, remote.CallbackURL)
			}
		})
	}
}

func TestCatalog_UnknownProvider(t *testing.T) {
	_, err := NewCatalog(nil, nil).Props("gitlab")
	assert.Error(t, err)
}

func TestProps_CallbackAddress(t *testing.T) {
	p, err := NewCatalog(nil, nil).Props(JiraCloud)
	require.NoError(t, err)

	addr, path, err := p.CallbackAddress()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:31415", addr)
	assert.Equal(t, "/jira", path)
}

func TestProviderForSite(t *testing.T) {
	jira, bitbucket := auth.ProductJira, auth.ProductBitbucket
	tests := []struct {
		host     string
		product  auth.Product
		provider OAuthProvider
		found    bool
	}{
		{"resource1.atlassian.net", jira, JiraCloud, true},
		{"legacy.jira.com", jira, JiraCloud, true},
		{"dev.jira-dev.com", jira, JiraCloudStaging, true},
		{"bitbucket.org", bitbucket, BitbucketCloud, true},
		{"staging.bb-inf.net", bitbucket, BitbucketCloudStaging, true},
		{"resource1.atlassian.net:443", jira, JiraCloud, true},
		{"unknown.host.it", jira, "", false},
		{"notatlassian.net", jira, "", false},
		{"bitbucket.org", jira, "", false},
		{"acme.atlassian.net", bitbucket, "", false},
		{"staging.bb-inf.net", jira, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.product.Key+"/"+tt.host, func(t *testing.T) {
			p, ok := ProviderForSite(auth.SiteInfo{Host: tt.host, Product: tt.product})
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.provider, p)
		})
	}
}
