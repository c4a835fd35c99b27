package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"atlasauth/internal/auth"
	"atlasauth/internal/strategy"
)

func TestEnvironment_CloudSite(t *testing.T) {
	tests := []struct {
		env      Environment
		product  auth.Product
		host     string
		provider strategy.OAuthProvider
	}{
		{EnvironmentProduction, auth.ProductJira, "atlassian.net", strategy.JiraCloud},
		{EnvironmentStaging, auth.ProductJira, "jira-dev.com", strategy.JiraCloudStaging},
		{EnvironmentProduction, auth.ProductBitbucket, "bitbucket.org", strategy.BitbucketCloud},
		{EnvironmentStaging, auth.ProductBitbucket, "bb-inf.net", strategy.BitbucketCloudStaging},
	}
	for _, tt := range tests {
		t.Run(string(tt.env)+"/"+tt.product.Key, func(t *testing.T) {
			site := tt.env.CloudSite(tt.product)
			assert.Equal(t, tt.host, site.Host)
			assert.Equal(t, tt.product, site.Product)

			provider, ok := strategy.ProviderForSite(site)
			assert.True(t, ok)
			assert.Equal(t, tt.provider, provider)
		})
	}
}

func TestConfig_ClientCredentials(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.OAuth.Clients = map[string]ClientConfig{
		"jiracloud": {ClientID: "id", ClientSecret: "secret"},
	}

	creds := cfg.ClientCredentials()
	assert.Equal(t, strategy.ClientCredentials{ClientID: "id", ClientSecret: "secret"}, creds[strategy.JiraCloud])
	assert.Len(t, creds, 1)
}
