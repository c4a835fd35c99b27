package strategy

import (
	"strings"

	"atlasauth/internal/auth"
)

// OAuthProvider names one OAuth client configuration.
type OAuthProvider string

const (
	BitbucketCloud        OAuthProvider = "bbcloud"
	BitbucketCloudStaging OAuthProvider = "bbcloudstaging"
	JiraCloud             OAuthProvider = "jiracloud"
	JiraCloudStaging      OAuthProvider = "jiracloudstaging"
	JiraCloudRemote       OAuthProvider = "jiracloudremote"
)

// Providers lists every provider.
var Providers = []OAuthProvider{BitbucketCloud, BitbucketCloudStaging, JiraCloud, JiraCloudStaging, JiraCloudRemote}

// ParseProvider returns the provider with the given name.
func ParseProvider(name string) (OAuthProvider, bool) {
	for _, p := range Providers {
		if string(p) == strings.ToLower(name) {
			return p, true
		}
	}
	return "", false
}

// hostSuffixes maps cloud host suffixes to providers per product. Order
// matters: the first matching suffix wins.
var hostSuffixes = []struct {
	product  string
	suffix   string
	provider OAuthProvider
}{
	{auth.ProductJira.Key, "atlassian.net", JiraCloud},
	{auth.ProductJira.Key, "jira.com", JiraCloud},
	{auth.ProductJira.Key, "jira-dev.com", JiraCloudStaging},
	{auth.ProductBitbucket.Key, "bitbucket.org", BitbucketCloud},
	{auth.ProductBitbucket.Key, "bb-inf.net", BitbucketCloudStaging},
}

// ProviderForSite resolves the OAuth provider for a site from its product
// and host. Server and Data Center hosts have no provider, and neither
// has a host that belongs to another product.
func ProviderForSite(site auth.SiteInfo) (OAuthProvider, bool) {
	hostname := strings.ToLower(strings.Split(site.Host, ":")[0])
	for _, hs := range hostSuffixes {
		if hs.product != site.Product.Key {
			continue
		}
		if hostname == hs.suffix || strings.HasSuffix(hostname, "."+hs.suffix) {
			return hs.provider, true
		}
	}
	return "", false
}
