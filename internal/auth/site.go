package auth

import "strings"

// SiteInfo is the minimal, user-supplied description of a site. It is the
// input to login flows and is never persisted directly.
type SiteInfo struct {
	Host               string   `json:"host"`
	Product            Product  `json:"product"`
	Protocol           string   `json:"protocol,omitempty"`
	ContextPath        string   `json:"contextPath,omitempty"`
	CustomSSLCertPaths []string `json:"customSSLCertPaths,omitempty"`
	PfxPath            string   `json:"pfxPath,omitempty"`
	PfxPassphrase      string   `json:"pfxPassphrase,omitempty"`
}

// Scheme returns the protocol without a trailing colon, defaulting to https.
func (s SiteInfo) Scheme() string {
	p := strings.TrimSuffix(s.Protocol, ":")
	if p == "" {
		return "https"
	}
	return p
}

// NormalizedContextPath returns the context path with a single leading
// slash and no trailing slash, or "" when unset.
func (s SiteInfo) NormalizedContextPath() string {
	cp := strings.Trim(strings.TrimSpace(s.ContextPath), "/")
	if cp == "" {
		return ""
	}
	return "/" + cp
}

// DetailedSiteInfo is the canonical, persisted site identity. Within one
// product, (ID, UserID) is unique.
type DetailedSiteInfo struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Host        string  `json:"host" yaml:"host"`
	AvatarURL   string  `json:"avatarUrl" yaml:"avatarUrl"`
	BaseAPIURL  string  `json:"baseApiUrl" yaml:"baseApiUrl"`
	BaseLinkURL string  `json:"baseLinkUrl" yaml:"baseLinkUrl"`
	ContextPath string  `json:"contextPath,omitempty" yaml:"contextPath,omitempty"`
	Product     Product `json:"product" yaml:"product"`
	IsCloud     bool    `json:"isCloud" yaml:"isCloud"`

	UserID       string `json:"userId" yaml:"userId"`
	CredentialID string `json:"credentialId" yaml:"credentialId"`

	CustomSSLCertPaths []string `json:"customSSLCertPaths,omitempty" yaml:"customSSLCertPaths,omitempty"`
	PfxPath            string   `json:"pfxPath,omitempty" yaml:"pfxPath,omitempty"`
	PfxPassphrase      string   `json:"pfxPassphrase,omitempty" yaml:"pfxPassphrase,omitempty"`

	// Jira only.
	HasResolutionField bool `json:"hasResolutionField,omitempty" yaml:"hasResolutionField,omitempty"`
}

// SameIdentity reports whether both records describe the same (id, userId) pair.
func (d DetailedSiteInfo) SameIdentity(other DetailedSiteInfo) bool {
	return d.ID == other.ID && d.UserID == other.UserID
}

// AsSiteInfo returns the minimal descriptor for this site.
func (d DetailedSiteInfo) AsSiteInfo() SiteInfo {
	return SiteInfo{
		Host:               d.Host,
		Product:            d.Product,
		ContextPath:        d.ContextPath,
		CustomSSLCertPaths: d.CustomSSLCertPaths,
		PfxPath:            d.PfxPath,
		PfxPassphrase:      d.PfxPassphrase,
	}
}

// AccessibleResource is one tenant an OAuth grant gives access to.
type AccessibleResource struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	AvatarURL string   `json:"avatarUrl"`
	Scopes    []string `json:"scopes"`
}

// OAuthResponse is the normalized result of a completed dance. Times are
// unix milliseconds.
type OAuthResponse struct {
	Access              string
	Refresh             string
	IssuedAt            int64
	ExpirationDate      int64
	ReceivedAt          int64
	User                UserInfo
	AccessibleResources []AccessibleResource
}
