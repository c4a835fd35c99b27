package login

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"atlasauth/internal/auth"
	"atlasauth/internal/credentials"
	"atlasauth/pkg/logging"
)

const (
	// cloudHostSuffix marks hosts that are switched to cloud semantics
	// after the profile is read.
	cloudHostSuffix = ".atlassian.net"

	usernameHeader = "X-Ausername"
)

// slugUnsafe matches the characters Bitbucket replaces in user slugs.
var slugUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_.@-]`)

type serverProfile struct {
	Name         string            `json:"name"`
	Slug         string            `json:"slug"`
	AccountID    string            `json:"accountId"`
	DisplayName  string            `json:"displayName"`
	EmailAddress string            `json:"emailAddress"`
	AvatarURLs   map[string]string `json:"avatarUrls"`
	AvatarURL    string            `json:"avatarUrl"`
}

type tenantInfo struct {
	CloudID string `json:"cloudId"`
}

// UserInitiatedServerLogin authenticates site with Basic credentials or a
// personal access token and saves it. Failures are returned as
// *auth.LoginError.
func (m *Manager) UserInitiatedServerLogin(ctx context.Context, site auth.SiteInfo, info auth.AuthInfo, opts LoginOptions) (auth.DetailedSiteInfo, error) {
	details, err := m.serverLogin(ctx, site, info)
	if err != nil {
		return auth.DetailedSiteInfo{}, err
	}
	m.analytics.Authenticated(details, opts.IsOnboarding, opts.Source)
	return details, nil
}

// UpdateInfo replaces the credentials of an existing server site.
func (m *Manager) UpdateInfo(ctx context.Context, site auth.SiteInfo, info auth.AuthInfo) (auth.DetailedSiteInfo, error) {
	return m.serverLogin(ctx, site, info)
}

func (m *Manager) serverLogin(ctx context.Context, site auth.SiteInfo, info auth.AuthInfo) (auth.DetailedSiteInfo, error) {
	if !auth.IsBasicAuthInfo(info) && !auth.IsPATAuthInfo(info) {
		err := auth.NewLoginError(site.Product, fmt.Errorf("unsupported credential type %q", auth.Kind(info)))
		logging.Error("Login", err, "Rejected server login for %s", site.Host)
		return auth.DetailedSiteInfo{}, err
	}

	details, err := m.SaveDetailsForSite(ctx, site, info)
	if err != nil {
		loginErr := auth.NewLoginError(site.Product, err)
		logging.Error("Login", err, "Server login to %s failed", site.Host)
		m.notifier.ShowError(loginErr.Error())
		return auth.DetailedSiteInfo{}, loginErr
	}
	return details, nil
}

// SaveDetailsForSite reads the authenticated user of site, builds its
// persisted identity and writes the credential and the site.
func (m *Manager) SaveDetailsForSite(ctx context.Context, site auth.SiteInfo, info auth.AuthInfo) (auth.DetailedSiteInfo, error) {
	a := m.startAttempt(AttemptServer, site.Host)
	a.transition(StateFetchingUserProfile, nil)

	authHeader, err := authorizationHeader(info)
	if err != nil {
		return auth.DetailedSiteInfo{}, a.fail(err)
	}

	httpClient, err := m.httpClients.Client(site)
	if err != nil {
		return auth.DetailedSiteInfo{}, a.fail(err)
	}

	contextPath := site.NormalizedContextPath()
	baseLinkURL := fmt.Sprintf("%s://%s%s", site.Scheme(), site.Host, contextPath)

	var (
		apiURL     string
		profileURL string
		avatarURL  string
	)
	switch site.Product.Key {
	case auth.ProductJira.Key:
		apiURL = baseLinkURL + "/rest"
		profileURL = apiURL + "/api/2/myself"
		avatarURL = baseLinkURL + "/images/fav-jcore.png"
	case auth.ProductBitbucket.Key:
		apiURL = baseLinkURL
		slug, err := bitbucketUserSlug(ctx, httpClient, apiURL, authHeader)
		if err != nil {
			return auth.DetailedSiteInfo{}, a.fail(err)
		}
		profileURL = fmt.Sprintf("%s/rest/api/1.0/users/%s?avatarSize=64", apiURL, url.PathEscape(slug))
	default:
		return auth.DetailedSiteInfo{}, a.fail(fmt.Errorf("unsupported product %q", site.Product.Key))
	}

	var profile serverProfile
	if _, err := getJSON(ctx, httpClient, profileURL, authHeader, &profile); err != nil {
		return auth.DetailedSiteInfo{}, a.fail(err)
	}

	userID := profile.Name
	if site.Product.Key == auth.ProductBitbucket.Key {
		userID = profile.Slug
		if profile.AvatarURL != "" {
			avatarURL = absoluteURL(baseLinkURL, profile.AvatarURL)
		}
	} else if u := profile.AvatarURLs["48x48"]; u != "" {
		avatarURL = u
	}
	if userID == "" {
		userID = profile.AccountID
	}
	if userID == "" {
		return auth.DetailedSiteInfo{}, a.fail(errors.New("profile response has no user id"))
	}

	details := auth.DetailedSiteInfo{
		ID:                 site.Host,
		Name:               site.Host,
		Host:               site.Host,
		AvatarURL:          avatarURL,
		BaseAPIURL:         apiURL,
		BaseLinkURL:        baseLinkURL,
		ContextPath:        contextPath,
		Product:            site.Product,
		IsCloud:            false,
		UserID:             userID,
		CredentialID:       credentials.GenerateCredentialID(normalizeLinkURL(baseLinkURL), userID),
		CustomSSLCertPaths: site.CustomSSLCertPaths,
		PfxPath:            site.PfxPath,
		PfxPassphrase:      site.PfxPassphrase,
	}

	if strings.HasSuffix(strings.ToLower(site.Host), cloudHostSuffix) {
		var tenant tenantInfo
		tenantURL := fmt.Sprintf("%s://%s/_edge/tenant_info", site.Scheme(), site.Host)
		if _, err := getJSON(ctx, httpClient, tenantURL, "", &tenant); err != nil {
			return auth.DetailedSiteInfo{}, a.fail(fmt.Errorf("failed to read tenant info: %w", err))
		}
		if tenant.CloudID == "" {
			return auth.DetailedSiteInfo{}, a.fail(errors.New("tenant info has no cloud id"))
		}
		details.ID = tenant.CloudID
		details.IsCloud = true
		if profile.AccountID != "" {
			details.UserID = profile.AccountID
		}
		logging.Debug("Login", "Site %s is cloud tenant %s", site.Host, tenant.CloudID)
	}

	base := info.Base()
	base.State = auth.StateValid
	base.User = auth.UserInfo{
		ID:          details.UserID,
		DisplayName: profile.DisplayName,
		Email:       profile.EmailAddress,
		AvatarURL:   details.AvatarURL,
	}

	a.transition(StatePersisting, nil)
	if err := m.creds.Save(ctx, details, info); err != nil {
		return auth.DetailedSiteInfo{}, a.fail(err)
	}
	if err := m.sites.AddOrUpdateSite(details); err != nil {
		return auth.DetailedSiteInfo{}, a.fail(err)
	}

	a.transition(StateDone, nil)
	logging.Info("Login", "Authenticated %s as %s", site.Host, details.UserID)
	return details, nil
}

func authorizationHeader(info auth.AuthInfo) (string, error) {
	switch v := info.(type) {
	case *auth.BasicAuthInfo:
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(v.Username+":"+v.Password)), nil
	case *auth.PATAuthInfo:
		return "Bearer " + v.Token, nil
	default:
		return "", fmt.Errorf("unsupported credential type %q", auth.Kind(info))
	}
}

// bitbucketUserSlug asks the capabilities endpoint who the credentials
// belong to and turns the answer into a REST user slug.
func bitbucketUserSlug(ctx context.Context, client *http.Client, apiURL, authHeader string) (string, error) {
	header, err := getJSON(ctx, client, apiURL+"/rest/api/latest/build/capabilities", authHeader, nil)
	if err != nil {
		return "", fmt.Errorf("capabilities request failed: %w", err)
	}

	username := header.Get(usernameHeader)
	if username == "" {
		return "", errors.New("unable to determine the authenticated username")
	}
	return SanitizeSlug(username), nil
}

// SanitizeSlug URL-decodes a Bitbucket username and replaces every
// character outside [a-zA-Z0-9_.@-] with an underscore.
func SanitizeSlug(username string) string {
	if decoded, err := url.QueryUnescape(username); err == nil {
		username = decoded
	}
	return slugUnsafe.ReplaceAllString(username, "_")
}

// getJSON issues an authenticated GET and decodes the body into out when
// out is non-nil. It returns the response headers.
func getJSON(ctx context.Context, client *http.Client, url, authHeader string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
		}
	}
	return resp.Header, nil
}

func normalizeLinkURL(u string) string {
	return strings.TrimSuffix(strings.ToLower(u), "/")
}

func absoluteURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(ref, "/")
}
