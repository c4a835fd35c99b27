package authenticator

import (
	"context"
	"fmt"
	"net/http"

	"atlasauth/internal/auth"
	"atlasauth/internal/jira"
	"atlasauth/internal/strategy"
)

// resolutionFieldID is the system field whose presence is recorded on
// Jira sites.
const resolutionFieldID = "resolution"

// FieldsFetcher reads the Jira field catalog of a site.
type FieldsFetcher interface {
	GetFields(ctx context.Context, site auth.DetailedSiteInfo, accessToken string) ([]jira.Field, error)
}

// HTTPClientSource supplies the per-site HTTP client.
type HTTPClientSource interface {
	Client(site auth.SiteInfo) (*http.Client, error)
}

// JiraFieldsFetcher is the FieldsFetcher backed by the Jira REST API.
type JiraFieldsFetcher struct {
	clients HTTPClientSource
}

// NewJiraFieldsFetcher creates a fetcher using clients for transport.
func NewJiraFieldsFetcher(clients HTTPClientSource) *JiraFieldsFetcher {
	return &JiraFieldsFetcher{clients: clients}
}

// GetFields implements FieldsFetcher.
func (f *JiraFieldsFetcher) GetFields(ctx context.Context, site auth.DetailedSiteInfo, accessToken string) ([]jira.Field, error) {
	httpClient, err := f.clients.Client(site.AsSiteInfo())
	if err != nil {
		return nil, err
	}
	return jira.NewClient(httpClient, site, accessToken).GetFields(ctx)
}

// JiraAuthenticator builds Jira cloud sites.
type JiraAuthenticator struct {
	catalog PropsSource
	fields  FieldsFetcher
}

// NewJiraAuthenticator creates a Jira authenticator.
func NewJiraAuthenticator(catalog PropsSource, fields FieldsFetcher) *JiraAuthenticator {
	return &JiraAuthenticator{catalog: catalog, fields: fields}
}

// GetOAuthSiteDetails implements Authenticator.
func (a *JiraAuthenticator) GetOAuthSiteDetails(ctx context.Context, provider strategy.OAuthProvider, userID, accessToken string, resources []auth.AccessibleResource) ([]auth.DetailedSiteInfo, error) {
	props, err := a.catalog.Props(provider)
	if err != nil {
		return nil, err
	}

	return buildAll(ctx, provider, resources, func(ctx context.Context, resource auth.AccessibleResource) (auth.DetailedSiteInfo, error) {
		site, err := baseSite(auth.ProductJira, userID, resource)
		if err != nil {
			return site, err
		}
		site.BaseAPIURL = fmt.Sprintf("https://%s/ex/jira/%s/rest", props.APIHost, resource.ID)

		fields, err := a.fields.GetFields(ctx, site, accessToken)
		if err != nil {
			return site, fmt.Errorf("failed to read field catalog: %w", err)
		}
		site.HasResolutionField = jira.HasField(fields, resolutionFieldID)
		return site, nil
	})
}
