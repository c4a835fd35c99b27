package authenticator

import (
	"context"
	"fmt"

	"atlasauth/internal/auth"
	"atlasauth/internal/strategy"
)

// BitbucketAuthenticator builds Bitbucket cloud sites.
type BitbucketAuthenticator struct {
	catalog PropsSource
}

// NewBitbucketAuthenticator creates a Bitbucket authenticator.
func NewBitbucketAuthenticator(catalog PropsSource) *BitbucketAuthenticator {
	return &BitbucketAuthenticator{catalog: catalog}
}

// GetOAuthSiteDetails implements Authenticator.
func (a *BitbucketAuthenticator) GetOAuthSiteDetails(ctx context.Context, provider strategy.OAuthProvider, userID, accessToken string, resources []auth.AccessibleResource) ([]auth.DetailedSiteInfo, error) {
	props, err := a.catalog.Props(provider)
	if err != nil {
		return nil, err
	}

	return buildAll(ctx, provider, resources, func(_ context.Context, resource auth.AccessibleResource) (auth.DetailedSiteInfo, error) {
		site, err := baseSite(auth.ProductBitbucket, userID, resource)
		if err != nil {
			return site, err
		}
		site.BaseAPIURL = fmt.Sprintf("https://%s/2.0", props.APIHost)
		return site, nil
	})
}
