package authenticator

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/sync/errgroup"

	"atlasauth/internal/auth"
	"atlasauth/internal/credentials"
	"atlasauth/internal/strategy"
	"atlasauth/pkg/logging"
)

// Authenticator resolves the sites an OAuth grant gives access to.
type Authenticator interface {
	// GetOAuthSiteDetails returns one site per resource, in input order.
	GetOAuthSiteDetails(ctx context.Context, provider strategy.OAuthProvider, userID, accessToken string, resources []auth.AccessibleResource) ([]auth.DetailedSiteInfo, error)
}

// PropsSource is the subset of the strategy catalog the authenticators use.
type PropsSource interface {
	Props(provider strategy.OAuthProvider) (strategy.Props, error)
}

// ForProduct returns the authenticator variant for product.
func ForProduct(product auth.Product, catalog PropsSource, fields FieldsFetcher) (Authenticator, error) {
	switch product.Key {
	case auth.ProductJira.Key:
		return NewJiraAuthenticator(catalog, fields), nil
	case auth.ProductBitbucket.Key:
		return NewBitbucketAuthenticator(catalog), nil
	default:
		return nil, fmt.Errorf("no authenticator for product %q", product.Key)
	}
}

// siteBuilder builds the site for one resource.
type siteBuilder func(ctx context.Context, resource auth.AccessibleResource) (auth.DetailedSiteInfo, error)

// buildAll runs build for every resource concurrently. The first error
// cancels the remaining builds and is returned.
func buildAll(ctx context.Context, provider strategy.OAuthProvider, resources []auth.AccessibleResource, build siteBuilder) ([]auth.DetailedSiteInfo, error) {
	sites := make([]auth.DetailedSiteInfo, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	for i, resource := range resources {
		g.Go(func() error {
			site, err := build(gctx, resource)
			if err != nil {
				logging.Error("Authenticator", err, "Failed to build %s site for resource %s", provider, resource.ID)
				return fmt.Errorf("resource %s: %w", resource.ID, err)
			}
			sites[i] = site
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sites, nil
}

// baseSite fills the fields shared by every product from resource.
func baseSite(product auth.Product, userID string, resource auth.AccessibleResource) (auth.DetailedSiteInfo, error) {
	u, err := url.Parse(resource.URL)
	if err != nil || u.Host == "" {
		return auth.DetailedSiteInfo{}, fmt.Errorf("invalid resource url %q", resource.URL)
	}

	return auth.DetailedSiteInfo{
		ID:           resource.ID,
		Name:         resource.Name,
		Host:         u.Host,
		AvatarURL:    resource.AvatarURL,
		BaseLinkURL:  resource.URL,
		Product:      product,
		IsCloud:      true,
		UserID:       userID,
		CredentialID: credentials.GenerateCredentialID(product.Key, userID),
	}, nil
}
