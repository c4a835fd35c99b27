// Package sites is the registry of known site identities per product.
//
// Each product's sites are stored under "<product>.sites" in a kvstore.Store
// and deduplicated by (id, userId). Removing a site cascades into the
// credential store; when the credential store reports a removed credential,
// HandleCredentialChange drops every site that used it.
package sites
