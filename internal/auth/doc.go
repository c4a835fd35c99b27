// Package auth defines the identity and credential data model shared by
// every other package: products, site descriptors, the persisted
// DetailedSiteInfo record, the AuthInfo credential variants and the
// normalized OAuth response.
package auth
