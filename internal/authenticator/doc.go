// Package authenticator turns the accessible resources of an OAuth grant
// into persisted site identities.
//
// Each product has its own variant. Jira builds the cloud gateway URL
// (https://{api-host}/ex/jira/{resourceId}/rest) and probes the site's
// field catalog to record whether a resolution field exists. Bitbucket
// needs no enrichment.
//
// Resources are processed concurrently. A failure for any resource fails
// the whole call, so a login either yields every site or none.
package authenticator
