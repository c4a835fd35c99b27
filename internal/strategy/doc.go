// Package strategy is the static catalog of OAuth provider configurations
// (endpoints, scopes, callback URLs and client credentials) for Jira and
// Bitbucket cloud, their staging environments and the remote Jira flow.
//
// Client ids and secrets come from configuration, not source. A provider
// whose client id is empty is unavailable.
package strategy
