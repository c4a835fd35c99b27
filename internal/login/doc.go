// Package login orchestrates user logins for Jira and Bitbucket.
//
// The Manager ties together the OAuth dance, the product authenticators,
// the credential store and the site registry. Every login attempt runs a
// small state machine:
//
//	OAuth:        Idle → DancingOAuth → ResourceEnrichment → Persisting → Done
//	Server / PAT: Idle → FetchingUserProfile → Persisting → Done
//
// Any step may move the attempt to Failed. Attempts are not persisted;
// LastAttempt exposes the most recent one for status output.
//
// Server and Data Center logins authenticate with Basic credentials or a
// personal access token against the product's "myself" endpoint. Hosts
// ending in .atlassian.net are switched to cloud semantics after the
// profile is read, using the public tenant_info endpoint for the site id.
//
// The Bitbucket git-token path scrapes an x-token-auth token from the git
// configuration and keeps it validated with a cron job that runs every
// two hours until Logout or Close.
package login
