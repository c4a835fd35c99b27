// Package cli holds the presentation helpers of the atlasauth command line:
// user-facing error types with actionable guidance, connection error
// classification, site status output (go-pretty tables, plain columns,
// JSON and YAML), a spinner for long waits and the shared command flags.
package cli
