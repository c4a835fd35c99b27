// Package logging provides the subsystem-tagged structured logger used
// throughout atlasauth.
//
// It is a thin layer over log/slog: every record carries a "subsystem"
// attribute and, for errors, an "error" attribute. Messages use printf-style
// formatting.
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Sites", "Added %d site(s) for %s", n, product.Name)
//	logging.Error("Login", err, "Error authenticating with %s", provider)
//
// Audit emits security audit records for credential lifecycle events. Secret
// material (tokens, passwords, passphrases) is never passed to the logger.
package logging
