// Package kvstore persists non-secret application state (the site registry,
// default-site preferences, pending remote OAuth flows).
//
// Three backends implement Store:
//
//   - MemoryStore, for tests and ephemeral runs
//   - FileStore, a single YAML document (state.yaml) that a second process
//     can share; Watch reports its external edits via fsnotify
//   - BadgerStore, an embedded Badger database accessed through badgerhold
package kvstore
