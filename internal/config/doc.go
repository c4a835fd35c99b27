// Package config loads the atlasauth configuration.
//
// The configuration lives in a single YAML file, config.yaml, inside the
// configuration directory (default ~/.config/atlasauth). A missing file
// yields the defaults; a present file is merged over them and validated.
//
// Example:
//
//	environment: production
//	storage:
//	  dir: ~/.config/atlasauth
//	  sites: file          # file | badger | memory
//	  secrets: file        # file | redis | memory
//	  passphrase: ""       # seals secrets at rest when set
//	  redis:
//	    addr: localhost:6379
//	    db: 0
//	    prefix: "atlasauth:secret:"
//	oauth:
//	  callbackTimeout: 5m
//	  clients:
//	    jiracloud:
//	      clientId: ...
//	      clientSecret: ...
//	http:
//	  timeout: 30s
//	log:
//	  level: info
//
// Validation uses go-playground/validator struct tags; failures are
// reported as ValidationErrors keyed by the YAML path of the field.
package config
