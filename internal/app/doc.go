// Package app is the composition root of atlasauth.
//
// It loads the configuration, initializes logging and builds every
// component of the login core in dependency order:
//
//  1. Site state store (kvstore: file, badger or memory)
//  2. Secret store (credentials: file, redis or memory, optionally sealed)
//  3. Credential manager and site registry, with the registry subscribed
//     to credential removals
//  4. HTTP transport factory and the OAuth strategy catalog
//  5. OAuth dancer with a remote flow store in the site state store
//  6. Login manager with git token discovery
//
// Observer wiring happens here and nowhere else, so the components do not
// reference each other through globals.
//
// Example usage:
//
//	cfg := app.NewConfig(false, "")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return err
//	}
//	defer application.Close()
//	services := application.Services()
//	err = services.Login.UserInitiatedOAuthLogin(ctx, site, "", login.LoginOptions{})
package app
