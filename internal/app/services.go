package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"atlasauth/internal/auth"
	"atlasauth/internal/authenticator"
	"atlasauth/internal/config"
	"atlasauth/internal/credentials"
	"atlasauth/internal/dancer"
	"atlasauth/internal/kvstore"
	"atlasauth/internal/login"
	"atlasauth/internal/sites"
	"atlasauth/internal/strategy"
	"atlasauth/internal/transport"
	"atlasauth/pkg/logging"
)

const (
	secretsDirName = "secrets"
	badgerDirName  = "badger"
)

// Services holds the initialized components of the login core.
//
// Initialization order:
//  1. Site state store and secret store
//  2. Credential manager and site registry
//  3. Transport, strategy catalog and dancer
//  4. Login manager
type Services struct {
	Settings config.Config

	// State holds the site registry and pending remote flows.
	State kvstore.Store

	// Credentials stores per-site secrets.
	Credentials *credentials.Manager

	// Sites is the durable list of known sites per product.
	Sites *sites.Registry

	Transport *transport.Factory
	Catalog   *strategy.Catalog
	Dancer    *dancer.Dancer

	// Login runs every login flow.
	Login *login.Manager

	cancel  context.CancelFunc
	closers []func() error
}

// InitializeServices builds every component from cfg.Settings. On error
// the components created so far are closed.
func InitializeServices(cfg *Config) (_ *Services, err error) {
	if cfg.Settings == nil {
		return nil, errors.New("configuration is not loaded")
	}
	settings := *cfg.Settings

	env := cfg.Env
	if env == nil {
		env = os.Getenv
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Services{Settings: settings, cancel: cancel}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// Step 1: stores
	state, err := openStateStore(settings.Storage)
	if err != nil {
		return nil, err
	}
	s.State = state
	s.closers = append(s.closers, state.Close)

	secrets, closeSecrets, err := openSecretStore(settings.Storage)
	if err != nil {
		return nil, err
	}
	if closeSecrets != nil {
		s.closers = append(s.closers, closeSecrets)
	}

	// Step 2: credentials and sites. The registry listens for credential
	// removals; this is the only place the two are connected.
	s.Credentials = credentials.NewManager(secrets)
	s.Sites = sites.NewRegistry(state, s.Credentials)
	unsubscribe := s.Credentials.OnDidChange(s.Sites.HandleCredentialChange)
	s.closers = append(s.closers, func() error {
		unsubscribe()
		return nil
	})

	if fileState, ok := state.(*kvstore.FileStore); ok {
		if err := fileState.Watch(ctx, s.Sites.Reload); err != nil {
			logging.Warn("Bootstrap", "Site changes from other processes will not be picked up: %v", err)
		}
	}

	// Step 3: transport and OAuth
	s.Transport = transport.NewFactory(settings.HTTP.Timeout)
	s.Catalog = strategy.NewCatalog(settings.ClientCredentials(), env)

	dancerOpts := []dancer.Option{dancer.WithCallbackTimeout(settings.OAuth.CallbackTimeout)}
	if cfg.BrowserOpener != nil {
		dancerOpts = append(dancerOpts, dancer.WithBrowserOpener(cfg.BrowserOpener))
	}
	s.Dancer = dancer.New(s.Catalog, s.Transport.Default(), dancer.NewRemoteFlowStore(state, 0), dancerOpts...)

	// Step 4: login
	fields := authenticator.NewJiraFieldsFetcher(s.Transport)
	s.Login = login.NewManager(login.Config{
		Catalog: s.Catalog,
		Dancer:  s.Dancer,
		Authenticators: func(product auth.Product) (authenticator.Authenticator, error) {
			return authenticator.ForProduct(product, s.Catalog, fields)
		},
		Credentials: s.Credentials,
		Sites:       s.Sites,
		HTTPClients: s.Transport,
		Tokens:      login.NewTokenDiscovery(cfg.WorkDir),
		Notifier:    cfg.Notifier,
		Analytics:   cfg.Analytics,
	})
	s.closers = append(s.closers, s.Login.Close)

	logging.Info("Bootstrap", "Initialized (sites=%s, secrets=%s, environment=%s)",
		settings.Storage.Sites, settings.Storage.Secrets, settings.Environment)
	return s, nil
}

func openStateStore(cfg config.StorageConfig) (kvstore.Store, error) {
	switch cfg.Sites {
	case config.BackendMemory:
		return kvstore.NewMemoryStore(), nil
	case config.BackendBadger:
		return kvstore.OpenBadgerStore(filepath.Join(cfg.Dir, badgerDirName))
	case config.BackendFile, "":
		return kvstore.NewFileStore(cfg.Dir), nil
	default:
		return nil, fmt.Errorf("unknown sites backend %q", cfg.Sites)
	}
}

// openSecretStore returns the secret store and, for backends holding a
// connection, its close function. A passphrase seals every backend.
func openSecretStore(cfg config.StorageConfig) (credentials.SecretStore, func() error, error) {
	var (
		store   credentials.SecretStore
		closeFn func() error
	)

	switch cfg.Secrets {
	case config.BackendMemory:
		store = credentials.NewMemoryStore()
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisStore := credentials.NewRedisStore(client, cfg.Redis.Prefix)
		store, closeFn = redisStore, redisStore.Close
	case config.BackendFile, "":
		fileStore, err := credentials.NewFileStore(filepath.Join(cfg.Dir, secretsDirName))
		if err != nil {
			return nil, nil, err
		}
		store = fileStore
	default:
		return nil, nil, fmt.Errorf("unknown secrets backend %q", cfg.Secrets)
	}

	if cfg.Passphrase != "" {
		sealed, err := credentials.NewSealedStore(store, cfg.Passphrase, credentials.DefaultKDFParams)
		if err != nil {
			if closeFn != nil {
				closeFn()
			}
			return nil, nil, fmt.Errorf("failed to create sealed secret store: %w", err)
		}
		store = sealed
	}
	return store, closeFn, nil
}

// Close stops background work and closes the stores, newest first.
func (s *Services) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
