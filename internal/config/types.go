package config

import (
	"time"

	"atlasauth/internal/auth"
	"atlasauth/internal/strategy"
)

// Environment selects the production or staging OAuth providers.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
)

// CloudSite returns the cloud site an OAuth login for product targets
// when no host is given.
func (e Environment) CloudSite(product auth.Product) auth.SiteInfo {
	host := "atlassian.net"
	switch {
	case product.Key == auth.ProductBitbucket.Key && e == EnvironmentStaging:
		host = "bb-inf.net"
	case product.Key == auth.ProductBitbucket.Key:
		host = "bitbucket.org"
	case e == EnvironmentStaging:
		host = "jira-dev.com"
	}
	return auth.SiteInfo{Host: host, Product: product}
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the top-level atlasauth configuration.
type Config struct {
	Environment Environment   `yaml:"environment" validate:"oneof=production staging"`
	Storage     StorageConfig `yaml:"storage"`
	OAuth       OAuthConfig   `yaml:"oauth"`
	HTTP        HTTPConfig    `yaml:"http"`
	Log         LogConfig     `yaml:"log"`
}

// StorageConfig selects where sites and secrets are kept.
type StorageConfig struct {
	Dir        string      `yaml:"dir,omitempty"`
	Sites      string      `yaml:"sites" validate:"oneof=file badger memory"`
	Secrets    string      `yaml:"secrets" validate:"oneof=file redis memory"`
	Passphrase string      `yaml:"passphrase,omitempty"`
	Redis      RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig is the connection of the redis secret backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" validate:"gte=0,lte=15"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// OAuthConfig configures the OAuth dance and the registered clients.
type OAuthConfig struct {
	CallbackTimeout time.Duration           `yaml:"callbackTimeout" validate:"gte=0"`
	Clients         map[string]ClientConfig `yaml:"clients,omitempty" validate:"dive,keys,oneof=bbcloud bbcloudstaging jiracloud jiracloudstaging jiracloudremote,endkeys"`
}

// ClientConfig holds one provider's registered OAuth client.
type ClientConfig struct {
	ClientID     string `yaml:"clientId" validate:"required"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
}

// HTTPConfig configures outgoing REST calls.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// ClientCredentials returns the configured OAuth clients keyed by provider.
func (c Config) ClientCredentials() map[strategy.OAuthProvider]strategy.ClientCredentials {
	out := make(map[strategy.OAuthProvider]strategy.ClientCredentials, len(c.OAuth.Clients))
	for name, client := range c.OAuth.Clients {
		out[strategy.OAuthProvider(name)] = strategy.ClientCredentials{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
		}
	}
	return out
}
