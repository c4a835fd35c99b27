package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pkcs12"

	"atlasauth/internal/auth"
	"atlasauth/pkg/logging"
)

// DefaultTimeout bounds every REST call made during login.
const DefaultTimeout = 30 * time.Second

// Factory hands out HTTP clients configured for a site's TLS material.
// Clients are cached per TLS profile and safe for concurrent use.
type Factory struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewFactory creates a factory; a zero timeout selects DefaultTimeout.
func NewFactory(timeout time.Duration) *Factory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Factory{
		timeout: timeout,
		clients: make(map[string]*http.Client),
	}
}

// Default returns the client for sites without custom TLS material.
func (f *Factory) Default() *http.Client {
	c, _ := f.Client(auth.SiteInfo{})
	return c
}

func profileKey(site auth.SiteInfo) string {
	return strings.Join(site.CustomSSLCertPaths, "|") + "#" + site.PfxPath
}

// Client returns the HTTP client for site: proxy from the environment,
// extra root CAs from CustomSSLCertPaths and a client certificate from
// PfxPath.
func (f *Factory) Client(site auth.SiteInfo) (*http.Client, error) {
	key := profileKey(site)

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[key]; ok {
		return c, nil
	}

	tlsConfig, err := tlsConfigFor(site)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyFromEnvironment
	transport.TLSClientConfig = tlsConfig

	c := &http.Client{Transport: transport, Timeout: f.timeout}
	f.clients[key] = c

	if key != "#" {
		logging.Debug("Transport", "Created HTTP client for %s with custom TLS settings", site.Host)
	}
	return c, nil
}

func tlsConfigFor(site auth.SiteInfo) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if len(site.CustomSSLCertPaths) > 0 {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		for _, path := range site.CustomSSLCertPaths {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			pem, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate %s: %w", path, err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", path)
			}
		}
		cfg.RootCAs = pool
	}

	if site.PfxPath != "" {
		data, err := os.ReadFile(site.PfxPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read client certificate %s: %w", site.PfxPath, err)
		}
		key, cert, err := pkcs12.Decode(data, site.PfxPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to decode client certificate %s: %w", site.PfxPath, err)
		}
		cfg.Certificates = []tls.Certificate{{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  key,
			Leaf:        cert,
		}}
	}

	return cfg, nil
}
