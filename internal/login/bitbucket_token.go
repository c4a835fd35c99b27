package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"atlasauth/internal/auth"
	"atlasauth/internal/strategy"
	"atlasauth/pkg/logging"
)

// DefaultTokenRefreshSchedule re-validates the git token every two hours.
const DefaultTokenRefreshSchedule = "@every 2h"

const tokenRefreshTimeout = time.Minute

// AuthenticateWithBitbucketToken logs in to Bitbucket cloud with a token
// found in the git configuration. It reports false, without an error,
// when no token can be found. With refresh the credentials are rewritten
// but the site is not registered again; the first successful non-refresh
// call schedules the periodic refresh.
func (m *Manager) AuthenticateWithBitbucketToken(ctx context.Context, refresh bool) (bool, error) {
	key := "login"
	if refresh {
		key = "refresh"
	}
	v, err, _ := m.tokenGroup.Do(key, func() (any, error) {
		return m.authenticateWithBitbucketToken(ctx, refresh)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (m *Manager) authenticateWithBitbucketToken(ctx context.Context, refresh bool) (bool, error) {
	if m.tokens == nil {
		return false, errors.New("token discovery is not configured")
	}

	token, ok := m.tokens.Discover(ctx)
	if !ok {
		logging.Warn("Login", "No Bitbucket token found in git remotes or credentials")
		m.notifier.ShowError(noTokenMessage)
		return false, nil
	}

	a := m.startAttempt(AttemptGitToken, string(strategy.BitbucketCloud))
	a.transition(StateFetchingUserProfile, nil)

	provider := strategy.BitbucketCloud
	resp, err := m.dancer.ResolveToken(ctx, provider, token)
	if err != nil {
		if refresh {
			m.markGitTokenInvalid(ctx)
		}
		logging.Error("Login", err, "Bitbucket token login failed")
		m.notifier.ShowError(fmt.Sprintf("Error authenticating with %s: %v", auth.ProductBitbucket.Name, err))
		return false, a.fail(err)
	}

	a.transition(StateResourceEnrichment, nil)
	_, sites, err := m.resolveSites(ctx, provider, resp)
	if err != nil {
		return false, a.fail(err)
	}

	a.transition(StatePersisting, nil)
	info := oauthInfo(resp)
	for _, site := range sites {
		if err := m.creds.Save(ctx, site, info); err != nil {
			return false, a.fail(err)
		}
	}
	if !refresh {
		if err := m.sites.AddSites(sites); err != nil {
			return false, a.fail(err)
		}
		for _, site := range sites {
			m.analytics.Authenticated(site, false, "gitToken")
		}
		if err := m.scheduleTokenRefresh(); err != nil {
			logging.Warn("Login", "Could not schedule token refresh: %v", err)
		}
	}

	a.transition(StateDone, nil)
	logging.Info("Login", "Authenticated Bitbucket with git token for user %s (refresh=%t)", resp.User.ID, refresh)
	return true, nil
}

// markGitTokenInvalid flags the stored credential of the Bitbucket cloud
// site after the scraped token stopped working.
func (m *Manager) markGitTokenInvalid(ctx context.Context) {
	props, err := m.catalog.Props(strategy.BitbucketCloud)
	if err != nil {
		return
	}
	site, ok := m.sites.SiteForHostname(auth.ProductBitbucket, props.ResourceHost)
	if !ok {
		return
	}
	if err := m.creds.UpdateState(ctx, site, auth.StateInvalid); err != nil {
		logging.Warn("Login", "Failed to mark %s credentials invalid: %v", site.Host, err)
	}
}

func (m *Manager) scheduleTokenRefresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("login manager is closed")
	}
	if m.refreshEntry != 0 {
		return nil
	}

	id, err := m.cron.AddFunc(m.refreshSchedule, m.runTokenRefresh)
	if err != nil {
		return fmt.Errorf("invalid token refresh schedule %q: %w", m.refreshSchedule, err)
	}
	m.refreshEntry = id
	if !m.cronStarted {
		m.cron.Start()
		m.cronStarted = true
	}
	logging.Debug("Login", "Scheduled Bitbucket token refresh (%s)", m.refreshSchedule)
	return nil
}

func (m *Manager) runTokenRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), tokenRefreshTimeout)
	defer cancel()

	if _, err := m.AuthenticateWithBitbucketToken(ctx, true); err != nil {
		logging.Warn("Login", "Scheduled Bitbucket token refresh failed: %v", err)
	}
}

func (m *Manager) stopTokenRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refreshEntry == 0 {
		return
	}
	m.cron.Remove(m.refreshEntry)
	m.refreshEntry = 0
	logging.Debug("Login", "Stopped Bitbucket token refresh")
}

// TokenRefreshScheduled reports whether the git token refresh is active.
func (m *Manager) TokenRefreshScheduled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshEntry != 0
}
