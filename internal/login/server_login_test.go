package login

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlasauth/internal/auth"
	"atlasauth/internal/credentials"
)

func newServer(t *testing.T, handler http.Handler) dialClients {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return dialClients{addr: server.Listener.Addr().String()}
}

func TestServerLogin_JiraBasic(t *testing.T) {
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("jdoe:secret"))
	mux := http.NewServeMux()
	mux.HandleFunc("/jira/rest/api/2/myself", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, want, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"name":"jdoe","displayName":"Jane Doe","emailAddress":"jane@example.com","avatarUrls":{"48x48":"https://jira.example.com/avatar"}}`))
	})

	env := newTestEnv(Config{HTTPClients: newServer(t, mux)})
	site := auth.SiteInfo{Host: "jira.example.com", Product: auth.ProductJira, Protocol: "http:", ContextPath: "/jira/"}
	info := &auth.BasicAuthInfo{Username: "jdoe", Password: "secret"}

	details, err := env.manager.UserInitiatedServerLogin(context.Background(), site, info, LoginOptions{Source: "test"})
	require.NoError(t, err)

	assert.Equal(t, "jira.example.com", details.ID)
	assert.Equal(t, "jira.example.com", details.Host)
	assert.Equal(t, "http://jira.example.com/jira", details.BaseLinkURL)
	assert.Equal(t, "http://jira.example.com/jira/rest", details.BaseAPIURL)
	assert.Equal(t, "/jira", details.ContextPath)
	assert.Equal(t, "https://jira.example.com/avatar", details.AvatarURL)
	assert.Equal(t, "jdoe", details.UserID)
	assert.False(t, details.IsCloud)
	assert.Equal(t, credentials.GenerateCredentialID("http://jira.example.com/jira", "jdoe"), details.CredentialID)

	require.Len(t, env.sites.upserted, 1)
	assert.Equal(t, details, env.sites.upserted[0])
	saved, ok := env.creds.saved["jira.example.com"].(*auth.BasicAuthInfo)
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", saved.User.DisplayName)
	assert.Equal(t, "jane@example.com", saved.User.Email)
	assert.Len(t, env.analytics.sites, 1)

	attempt, _ := env.manager.LastAttempt()
	assert.Equal(t, []LoginState{StateIdle, StateFetchingUserProfile, StatePersisting, StateDone}, attempt.History)
}

func TestServerLogin_BitbucketPAT(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/latest/build/capabilities", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pat-token", r.Header.Get("Authorization"))
		w.Header().Set("X-AUSERNAME", "john%40doe.com")
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/rest/api/1.0/users/john@doe.com", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "64", r.URL.Query().Get("avatarSize"))
		_, _ = w.Write([]byte(`{"slug":"john@doe.com","displayName":"John","avatarUrl":"/users/john/avatar.png"}`))
	})

	env := newTestEnv(Config{HTTPClients: newServer(t, mux)})
	site := auth.SiteInfo{Host: "bitbucket.example.com", Product: auth.ProductBitbucket, Protocol: "http"}

	details, err := env.manager.UserInitiatedServerLogin(context.Background(), site, &auth.PATAuthInfo{Token: "pat-token"}, LoginOptions{})
	require.NoError(t, err)

	assert.Equal(t, "john@doe.com", details.UserID)
	assert.Equal(t, "http://bitbucket.example.com", details.BaseAPIURL)
	assert.Equal(t, "http://bitbucket.example.com/users/john/avatar.png", details.AvatarURL)
	assert.False(t, details.IsCloud)
}

func TestServerLogin_BitbucketMissingUsername(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/latest/build/capabilities", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	env := newTestEnv(Config{HTTPClients: newServer(t, mux)})
	_, err := env.manager.UserInitiatedServerLogin(context.Background(), auth.SiteInfo{Host: "bb.example.com", Product: auth.ProductBitbucket, Protocol: "http"}, &auth.PATAuthInfo{Token: "t"}, LoginOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to determine the authenticated username")
}

func TestServerLogin_CloudHostSwitchesToCloud(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/myself", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accountId":"557058:abc","displayName":"Cloud User","emailAddress":"c@example.com"}`))
	})
	mux.HandleFunc("/_edge/tenant_info", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"cloudId":"cloud-123"}`))
	})

	env := newTestEnv(Config{HTTPClients: newServer(t, mux)})
	site := auth.SiteInfo{Host: "acme.atlassian.net", Product: auth.ProductJira, Protocol: "http"}

	details, err := env.manager.UserInitiatedServerLogin(context.Background(), site, &auth.BasicAuthInfo{Username: "c@example.com", Password: "api-token"}, LoginOptions{})
	require.NoError(t, err)

	assert.Equal(t, "cloud-123", details.ID)
	assert.True(t, details.IsCloud)
	assert.Equal(t, "557058:abc", details.UserID)
	assert.Equal(t, "acme.atlassian.net", details.Host)
}

func TestServerLogin_RejectsOAuthInfo(t *testing.T) {
	env := newTestEnv(Config{})

	_, err := env.manager.UserInitiatedServerLogin(context.Background(), auth.SiteInfo{Host: "jira.example.com", Product: auth.ProductJira}, &auth.OAuthInfo{Access: "a"}, LoginOptions{})
	require.Error(t, err)
	assert.Equal(t, `Error authenticating with Jira: unsupported credential type "oauth"`, err.Error())
	assert.Empty(t, env.creds.saved)
}

func TestServerLogin_FailureIsLoginError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/myself", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})

	env := newTestEnv(Config{HTTPClients: newServer(t, mux)})
	site := auth.SiteInfo{Host: "jira.example.com", Product: auth.ProductJira, Protocol: "http"}

	_, err := env.manager.UpdateInfo(context.Background(), site, &auth.BasicAuthInfo{Username: "u", Password: "bad"})
	require.Error(t, err)

	var loginErr *auth.LoginError
	require.True(t, errors.As(err, &loginErr))
	assert.Equal(t, auth.ProductJira, loginErr.Product)
	assert.Contains(t, err.Error(), "Error authenticating with Jira: GET http://jira.example.com/rest/api/2/myself returned 401")
	require.Len(t, env.notifier.errors, 1)
	assert.Equal(t, err.Error(), env.notifier.errors[0])
	assert.Empty(t, env.sites.upserted)
}

func TestSanitizeSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"jdoe", "jdoe"},
		{"john%40doe.com", "john@doe.com"},
		{"John Doe", "John_Doe"},
		{"a%2Fb", "a_b"},
		{"first+last", "first_last"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeSlug(tt.in))
		})
	}
}
