package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlasauth/internal/auth"
)

func testSite() auth.DetailedSiteInfo {
	return auth.DetailedSiteInfo{
		ID:           "resource1",
		Host:         "resource1.atlassian.net",
		Product:      auth.ProductJira,
		UserID:       "user123",
		CredentialID: GenerateCredentialID(auth.ProductJira.Key, "user123"),
		IsCloud:      true,
	}
}

type failingStore struct{ *MemoryStore }

func (f *failingStore) Set(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestManager_RoundTrip(t *testing.T) {
	ctx := context.Background()
	user := auth.UserInfo{ID: "user123", DisplayName: "Test User", Email: "t@example.com"}

	infos := map[string]auth.AuthInfo{
		"oauth": &auth.OAuthInfo{
			AuthInfoBase: auth.AuthInfoBase{State: auth.StateValid, User: user},
			Access:       "a", Refresh: "r", IssuedAt: 1, ExpirationDate: 2, ReceivedAt: 3,
		},
		"basic": &auth.BasicAuthInfo{AuthInfoBase: auth.AuthInfoBase{User: user}, Username: "u", Password: "p"},
		"pat":   &auth.PATAuthInfo{AuthInfoBase: auth.AuthInfoBase{User: user}, Token: "t"},
	}

	for name, info := range infos {
		t.Run(name, func(t *testing.T) {
			m := NewManager(NewMemoryStore())
			site := testSite()

			require.NoError(t, m.Save(ctx, site, info))

			cached, err := m.Get(ctx, site, true)
			require.NoError(t, err)
			assert.Equal(t, info, cached)

			fresh, err := m.Get(ctx, site, false)
			require.NoError(t, err)
			assert.Equal(t, info, fresh)
		})
	}
}

func TestManager_GetMissingReturnsNil(t *testing.T) {
	m := NewManager(NewMemoryStore())
	info, err := m.Get(context.Background(), testSite(), true)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestManager_Events(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())
	site := testSite()

	var got []AuthChangeEvent
	m.OnDidChange(func(e AuthChangeEvent) { got = append(got, e) })

	require.NoError(t, m.Save(ctx, site, &auth.PATAuthInfo{Token: "t"}))

	removed, err := m.Remove(ctx, site)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.Remove(ctx, site)
	require.NoError(t, err)
	assert.False(t, removed)

	require.Len(t, got, 2)
	assert.Equal(t, AuthChangeUpdated, got[0].Kind)
	assert.Equal(t, site.Host, got[0].Site.Host)
	assert.Equal(t, AuthChangeRemoved, got[1].Kind)
	assert.Equal(t, site.CredentialID, got[1].CredentialID)
	assert.Equal(t, auth.ProductJira, got[1].Product)

	info, err := m.Get(ctx, site, true)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestManager_BackendErrorIsStoreError(t *testing.T) {
	m := NewManager(&failingStore{MemoryStore: NewMemoryStore()})

	err := m.Save(context.Background(), testSite(), &auth.PATAuthInfo{Token: "t"})
	require.Error(t, err)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "save", storeErr.Operation)
	assert.Contains(t, err.Error(), "disk full")
}

func TestManager_UpdateState(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())
	site := testSite()

	require.NoError(t, m.Save(ctx, site, &auth.BasicAuthInfo{Username: "u", Password: "p"}))
	require.NoError(t, m.UpdateState(ctx, site, auth.StateInvalid))

	info, err := m.Get(ctx, site, false)
	require.NoError(t, err)
	assert.Equal(t, auth.StateInvalid, info.Base().State)

	// No stored credential: nothing to do.
	other := site
	other.CredentialID = GenerateCredentialID("jira", "someone-else")
	require.NoError(t, m.UpdateState(ctx, other, auth.StateInvalid))
}

func TestManager_SameCredentialIDAcrossProducts(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	id := GenerateCredentialID("https://git.example.com", "alice")
	jiraSite := auth.DetailedSiteInfo{ID: "git.example.com", Host: "git.example.com", Product: auth.ProductJira, UserID: "alice", CredentialID: id}
	bbSite := jiraSite
	bbSite.Product = auth.ProductBitbucket

	basic := &auth.BasicAuthInfo{Username: "alice", Password: "pw"}
	pat := &auth.PATAuthInfo{Token: "bb-token"}
	require.NoError(t, m.Save(ctx, jiraSite, basic))
	require.NoError(t, m.Save(ctx, bbSite, pat))

	for _, allowCache := range []bool{true, false} {
		got, err := m.Get(ctx, jiraSite, allowCache)
		require.NoError(t, err)
		assert.Equal(t, basic, got)

		got, err = m.Get(ctx, bbSite, allowCache)
		require.NoError(t, err)
		assert.Equal(t, pat, got)
	}

	removed, err := m.Remove(ctx, bbSite)
	require.NoError(t, err)
	assert.True(t, removed)

	got, err := m.Get(ctx, jiraSite, true)
	require.NoError(t, err)
	assert.Equal(t, basic, got)

	got, err = m.Get(ctx, bbSite, true)
	require.NoError(t, err)
	assert.Nil(t, got)
}
