package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testSessionManager(t *testing.T, ttl time.Duration) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "budgeo_session", ttl, false), mr
}

func TestIssueResolveRoundTrip(t *testing.T) {
	sm, mr := testSessionManager(t, time.Hour)
	require.Equal(t, time.Hour, sm.TTL())

	id := Identity{ActorID: 7, OrgID: 42, Role: RoleUser}
	rec := httptest.NewRecorder()
	token, err := sm.Issue(context.Background(), rec, id)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, sm.TTL(), mr.TTL("session:"+token))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	resolved, ok, err := sm.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, resolved)
}

func TestResolveWithoutCookieIsAnonymous(t *testing.T) {
	sm, _ := testSessionManager(t, time.Hour)

	_, ok, err := sm.Resolve(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevokeInvalidatesSession(t *testing.T) {
	sm, _ := testSessionManager(t, time.Hour)

	rec := httptest.NewRecorder()
	_, err := sm.Issue(context.Background(), rec, Identity{ActorID: 7, OrgID: 42, Role: RoleAdmin})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	require.NoError(t, sm.Revoke(context.Background(), httptest.NewRecorder(), req))

	_, ok, err := sm.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.False(t, ok)
}
