package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ledgermatch/ledgermatch/internal/shared"
)

func newTestStore(t *testing.T) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenStore(client, time.Hour), mr
}

func TestIssueAndResolve(t *testing.T) {
	store, _ := newTestStore(t)
	actor := shared.Actor{ID: 7, Email: "analyst@ledgermatch.local", Role: "ANALYST"}

	token, err := store.Issue(context.Background(), actor)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := store.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, actor.ID, got.ID)
	require.Equal(t, actor.Email, got.Email)
	require.Equal(t, actor.Role, got.Role)
}

func TestResolveUnknownToken(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Resolve(context.Background(), "nope")
	require.ErrorIs(t, err, ErrTokenUnknown)

	_, err = store.Resolve(context.Background(), "")
	require.ErrorIs(t, err, ErrTokenUnknown)
}

func TestResolveRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t)

	token, err := store.Issue(context.Background(), shared.Actor{ID: 1, Role: "ADMIN"})
	require.NoError(t, err)

	mr.FastForward(30 * time.Minute)
	_, err = store.Resolve(context.Background(), token)
	require.NoError(t, err)

	// The refresh restarted the clock, so the original deadline passes
	// without expiring the token.
	mr.FastForward(45 * time.Minute)
	_, err = store.Resolve(context.Background(), token)
	require.NoError(t, err)
}

func TestTokenExpires(t *testing.T) {
	store, mr := newTestStore(t)

	token, err := store.Issue(context.Background(), shared.Actor{ID: 1, Role: "ADMIN"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = store.Resolve(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenUnknown)
}

func TestRevoke(t *testing.T) {
	store, _ := newTestStore(t)

	token, err := store.Issue(context.Background(), shared.Actor{ID: 1, Role: "ADMIN"})
	require.NoError(t, err)

	require.NoError(t, store.Revoke(context.Background(), token))
	_, err = store.Resolve(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenUnknown)
}
