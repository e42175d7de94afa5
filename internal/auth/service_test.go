package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinoteka/kinoteka/internal/identity"
	"github.com/kinoteka/kinoteka/internal/platform/cache"
	"github.com/kinoteka/kinoteka/internal/platform/db"
	"github.com/kinoteka/kinoteka/internal/shared"
)

type serviceFixture struct {
	svc   *Service
	store *identity.SQLStore
	mr    *miniredis.Miniredis
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.SQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	store := identity.NewSQLStore(conn, db.SQLite)
	require.NoError(t, store.EnsureSchema(ctx))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := NewTokenIssuer("test-secret", time.Minute, time.Hour)
	return serviceFixture{
		svc:   NewService(store, cache.NewStore(client), tokens, logger),
		store: store,
		mr:    mr,
	}
}

func (f serviceFixture) signup(t *testing.T, login string) TokenPair {
	t.Helper()
	pair, err := f.svc.Signup(context.Background(), SignupInput{Login: login, Password: "password1", Email: login + "@example.com"}, "test-agent")
	require.NoError(t, err)
	return pair
}

func TestSignupRejectsDuplicates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.signup(t, "alice")

	_, err := f.svc.Signup(ctx, SignupInput{Login: "ALICE", Password: "password1", Email: "other@example.com"}, "")
	assert.ErrorIs(t, err, shared.ErrLoginExists)

	_, err = f.svc.Signup(ctx, SignupInput{Login: "alice2", Password: "password1", Email: "Alice@Example.com"}, "")
	assert.ErrorIs(t, err, shared.ErrEmailExists)
}

func TestLoginErrors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.signup(t, "bob")

	_, err := f.svc.Login(ctx, "nobody", "password1", "")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)

	_, err = f.svc.Login(ctx, "bob", "wrong-password", "")
	assert.ErrorIs(t, err, shared.ErrWrongPassword)

	pair, err := f.svc.Login(ctx, "bob", "password1", "")
	require.NoError(t, err)
	principal, err := f.svc.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, pair.AccessToken, principal.AccessToken)
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.signup(t, "carol")

	second, err := f.svc.Refresh(ctx, first.RefreshToken, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.svc.Refresh(ctx, first.RefreshToken, "")
	assert.ErrorIs(t, err, shared.ErrInvalidRefreshToken)

	_, err = f.svc.Refresh(ctx, second.RefreshToken, "")
	require.NoError(t, err)
}

func TestLoginSupersedesRefreshToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.signup(t, "dan")

	_, err := f.svc.Login(ctx, "dan", "password1", "")
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, first.RefreshToken, "")
	assert.ErrorIs(t, err, shared.ErrInvalidRefreshToken)
}

func TestLoginKeepsRefreshTokenWhenCacheIsDown(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.signup(t, "dina")

	f.mr.Close()
	_, err := f.svc.Login(ctx, "dina", "password1", "")
	require.Error(t, err)

	require.NoError(t, f.mr.Restart())
	second, err := f.svc.Refresh(ctx, first.RefreshToken, "")
	require.NoError(t, err)
	_, err = f.svc.ValidateAccess(ctx, second.AccessToken)
	require.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newServiceFixture(t)
	pair := f.signup(t, "eve")

	_, err := f.svc.Refresh(context.Background(), pair.AccessToken, "")
	assert.ErrorIs(t, err, shared.ErrInvalidRefreshToken)
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	f := newServiceFixture(t)
	pair := f.signup(t, "fay")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		rejects int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), pair.RefreshToken, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			assert.ErrorIs(t, err, shared.ErrInvalidRefreshToken)
			rejects++
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 5, rejects)
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	pair := f.signup(t, "gus")
	principal, err := f.svc.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)

	err = f.svc.Logout(ctx, principal.UserID, pair.AccessToken, "not-the-refresh-token")
	assert.ErrorIs(t, err, shared.ErrInvalidRefreshToken)

	require.NoError(t, f.svc.Logout(ctx, principal.UserID, pair.AccessToken, pair.RefreshToken))

	_, err = f.svc.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, shared.ErrAccessTokenExpired)
	err = f.svc.Logout(ctx, principal.UserID, pair.AccessToken, pair.RefreshToken)
	assert.ErrorIs(t, err, shared.ErrAccessTokenExpired)
	_, err = f.svc.Refresh(ctx, pair.RefreshToken, "")
	assert.ErrorIs(t, err, shared.ErrInvalidRefreshToken)
}

func TestValidateAccess(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	pair := f.signup(t, "hal")

	_, err := f.svc.ValidateAccess(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = f.svc.ValidateAccess(ctx, "garbage")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	f.mr.FastForward(2 * time.Minute)
	_, err = f.svc.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, shared.ErrAccessTokenExpired)
}

func TestHistoryNewestFirst(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	pair := f.signup(t, "ivy")
	principal, err := f.svc.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "ivy", "password1", "firefox")
	require.NoError(t, err)

	events, err := f.svc.History(ctx, principal.UserID, shared.NewPage(0, 10))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, identity.EventLogin, events[0].Type)
	assert.Equal(t, "firefox", events[0].Fingerprint)
	assert.Equal(t, identity.EventSignup, events[1].Type)

	_, err = f.svc.History(ctx, uuid.NewString(), shared.NewPage(0, 10))
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
}

func TestModify(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	pair := f.signup(t, "jay")
	f.signup(t, "kay")
	principal, err := f.svc.ValidateAccess(ctx, pair.AccessToken)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Modify(ctx, principal.UserID, ModifyInput{}), shared.ErrNothingToModify)

	taken := "kay"
	assert.ErrorIs(t, f.svc.Modify(ctx, principal.UserID, ModifyInput{Login: &taken}), shared.ErrLoginExists)

	login, password := "jay2", "new-password"
	require.NoError(t, f.svc.Modify(ctx, principal.UserID, ModifyInput{Login: &login, Password: &password}))

	_, err = f.svc.Login(ctx, "jay", "password1", "")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
	_, err = f.svc.Login(ctx, "jay2", "new-password", "")
	require.NoError(t, err)
}

func TestSocialLoginCreatesThenReuses(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.signup(t, "lee")
	ext := ExternalIdentity{Provider: "yandex", ExternalID: "42", Email: "lee@example.com"}

	first, err := f.svc.SocialLogin(ctx, ext, "")
	require.NoError(t, err)
	p1, err := f.svc.ValidateAccess(ctx, first.AccessToken)
	require.NoError(t, err)

	second, err := f.svc.SocialLogin(ctx, ext, "")
	require.NoError(t, err)
	p2, err := f.svc.ValidateAccess(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, p1.UserID, p2.UserID)

	user, err := f.store.GetUser(ctx, p1.UserID)
	require.NoError(t, err)
	assert.Equal(t, "yandex_42", user.Login)
	assert.NotEqual(t, "lee@example.com", user.Email, "an email owned by another account is not reused")

	account, err := f.store.GetSocialAccount(ctx, "yandex", "42")
	require.NoError(t, err)
	assert.Equal(t, p1.UserID, account.UserID)
}
