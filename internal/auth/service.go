package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kinoteka/kinoteka/internal/identity"
	"github.com/kinoteka/kinoteka/internal/platform/cache"
	"github.com/kinoteka/kinoteka/internal/shared"
)

// Store is the slice of the identity store the token service needs.
type Store interface {
	CreateUser(ctx context.Context, u identity.User) (identity.User, error)
	GetUser(ctx context.Context, id string) (identity.User, error)
	GetUserByLogin(ctx context.Context, login string) (identity.User, error)
	GetUserByEmail(ctx context.Context, email string) (identity.User, error)
	UpdateUser(ctx context.Context, u identity.User) (identity.User, error)

	AppendAuthEvent(ctx context.Context, e identity.AuthEvent) (identity.AuthEvent, error)
	ListAuthEvents(ctx context.Context, ownerID string, offset, limit int) ([]identity.AuthEvent, error)

	ReplaceRefreshToken(ctx context.Context, t identity.RefreshToken) (identity.RefreshToken, error)
	ConsumeRefreshToken(ctx context.Context, ownerID, value string) error
	DeleteRefreshToken(ctx context.Context, ownerID, value string) error

	GetSocialAccount(ctx context.Context, provider, externalID string) (identity.SocialAccount, error)
	LinkSocialAccount(ctx context.Context, a identity.SocialAccount) (identity.SocialAccount, error)
}

// ExternalIdentity is a user as asserted by an OAuth provider.
type ExternalIdentity struct {
	Provider   string
	ExternalID string
	Email      string
}

// SignupInput carries new account credentials.
type SignupInput struct {
	Login    string
	Password string
	Email    string
}

// ModifyInput carries optional account changes.
type ModifyInput struct {
	Login    *string
	Password *string
}

// Service issues, rotates and revokes token pairs. An access token is live
// while its value is present as a key in the cache.
type Service struct {
	store  Store
	cache  *cache.Store
	tokens *TokenIssuer
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, c *cache.Store, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: c, tokens: tokens, logger: logger, now: time.Now}
}

// Signup creates an account and returns its first token pair.
func (s *Service) Signup(ctx context.Context, in SignupInput, fingerprint string) (TokenPair, error) {
	if err := s.ensureLoginFree(ctx, in.Login); err != nil {
		return TokenPair{}, err
	}
	if _, err := s.store.GetUserByEmail(ctx, in.Email); err == nil {
		return TokenPair{}, shared.ErrEmailExists
	} else if !errors.Is(err, identity.ErrNotFound) {
		return TokenPair{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.store.CreateUser(ctx, identity.User{Login: in.Login, Email: in.Email, PasswordHash: hash})
	if errors.Is(err, identity.ErrConflict) {
		// lost a race with a concurrent signup
		if lerr := s.ensureLoginFree(ctx, in.Login); lerr != nil {
			return TokenPair{}, lerr
		}
		return TokenPair{}, shared.ErrEmailExists
	}
	if err != nil {
		return TokenPair{}, err
	}
	return s.commit(ctx, user, identity.EventSignup, fingerprint)
}

// Login verifies credentials and returns a new token pair, superseding any
// earlier refresh token.
func (s *Service) Login(ctx context.Context, login, password, fingerprint string) (TokenPair, error) {
	user, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		return TokenPair{}, mapUserErr(err)
	}
	ok, err := CheckPassword(user.PasswordHash, password)
	if err != nil {
		return TokenPair{}, err
	}
	if !ok {
		return TokenPair{}, shared.ErrWrongPassword
	}
	return s.commit(ctx, user, identity.EventLogin, fingerprint)
}

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// accepted once; replaying it fails even for its legitimate holder.
func (s *Service) Refresh(ctx context.Context, refreshToken, fingerprint string) (TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken, TokenRefresh)
	if err != nil {
		return TokenPair{}, shared.ErrInvalidRefreshToken
	}
	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return TokenPair{}, mapUserErr(err)
	}
	if err := s.store.ConsumeRefreshToken(ctx, user.ID, refreshToken); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			s.logger.Warn("refresh token rejected", slog.String("user_id", user.ID))
			return TokenPair{}, shared.ErrInvalidRefreshToken
		}
		return TokenPair{}, err
	}
	return s.commit(ctx, user, identity.EventRefresh, fingerprint)
}

// Logout revokes the access token and deletes the refresh token.
func (s *Service) Logout(ctx context.Context, userID, accessToken, refreshToken string) error {
	live, err := s.cache.Exists(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("auth: check access token: %w", err)
	}
	if !live {
		return shared.ErrAccessTokenExpired
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return mapUserErr(err)
	}
	if err := s.store.DeleteRefreshToken(ctx, userID, refreshToken); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return shared.ErrInvalidRefreshToken
		}
		return err
	}
	if _, err := s.cache.Del(ctx, accessToken); err != nil {
		return fmt.Errorf("auth: revoke access token: %w", err)
	}
	return nil
}

// ValidateAccess checks an access token's signature, expiry and cache
// presence, returning the principal it identifies.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (shared.Principal, error) {
	claims, err := s.tokens.Parse(accessToken, TokenAccess)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return shared.Principal{}, shared.ErrAccessTokenExpired
	case err != nil:
		return shared.Principal{}, shared.ErrUnauthorized
	}
	live, err := s.cache.Exists(ctx, accessToken)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("auth: check access token: %w", err)
	}
	if !live {
		return shared.Principal{}, shared.ErrAccessTokenExpired
	}
	return shared.Principal{UserID: claims.Subject, AccessToken: accessToken}, nil
}

// Modify changes the login and/or password of a user.
func (s *Service) Modify(ctx context.Context, userID string, in ModifyInput) error {
	if in.Login == nil && in.Password == nil {
		return shared.ErrNothingToModify
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return mapUserErr(err)
	}
	if in.Login != nil && identity.NormalizeLogin(*in.Login) != user.Login {
		if err := s.ensureLoginFree(ctx, *in.Login); err != nil {
			return err
		}
		user.Login = *in.Login
	}
	if in.Password != nil {
		hash, err := HashPassword(*in.Password)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
	}
	if _, err := s.store.UpdateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, identity.ErrConflict):
			return shared.ErrLoginExists
		case errors.Is(err, identity.ErrNotFound):
			return shared.ErrUserNotFound
		}
		return err
	}
	return nil
}

// History lists a user's authentication events, newest first.
func (s *Service) History(ctx context.Context, userID string, page shared.Page) ([]identity.AuthEvent, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, mapUserErr(err)
	}
	return s.store.ListAuthEvents(ctx, userID, page.Offset, page.Limit)
}

// SocialLogin signs in the user linked to an external identity, creating and
// linking a new account on first sight.
func (s *Service) SocialLogin(ctx context.Context, ext ExternalIdentity, fingerprint string) (TokenPair, error) {
	account, err := s.store.GetSocialAccount(ctx, ext.Provider, ext.ExternalID)
	if err == nil {
		user, err := s.store.GetUser(ctx, account.UserID)
		if err != nil {
			return TokenPair{}, mapUserErr(err)
		}
		return s.commit(ctx, user, identity.EventLogin, fingerprint)
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return TokenPair{}, err
	}

	user, err := s.createSocialUser(ctx, ext)
	if err != nil {
		return TokenPair{}, err
	}
	if _, err := s.store.LinkSocialAccount(ctx, identity.SocialAccount{
		UserID:     user.ID,
		Provider:   ext.Provider,
		ExternalID: ext.ExternalID,
	}); err != nil {
		return TokenPair{}, err
	}
	s.logger.Info("social account linked", slog.String("provider", ext.Provider), slog.String("user_id", user.ID))
	return s.commit(ctx, user, identity.EventLogin, fingerprint)
}

func (s *Service) createSocialUser(ctx context.Context, ext ExternalIdentity) (identity.User, error) {
	login := ext.Provider + "_" + ext.ExternalID
	email := ext.Email
	if email == "" {
		email = login + "@users.noreply.kinoteka"
	} else if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		// provider emails are unverified; never merge into an existing account
		email = login + "@users.noreply.kinoteka"
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return identity.User{}, fmt.Errorf("auth: random password: %w", err)
	}
	hash, err := HashPassword(hex.EncodeToString(secret))
	if err != nil {
		return identity.User{}, err
	}
	user, err := s.store.CreateUser(ctx, identity.User{Login: login, Email: email, PasswordHash: hash})
	if errors.Is(err, identity.ErrConflict) {
		return identity.User{}, shared.ErrLoginExists
	}
	return user, err
}

// commit marks the access token live, then persists the refresh token and
// audit event of a successful authentication. A cache failure leaves the
// user's previous refresh token in place.
func (s *Service) commit(ctx context.Context, user identity.User, event identity.EventType, fingerprint string) (TokenPair, error) {
	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.cache.Set(ctx, pair.AccessToken, "", s.tokens.AccessTTL()); err != nil {
		return TokenPair{}, fmt.Errorf("auth: cache access token: %w", err)
	}
	now := s.now()
	if _, err := s.store.ReplaceRefreshToken(ctx, identity.RefreshToken{
		OwnerID:   user.ID,
		Value:     pair.RefreshToken,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokens.RefreshTTL()),
	}); err != nil {
		return TokenPair{}, err
	}
	if _, err := s.store.AppendAuthEvent(ctx, identity.AuthEvent{
		OwnerID:     user.ID,
		Type:        event,
		Fingerprint: fingerprint,
		At:          now,
	}); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (s *Service) ensureLoginFree(ctx context.Context, login string) error {
	_, err := s.store.GetUserByLogin(ctx, login)
	if err == nil {
		return shared.ErrLoginExists
	}
	if errors.Is(err, identity.ErrNotFound) {
		return nil
	}
	return err
}

func mapUserErr(err error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return shared.ErrUserNotFound
	}
	return err
}
