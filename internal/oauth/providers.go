package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Identity is the user an exchange resolved to.
type Identity struct {
	Provider   string
	ExternalID string
	Email      string
}

// Provider is one sign-in strategy.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Identity, error)
}

// errMissingID is returned when a provider response lacks the external id.
var errMissingID = errors.New("oauth: provider response has no user id")

type base struct {
	name   string
	config *oauth2.Config
	params []oauth2.AuthCodeOption
	fields Fields
	client *http.Client
}

func newBase(cfg ProviderConfig, endpoint oauth2.Endpoint, client *http.Client) base {
	params := make([]oauth2.AuthCodeOption, 0, len(cfg.AuthParams))
	for k, v := range cfg.AuthParams {
		params = append(params, oauth2.SetAuthURLParam(k, v))
	}
	return base{
		name: cfg.Name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		params: params,
		fields: cfg.Fields,
		client: client,
	}
}

func (b base) Name() string { return b.name }

func (b base) AuthCodeURL(state string) string {
	return b.config.AuthCodeURL(state, b.params...)
}

func (b base) exchange(ctx context.Context, code string) (context.Context, *oauth2.Token, error) {
	if b.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)
	}
	token, err := b.config.Exchange(ctx, code)
	if err != nil {
		return ctx, nil, fmt.Errorf("oauth: %s exchange: %w", b.name, err)
	}
	return ctx, token, nil
}

func (b base) identity(id, email string) (Identity, error) {
	if id == "" {
		return Identity{}, errMissingID
	}
	return Identity{Provider: b.name, ExternalID: id, Email: email}, nil
}

// tokenExtraProvider reads the identity from extra token response fields.
type tokenExtraProvider struct{ base }

func (p tokenExtraProvider) Exchange(ctx context.Context, code string) (Identity, error) {
	_, token, err := p.exchange(ctx, code)
	if err != nil {
		return Identity{}, err
	}
	return p.identity(stringify(token.Extra(p.fields.ID)), stringify(token.Extra(p.fields.Email)))
}

// userInfoProvider fetches a user-info document with the access token.
type userInfoProvider struct {
	base
	userInfoURL string
}

func (p userInfoProvider) Exchange(ctx context.Context, code string) (Identity, error) {
	ctx, token, err := p.exchange(ctx, code)
	if err != nil {
		return Identity{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("oauth: %s userinfo request: %w", p.name, err)
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("oauth: %s userinfo: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Identity{}, fmt.Errorf("oauth: %s userinfo status %d: %s", p.name, resp.StatusCode, body)
	}
	var doc map[string]any
	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Identity{}, fmt.Errorf("oauth: %s decode userinfo: %w", p.name, err)
	}
	return p.identity(stringify(doc[p.fields.ID]), stringify(doc[p.fields.Email]))
}

// oidcProvider verifies the ID token and reads identity claims from it.
type oidcProvider struct {
	base
	verifier *oidc.IDTokenVerifier
}

func newOIDCProvider(ctx context.Context, cfg ProviderConfig, client *http.Client) (oidcProvider, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	discovered, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return oidcProvider{}, fmt.Errorf("oauth: discover %s: %w", cfg.Name, err)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "email"}
	}
	return oidcProvider{
		base:     newBase(cfg, discovered.Endpoint(), client),
		verifier: discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (p oidcProvider) Exchange(ctx context.Context, code string) (Identity, error) {
	ctx, token, err := p.exchange(ctx, code)
	if err != nil {
		return Identity{}, err
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok {
		return Identity{}, fmt.Errorf("oauth: %s: token response has no id_token", p.name)
	}
	if p.client != nil {
		ctx = oidc.ClientContext(ctx, p.client)
	}
	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, fmt.Errorf("oauth: %s verify id_token: %w", p.name, err)
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("oauth: %s claims: %w", p.name, err)
	}
	id := stringify(claims[p.fields.ID])
	if id == "" {
		id = idToken.Subject
	}
	return p.identity(id, stringify(claims[p.fields.Email]))
}

// stringify renders scalar JSON values; providers disagree on whether ids
// are numbers or strings.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}
