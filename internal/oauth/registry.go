package oauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"golang.org/x/oauth2"
)

// ErrUnknownProvider reports a provider name missing from the configuration.
var ErrUnknownProvider = errors.New("oauth: unknown provider")

// Registry maps provider names to their strategies. OIDC providers whose
// issuer could not be reached stay pending and are discovered on first use.
type Registry struct {
	client *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[string]Provider
	pending   map[string]ProviderConfig

	discoverMu sync.Mutex
}

// NewRegistry builds every configured provider. OIDC discovery runs against
// each issuer within ctx; a failed discovery is logged and retried on lookup.
// client is used for all provider traffic.
func NewRegistry(ctx context.Context, cfg Config, client *http.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	reg := &Registry{
		client:    client,
		logger:    logger,
		providers: make(map[string]Provider, len(cfg.Providers)),
		pending:   make(map[string]ProviderConfig),
	}
	for _, pc := range cfg.Providers {
		switch pc.Kind {
		case KindTokenExtra:
			reg.providers[pc.Name] = tokenExtraProvider{base: newBase(pc, staticEndpoint(pc), client)}
		case KindUserInfo:
			reg.providers[pc.Name] = userInfoProvider{base: newBase(pc, staticEndpoint(pc), client), userInfoURL: pc.UserInfoURL}
		case KindOIDC:
			p, err := newOIDCProvider(ctx, pc, client)
			if err != nil {
				logger.Warn("oauth discovery deferred", slog.String("provider", pc.Name), slog.Any("error", err))
				reg.pending[pc.Name] = pc
				continue
			}
			reg.providers[pc.Name] = p
		}
	}
	return reg
}

// Lookup finds a provider by name, discovering a pending OIDC issuer first.
func (r *Registry) Lookup(ctx context.Context, name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	pc, pending := r.pending[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !pending {
		return nil, ErrUnknownProvider
	}

	r.discoverMu.Lock()
	defer r.discoverMu.Unlock()
	r.mu.RLock()
	p, ok = r.providers[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	discovered, err := newOIDCProvider(ctx, pc, r.client)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	delete(r.pending, name)
	r.providers[name] = discovered
	r.mu.Unlock()
	r.logger.Info("oauth discovery completed", slog.String("provider", name))
	return discovered, nil
}

// Names lists configured providers in order, including pending ones.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers)+len(r.pending))
	for name := range r.providers {
		names = append(names, name)
	}
	for name := range r.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func staticEndpoint(pc ProviderConfig) oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: pc.AuthURL, TokenURL: pc.TokenURL}
}
