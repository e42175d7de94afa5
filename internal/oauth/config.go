// Package oauth federates sign-in with external OAuth2 and OpenID Connect
// providers.
package oauth

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind selects how a provider reports the signed-in identity.
type Kind string

const (
	// KindTokenExtra reads identity fields from the token response itself.
	KindTokenExtra Kind = "token_extra"
	// KindUserInfo fetches a user-info document with the access token.
	KindUserInfo Kind = "userinfo"
	// KindOIDC verifies the ID token against the issuer's published keys.
	KindOIDC Kind = "oidc"
)

// Fields names the response fields holding the external id and email.
type Fields struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
}

// ProviderConfig describes one provider.
type ProviderConfig struct {
	Name         string            `yaml:"name"`
	Kind         Kind              `yaml:"kind"`
	ClientID     string            `yaml:"client_id"`
	ClientSecret string            `yaml:"client_secret"`
	AuthURL      string            `yaml:"auth_url"`
	TokenURL     string            `yaml:"token_url"`
	UserInfoURL  string            `yaml:"userinfo_url"`
	IssuerURL    string            `yaml:"issuer_url"`
	RedirectURL  string            `yaml:"redirect_url"`
	Scopes       []string          `yaml:"scopes"`
	AuthParams   map[string]string `yaml:"auth_params"`
	Fields       Fields            `yaml:"fields"`
}

// Config is the provider list loaded from OAUTH_PROVIDERS_FILE.
type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadConfig reads a YAML provider file. ${VAR} references are expanded from
// the environment. An empty path yields no providers.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("oauth: read config: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes and validates a YAML provider document.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return Config{}, fmt.Errorf("oauth: parse config: %w", err)
	}
	seen := make(map[string]struct{}, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if err := p.validate(); err != nil {
			return Config{}, err
		}
		if _, dup := seen[p.Name]; dup {
			return Config{}, fmt.Errorf("oauth: duplicate provider %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		p.applyDefaults()
	}
	return cfg, nil
}

func (p *ProviderConfig) validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.ClientID == "" {
		errs = append(errs, errors.New("client_id is required"))
	}
	if p.RedirectURL == "" {
		errs = append(errs, errors.New("redirect_url is required"))
	}
	switch p.Kind {
	case KindTokenExtra, KindUserInfo:
		if p.AuthURL == "" || p.TokenURL == "" {
			errs = append(errs, errors.New("auth_url and token_url are required"))
		}
		if p.Kind == KindUserInfo && p.UserInfoURL == "" {
			errs = append(errs, errors.New("userinfo_url is required"))
		}
	case KindOIDC:
		if p.IssuerURL == "" {
			errs = append(errs, errors.New("issuer_url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kind %q", p.Kind))
	}
	if len(errs) > 0 {
		return fmt.Errorf("oauth: provider %q: %w", p.Name, errors.Join(errs...))
	}
	return nil
}

func (p *ProviderConfig) applyDefaults() {
	if p.Fields.Email == "" {
		p.Fields.Email = "email"
	}
	if p.Fields.ID != "" {
		return
	}
	switch p.Kind {
	case KindTokenExtra:
		p.Fields.ID = "user_id"
	case KindUserInfo:
		p.Fields.ID = "id"
	case KindOIDC:
		p.Fields.ID = "sub"
	}
}
