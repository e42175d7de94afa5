package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const subscriptionPath = "/user/me/subscription"

// IdentityClient asks the identity service who the caller is.
type IdentityClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewIdentityClient builds a client with a per-call timeout.
func NewIdentityClient(baseURL string, timeout time.Duration, logger *slog.Logger) *IdentityClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type subscriptionResponse struct {
	UserID       string `json:"user_uuid"`
	IsSubscriber bool   `json:"is_subscriber"`
}

// Viewer resolves the caller behind authHeader. Every failure yields an
// anonymous viewer so public reads keep working when identity is down.
func (c *IdentityClient) Viewer(ctx context.Context, authHeader string) Viewer {
	if strings.TrimSpace(authHeader) == "" {
		return Viewer{}
	}
	viewer, err := c.fetch(ctx, authHeader)
	if err != nil {
		c.logger.Warn("identity lookup failed, serving anonymously", slog.Any("error", err))
		return Viewer{}
	}
	return viewer
}

func (c *IdentityClient) fetch(ctx context.Context, authHeader string) (Viewer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+subscriptionPath, nil)
	if err != nil {
		return Viewer{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Viewer{}, fmt.Errorf("call identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Viewer{}, fmt.Errorf("identity responded %d", resp.StatusCode)
	}
	var body subscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Viewer{}, fmt.Errorf("decode identity response: %w", err)
	}
	if body.UserID == "" {
		return Viewer{}, errors.New("identity response without user")
	}
	return Viewer{UserID: body.UserID, Subscriber: body.IsSubscriber}, nil
}
