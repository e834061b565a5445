// Package keycloak resolves the role ids found in admin event paths to role
// names, through the Keycloak admin API or a configured table.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/event"
)

// Client reads roles from the Keycloak admin REST API with a service account
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewClient creates an admin API client authenticated with the client
// credentials grant against the token realm
func NewClient(cfg config.KeycloakConfig) *Client {
	baseURL := strings.TrimRight(cfg.URL, "/")

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", baseURL, url.PathEscape(cfg.TokenRealm)),
	}

	base := &http.Client{Timeout: cfg.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(ctx)
	httpClient.Timeout = cfg.Timeout

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// ResolveRoleName returns the name of the role with the given id in realm
func (c *Client) ResolveRoleName(ctx context.Context, realm, roleID string) (string, error) {
	endpoint := fmt.Sprintf("%s/admin/realms/%s/roles-by-id/%s", c.baseURL, url.PathEscape(realm), url.PathEscape(roleID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query role %s: %w", roleID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s in realm %s", event.ErrRoleNotFound, roleID, realm)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("role lookup returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r role
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("failed to decode role %s: %w", roleID, err)
	}

	slog.DebugContext(ctx, "role resolved", "realm", realm, "role_id", roleID, "role_name", r.Name)

	return r.Name, nil
}
