// Package fga adapts the OpenFGA SDK client to the operations the publisher
// needs: store and model discovery, and tuple writes.
package fga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	fgaSdk "github.com/openfga/go-sdk"
	"github.com/openfga/go-sdk/client"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
	errs "github.com/embesozzi/keycloak-openfga-event-publisher/pkg/errors"
)

// Authentication methods accepted in the openfga configuration section
const (
	AuthNone              = "none"
	AuthClientCredentials = "client_credentials"
	AuthSharedSecret      = "shared_secret"
)

// Client talks to an OpenFGA server
type Client struct {
	sdk *client.OpenFgaClient
}

// NewClient creates a client with the configured authentication and bounded
// timeouts. Retries are disabled: a failed write is reported to the caller.
func NewClient(cfg config.OpenFGAConfig) (*Client, error) {
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	configuration := &client.ClientConfiguration{
		ApiUrl:      cfg.APIUrl,
		HTTPClient:  httpClient,
		RetryParams: &fgaSdk.RetryParams{MaxRetry: 0},
	}

	sdk, err := client.NewSdkClient(configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenFGA client: %w", err)
	}

	return &Client{sdk: sdk}, nil
}

// newHTTPClient builds the transport shared by every call, authenticated the
// way auth_method asks
func newHTTPClient(cfg config.OpenFGAConfig) (*http.Client, error) {
	base := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	switch cfg.AuthMethod {
	case AuthClientCredentials:
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("client_id and client_secret are required for client_credentials auth")
		}
		tokenURL, err := TokenURL(cfg.Issuer)
		if err != nil {
			return nil, err
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{"read", "write"},
		}
		if cfg.Audience != "" {
			cc.EndpointParams = url.Values{"audience": {cfg.Audience}}
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		return cc.Client(ctx), nil

	case AuthSharedSecret:
		if cfg.SharedSecret == "" {
			return nil, fmt.Errorf("shared_secret is required for shared_secret auth")
		}
		base.Transport = &bearerTransport{token: cfg.SharedSecret, next: base.Transport}
		return base, nil

	case AuthNone, "":
		return base, nil

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}
}

// TokenURL turns a client credentials issuer into its token endpoint. A bare
// host gets the https scheme and the /oauth/token path.
func TokenURL(issuer string) (string, error) {
	if issuer == "" {
		return "", fmt.Errorf("issuer is required for client_credentials auth")
	}
	if !strings.Contains(issuer, "://") {
		issuer = "https://" + issuer
	}

	u, err := url.Parse(issuer)
	if err != nil {
		return "", fmt.Errorf("invalid issuer %q: %w", issuer, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/oauth/token"
	}

	return u.String(), nil
}

type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(req)
}

// ListStores returns the first page of stores
func (c *Client) ListStores(ctx context.Context) ([]fgaSdk.Store, error) {
	resp, err := c.sdk.ListStores(ctx).Execute()
	if err != nil {
		return nil, err
	}
	return resp.Stores, nil
}

// ReadAuthorizationModels returns the models of a store, newest first
func (c *Client) ReadAuthorizationModels(ctx context.Context, storeID string) ([]fgaSdk.AuthorizationModel, error) {
	resp, err := c.sdk.ReadAuthorizationModels(ctx).
		Options(client.ClientReadAuthorizationModelsOptions{StoreId: &storeID}).
		Execute()
	if err != nil {
		return nil, err
	}
	return resp.AuthorizationModels, nil
}

// ReadAuthorizationModel returns one model with its type definitions
func (c *Client) ReadAuthorizationModel(ctx context.Context, storeID, modelID string) (*fgaSdk.AuthorizationModel, error) {
	resp, err := c.sdk.ReadAuthorizationModel(ctx).
		Options(client.ClientReadAuthorizationModelOptions{
			StoreId:              &storeID,
			AuthorizationModelId: &modelID,
		}).
		Execute()
	if err != nil {
		return nil, err
	}
	return resp.AuthorizationModel, nil
}

// Write sends the batch as a single write request
func (c *Client) Write(ctx context.Context, storeID, modelID string, batch types.TupleBatch) error {
	body := client.ClientWriteRequest{}

	if len(batch.Writes) > 0 {
		writes := make([]client.ClientTupleKey, len(batch.Writes))
		for i, tuple := range batch.Writes {
			writes[i] = client.ClientTupleKey{
				User:     tuple.User,
				Relation: tuple.Relation,
				Object:   tuple.Object,
			}
		}
		body.Writes = writes
	}

	if len(batch.Deletes) > 0 {
		deletes := make([]client.ClientTupleKeyWithoutCondition, len(batch.Deletes))
		for i, tuple := range batch.Deletes {
			deletes[i] = client.ClientTupleKeyWithoutCondition{
				User:     tuple.User,
				Relation: tuple.Relation,
				Object:   tuple.Object,
			}
		}
		body.Deletes = deletes
	}

	options := client.ClientWriteOptions{
		StoreId:              &storeID,
		AuthorizationModelId: &modelID,
	}

	resp, err := c.sdk.Write(ctx).Body(body).Options(options).Execute()
	if err != nil {
		// the store refused the tuples themselves; sending them again cannot succeed
		var rejected fgaSdk.FgaApiValidationError
		if errors.As(err, &rejected) {
			return errs.NewValidation(fmt.Sprintf("OpenFGA rejected the write (%s)", rejected.ResponseCode()), err)
		}
		return err
	}

	for _, w := range resp.Writes {
		slog.DebugContext(ctx, "tuple write response",
			"tuple", fmt.Sprintf("%s#%s@%s", w.TupleKey.Object, w.TupleKey.Relation, w.TupleKey.User),
			"status", w.Status,
		)
	}
	for _, d := range resp.Deletes {
		slog.DebugContext(ctx, "tuple delete response",
			"tuple", fmt.Sprintf("%s#%s@%s", d.TupleKey.Object, d.TupleKey.Relation, d.TupleKey.User),
			"status", d.Status,
		)
	}

	return nil
}

// CreateStore creates a store and returns its id
func (c *Client) CreateStore(ctx context.Context, name string) (string, error) {
	resp, err := c.sdk.CreateStore(ctx).Body(client.ClientCreateStoreRequest{Name: name}).Execute()
	if err != nil {
		return "", err
	}
	return resp.Id, nil
}

// WriteAuthorizationModel stores model as the newest model of the store and returns its id
func (c *Client) WriteAuthorizationModel(ctx context.Context, storeID string, model fgaSdk.AuthorizationModel) (string, error) {
	body := client.ClientWriteAuthorizationModelRequest{
		SchemaVersion:   model.SchemaVersion,
		TypeDefinitions: model.TypeDefinitions,
	}

	resp, err := c.sdk.WriteAuthorizationModel(ctx).
		Body(body).
		Options(client.ClientWriteAuthorizationModelOptions{StoreId: &storeID}).
		Execute()
	if err != nil {
		return "", err
	}
	return resp.AuthorizationModelId, nil
}
