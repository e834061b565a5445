package fga

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
	errs "github.com/embesozzi/keycloak-openfga-event-publisher/pkg/errors"
)

const (
	testStoreID = "01HVMMBCMGZNT3SED4Z17ECXCA"
	testModelID = "01HVMMBD2D48T0E7S0JE30XP7K"
)

type fakeServer struct {
	mu          sync.Mutex
	writeBodies []map[string]any
	authHeaders []string
	writeStatus int
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /stores", func(w http.ResponseWriter, r *http.Request) {
		f.recordAuth(r)
		writeJSON(w, http.StatusOK, map[string]any{
			"stores": []map[string]any{{
				"id":         testStoreID,
				"name":       "keycloak",
				"created_at": "2024-01-01T00:00:00Z",
				"updated_at": "2024-01-01T00:00:00Z",
			}},
			"continuation_token": "",
		})
	})

	mux.HandleFunc("GET /stores/{store}/authorization-models", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testStoreID, r.PathValue("store"))
		writeJSON(w, http.StatusOK, map[string]any{
			"authorization_models": []map[string]any{{
				"id":               testModelID,
				"schema_version":   "1.1",
				"type_definitions": []map[string]any{{"type": "user"}},
			}},
			"continuation_token": "",
		})
	})

	mux.HandleFunc("GET /stores/{store}/authorization-models/{model}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testModelID, r.PathValue("model"))
		writeJSON(w, http.StatusOK, map[string]any{
			"authorization_model": map[string]any{
				"id":             testModelID,
				"schema_version": "1.1",
				"type_definitions": []map[string]any{
					{"type": "user"},
					{
						"type":      "group",
						"relations": map[string]any{"member": map[string]any{"this": map[string]any{}}},
						"metadata": map[string]any{"relations": map[string]any{
							"member": map[string]any{"directly_related_user_types": []map[string]any{{"type": "user"}}},
						}},
					},
				},
			},
		})
	})

	mux.HandleFunc("POST /stores/{store}/write", func(w http.ResponseWriter, r *http.Request) {
		f.recordAuth(r)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))

		f.mu.Lock()
		f.writeBodies = append(f.writeBodies, body)
		status := f.writeStatus
		f.mu.Unlock()

		if status != 0 && status != http.StatusOK {
			writeJSON(w, status, map[string]any{"code": "validation_error", "message": "type 'group' not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	})

	return mux
}

func (f *fakeServer) recordAuth(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, fake *fakeServer, mutate func(*config.OpenFGAConfig)) *Client {
	t.Helper()

	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	cfg := config.OpenFGAConfig{
		APIUrl:         server.URL,
		AuthMethod:     AuthNone,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestClient_Discovery(t *testing.T) {
	c := newTestClient(t, &fakeServer{}, nil)
	ctx := context.Background()

	stores, err := c.ListStores(ctx)
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, testStoreID, stores[0].Id)

	models, err := c.ReadAuthorizationModels(ctx, testStoreID)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, testModelID, models[0].Id)

	model, err := c.ReadAuthorizationModel(ctx, testStoreID, testModelID)
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Len(t, model.TypeDefinitions, 2)
	assert.Equal(t, "group", model.TypeDefinitions[1].Type)
}

func TestClient_Write(t *testing.T) {
	fake := &fakeServer{}
	c := newTestClient(t, fake, nil)

	batch := types.TupleBatch{
		Writes:  []types.TupleKey{{User: "user:u1", Relation: "member", Object: "group:g1"}},
		Deletes: []types.TupleKey{{User: "user:u2", Relation: "member", Object: "group:g1"}},
	}
	require.NoError(t, c.Write(context.Background(), testStoreID, testModelID, batch))

	require.Len(t, fake.writeBodies, 1)
	body := fake.writeBodies[0]
	assert.Equal(t, testModelID, body["authorization_model_id"])

	writes := body["writes"].(map[string]any)["tuple_keys"].([]any)
	require.Len(t, writes, 1)
	assert.Equal(t, "user:u1", writes[0].(map[string]any)["user"])

	deletes := body["deletes"].(map[string]any)["tuple_keys"].([]any)
	require.Len(t, deletes, 1)
	assert.Equal(t, "user:u2", deletes[0].(map[string]any)["user"])
}

func TestClient_WriteFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		rejected bool
	}{
		{"bad request is a rejection", http.StatusBadRequest, true},
		{"unprocessable is a rejection", http.StatusUnprocessableEntity, true},
		{"server error is not", http.StatusServiceUnavailable, false},
	}

	batch := types.TupleBatch{Writes: []types.TupleKey{{User: "user:u1", Relation: "member", Object: "group:g1"}}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeServer{writeStatus: tt.status}
			c := newTestClient(t, fake, nil)

			err := c.Write(context.Background(), testStoreID, testModelID, batch)

			require.Error(t, err)
			assert.Equal(t, tt.rejected, errs.IsValidation(err))
			assert.Len(t, fake.writeBodies, 1, "writes are never retried")
		})
	}
}

func TestClient_SharedSecret(t *testing.T) {
	fake := &fakeServer{}
	c := newTestClient(t, fake, func(cfg *config.OpenFGAConfig) {
		cfg.AuthMethod = AuthSharedSecret
		cfg.SharedSecret = "s3cr3t"
	})

	_, err := c.ListStores(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, fake.authHeaders)
	assert.Equal(t, "Bearer s3cr3t", fake.authHeaders[0])
}

func TestClient_ClientCredentials(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "https://api.fga.example", r.PostForm.Get("audience"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "issued-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	fake := &fakeServer{}
	c := newTestClient(t, fake, func(cfg *config.OpenFGAConfig) {
		cfg.AuthMethod = AuthClientCredentials
		cfg.ClientID = "publisher"
		cfg.ClientSecret = "secret"
		cfg.Issuer = tokenServer.URL + "/oauth/token"
		cfg.Audience = "https://api.fga.example"
	})

	_, err := c.ListStores(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, fake.authHeaders)
	assert.Equal(t, "Bearer issued-token", fake.authHeaders[0])
}

func TestNewClient_InvalidAuth(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.OpenFGAConfig
	}{
		{"unknown method", config.OpenFGAConfig{APIUrl: "http://localhost:8080", AuthMethod: "basic"}},
		{"shared secret missing", config.OpenFGAConfig{APIUrl: "http://localhost:8080", AuthMethod: AuthSharedSecret}},
		{"client credentials missing", config.OpenFGAConfig{APIUrl: "http://localhost:8080", AuthMethod: AuthClientCredentials}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestTokenURL(t *testing.T) {
	tests := []struct {
		issuer   string
		expected string
	}{
		{"auth.fga.dev", "https://auth.fga.dev/oauth/token"},
		{"https://auth.fga.dev/", "https://auth.fga.dev/oauth/token"},
		{"http://keycloak:8080/realms/fga/protocol/openid-connect/token", "http://keycloak:8080/realms/fga/protocol/openid-connect/token"},
	}

	for _, tt := range tests {
		t.Run(tt.issuer, func(t *testing.T) {
			got, err := TokenURL(tt.issuer)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := TokenURL("")
	assert.Error(t, err)
}
