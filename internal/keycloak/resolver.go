package keycloak

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/config"
	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/event"
)

// StaticResolver serves role names from a fixed id to name table
type StaticResolver map[string]string

// ResolveRoleName looks roleID up in the table; realm is ignored
func (s StaticResolver) ResolveRoleName(_ context.Context, _ string, roleID string) (string, error) {
	name, ok := s[roleID]
	if !ok {
		return "", fmt.Errorf("%w: %s", event.ErrRoleNotFound, roleID)
	}
	return name, nil
}

type cacheKey struct {
	realm  string
	roleID string
}

// CachingResolver remembers successful resolutions of the wrapped resolver.
// Role ids are immutable in Keycloak, so entries are only evicted for space.
type CachingResolver struct {
	next  event.RoleResolver
	cache *lru.Cache[cacheKey, string]
}

// NewCachingResolver wraps next with an LRU cache holding up to size roles
func NewCachingResolver(next event.RoleResolver, size int) (*CachingResolver, error) {
	cache, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create role cache: %w", err)
	}
	return &CachingResolver{next: next, cache: cache}, nil
}

// ResolveRoleName returns the cached name or asks the wrapped resolver
func (c *CachingResolver) ResolveRoleName(ctx context.Context, realm, roleID string) (string, error) {
	key := cacheKey{realm: realm, roleID: roleID}
	if name, ok := c.cache.Get(key); ok {
		return name, nil
	}

	name, err := c.next.ResolveRoleName(ctx, realm, roleID)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, name)

	return name, nil
}

// Chain tries each resolver in order, moving on only when a role is not found
type Chain []event.RoleResolver

// ResolveRoleName returns the first name found
func (c Chain) ResolveRoleName(ctx context.Context, realm, roleID string) (string, error) {
	err := fmt.Errorf("%w: %s", event.ErrRoleNotFound, roleID)
	for _, resolver := range c {
		var name string
		name, err = resolver.ResolveRoleName(ctx, realm, roleID)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, event.ErrRoleNotFound) {
			return "", err
		}
	}
	return "", err
}

// NewResolver assembles the resolver described by cfg: the static table first,
// then the admin API behind the cache. It returns nil when neither is configured.
func NewResolver(cfg config.KeycloakConfig) (event.RoleResolver, error) {
	var chain Chain

	if len(cfg.Roles) > 0 {
		chain = append(chain, StaticResolver(cfg.Roles))
	}

	if cfg.URL != "" {
		var resolver event.RoleResolver = NewClient(cfg)
		if cfg.RoleCacheSize > 0 {
			cached, err := NewCachingResolver(resolver, cfg.RoleCacheSize)
			if err != nil {
				return nil, err
			}
			resolver = cached
		}
		chain = append(chain, resolver)
	}

	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	default:
		return chain, nil
	}
}
