package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofhir/pathcheck/pkg/cache"
	"github.com/gofhir/pathcheck/pkg/logger"
	"github.com/gofhir/pathcheck/pkg/registry"
)

var log = logger.Default().Named("profile")

// RegistryResolver resolves extension profiles loaded into a registry.
type RegistryResolver struct {
	registry *registry.Registry
}

// NewRegistryResolver creates a resolver over reg.
func NewRegistryResolver(reg *registry.Registry) *RegistryResolver {
	return &RegistryResolver{registry: reg}
}

// ResolveProfile implements Resolver.
func (r *RegistryResolver) ResolveProfile(ctx context.Context, url string) (*Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sd := r.registry.GetByURL(url)
	if sd == nil || sd.Type != "Extension" {
		return nil, ErrNotFound
	}
	return FromRegistry(sd), nil
}

// --- Chain ---

// Chain implements Resolver by trying multiple resolvers in order.
type Chain struct {
	resolvers []Resolver
}

// NewChain creates a new resolver chain.
func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers}
}

// ResolveProfile tries each resolver until one succeeds. Resolvers reporting
// ErrNotFound are skipped; any other error stops the chain.
func (c *Chain) ResolveProfile(ctx context.Context, url string) (*Definition, error) {
	for _, resolver := range c.resolvers {
		def, err := resolver.ResolveProfile(ctx, url)
		if err == nil && def != nil {
			return def, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("resolve %s: %w", url, err)
		}
	}
	log.Debug("no resolver knows %s", url)
	return nil, ErrNotFound
}

// Add appends a resolver to the chain.
func (c *Chain) Add(resolver Resolver) {
	c.resolvers = append(c.resolvers, resolver)
}

// Len returns the number of resolvers in the chain.
func (c *Chain) Len() int {
	return len(c.resolvers)
}

// --- Caching ---

// Cached wraps a Resolver with an LRU cache. Successful resolutions are
// cached; failures, ErrNotFound included, are retried on the next call.
type Cached struct {
	resolver Resolver
	cache    *cache.Cache[string, *Definition]
}

// NewCached creates a caching wrapper holding up to capacity definitions.
func NewCached(resolver Resolver, capacity int) *Cached {
	return &Cached{
		resolver: resolver,
		cache:    cache.New[string, *Definition](capacity),
	}
}

// ResolveProfile implements Resolver.
func (c *Cached) ResolveProfile(ctx context.Context, url string) (*Definition, error) {
	return c.cache.GetOrLoad(url, func() (*Definition, error) {
		def, err := c.resolver.ResolveProfile(ctx, url)
		if err == nil && def == nil {
			err = ErrNotFound
		}
		return def, err
	})
}

// Stats returns the cache statistics.
func (c *Cached) Stats() cache.Stats {
	return c.cache.Stats()
}

// Clear drops every cached definition.
func (c *Cached) Clear() {
	c.cache.Clear()
}
