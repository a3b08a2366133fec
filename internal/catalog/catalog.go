package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/foodvoter/backend/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrRetrieval indicates the candidate fetch failed and no cached sequence
// was available for an equivalent query.
var ErrRetrieval = errors.New("catalog: candidate retrieval failed")

var errMissingProvider = errors.New("catalog: search provider is required")

// SearchProvider is the external business search boundary.
type SearchProvider interface {
	Search(ctx context.Context, query Query) ([]Business, error)
}

// CatalogConfig describes the catalog's dependencies.
type CatalogConfig struct {
	Provider SearchProvider
	Logger   *zap.Logger
}

// Catalog fetches and caches candidate businesses per normalized query.
// Results are deduplicated by external identifier and exposed in a stable
// order. On provider failure the previously cached sequence for an
// equivalent query is served instead; with no cache the failure surfaces
// as ErrRetrieval. Concurrent fetches for the same query collapse into a
// single provider call.
type Catalog struct {
	provider SearchProvider
	logger   *zap.Logger
	group    singleflight.Group

	mu    sync.Mutex
	cache map[string][]Business
}

// NewCatalog constructs the catalog.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		provider: cfg.Provider,
		logger:   logger,
		cache:    make(map[string][]Business),
	}, nil
}

// Fetch returns the candidate sequence for the query. Callers on the same
// query share one upstream call; late joiners receive the shared result or
// bail out when their own context ends.
func (c *Catalog) Fetch(ctx context.Context, query Query) ([]Business, error) {
	key := query.normalized()

	resultCh := c.group.DoChan(key, func() (interface{}, error) {
		businesses, err := c.fetchAndCache(ctx, key, query)
		return businesses, err
	})
	select {
	case result := <-resultCh:
		if result.Err != nil {
			return nil, result.Err
		}
		return copyBusinesses(result.Val.([]Business)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Catalog) fetchAndCache(ctx context.Context, key string, query Query) ([]Business, error) {
	fetched, err := c.provider.Search(ctx, query)
	if err == nil {
		deduplicated := dedupe(fetched)
		c.mu.Lock()
		c.cache[key] = deduplicated
		c.mu.Unlock()
		metrics.IncCatalogFetch("upstream")
		return deduplicated, nil
	}

	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()
	if ok {
		c.logger.Warn("candidate fetch failed, serving cached sequence",
			zap.String("query", key), zap.Error(err))
		metrics.IncCatalogFetch("stale_cache")
		return cached, nil
	}

	c.logger.Warn("candidate fetch failed with no cache",
		zap.String("query", key), zap.Error(err))
	metrics.IncCatalogFetch("error")
	return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
}

// dedupe removes duplicate external identifiers, as the provider may repeat
// businesses across paginated calls, and sorts by identifier so every
// participant derives the same candidate ordering.
func dedupe(businesses []Business) []Business {
	seen := make(map[string]struct{}, len(businesses))
	unique := make([]Business, 0, len(businesses))
	for _, business := range businesses {
		if business.ID == "" {
			continue
		}
		if _, ok := seen[business.ID]; ok {
			continue
		}
		seen[business.ID] = struct{}{}
		unique = append(unique, business)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].ID < unique[j].ID })
	return unique
}

func copyBusinesses(businesses []Business) []Business {
	if businesses == nil {
		return nil
	}
	return append([]Business(nil), businesses...)
}
