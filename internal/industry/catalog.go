package industry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"minmatar-fleet/internal/esi"
	"minmatar-fleet/internal/logger"
	"minmatar-fleet/internal/metrics"
	"minmatar-fleet/internal/sde"
)

const (
	defaultTypeCacheSize = 4096
	defaultTypeCacheTTL  = time.Hour
)

// Catalog resolves type IDs to EveTypes. Lookups go to the loaded SDE first,
// then a bounded in-memory cache, then the type store, then ESI. Types fetched
// from ESI are written back to the store and the memory cache.
type Catalog struct {
	sde    *sde.Data
	memory *expirable.LRU[int32, EveType]
	store  TypeStore
	esi    esi.TypeClient
}

// NewCatalog creates a catalog. Any source may be nil.
func NewCatalog(data *sde.Data, store TypeStore, client esi.TypeClient, size int, ttl time.Duration) *Catalog {
	if size <= 0 {
		size = defaultTypeCacheSize
	}
	if ttl <= 0 {
		ttl = defaultTypeCacheTTL
	}
	return &Catalog{
		sde:    data,
		memory: expirable.NewLRU[int32, EveType](size, nil, ttl),
		store:  store,
		esi:    client,
	}
}

// Type returns the type with the given ID or an error wrapping ErrTypeNotFound.
func (c *Catalog) Type(ctx context.Context, typeID int32) (EveType, error) {
	if c.sde != nil {
		if t, ok := c.sde.Types[typeID]; ok {
			metrics.TypeLookupsTotal.WithLabelValues(metrics.TierSDE).Inc()
			return EveType{ID: t.ID, Name: t.Name, GroupID: t.GroupID, CategoryID: t.CategoryID}, nil
		}
	}

	if t, ok := c.memory.Get(typeID); ok {
		metrics.TypeLookupsTotal.WithLabelValues(metrics.TierMemory).Inc()
		return t, nil
	}

	if c.store != nil {
		t, ok, err := c.store.LookupEveType(ctx, typeID)
		if err != nil {
			return EveType{}, fmt.Errorf("lookup type %d: %w", typeID, err)
		}
		if ok {
			metrics.TypeLookupsTotal.WithLabelValues(metrics.TierStore).Inc()
			c.memory.Add(typeID, *t)
			return *t, nil
		}
	}

	if c.esi != nil {
		info, err := c.esi.GetType(ctx, typeID)
		switch {
		case errors.Is(err, esi.ErrNotFound):
		case err != nil:
			return EveType{}, fmt.Errorf("fetch type %d: %w", typeID, err)
		default:
			metrics.TypeLookupsTotal.WithLabelValues(metrics.TierESI).Inc()
			t := EveType{ID: typeID, Name: info.Name, GroupID: info.GroupID, CategoryID: info.CategoryID}
			if c.store != nil {
				if err := c.store.SaveEveType(ctx, t); err != nil {
					logger.Warn("Catalog", fmt.Sprintf("save type %d: %v", typeID, err))
				}
			}
			c.memory.Add(typeID, t)
			return t, nil
		}
	}

	metrics.TypeLookupsTotal.WithLabelValues(metrics.TierMiss).Inc()
	return EveType{}, fmt.Errorf("type %d: %w", typeID, ErrTypeNotFound)
}

// Name returns the type name, or an empty string when unknown.
func (c *Catalog) Name(ctx context.Context, typeID int32) string {
	t, err := c.Type(ctx, typeID)
	if err != nil {
		return ""
	}
	return t.Name
}
