package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/cart-service/internal/store"
	"golang.org/x/sync/singleflight"
)

const SnapshotKey = "catalog:snapshot"

// SnapshotCache keeps the full product list in the key-value store so related
// item displays do not hit the catalog on every request. Single products are
// always fetched upstream: they carry the stock ceiling.
type SnapshotCache struct {
	upstream Catalog
	kv       store.KeyValueStore
	sfg      singleflight.Group // Prevents cache stampede
	logger   *slog.Logger
}

func NewSnapshotCache(upstream Catalog, kv store.KeyValueStore, logger *slog.Logger) *SnapshotCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotCache{upstream: upstream, kv: kv, logger: logger}
}

func (s *SnapshotCache) FetchProduct(ctx context.Context, id int64) (domain.Product, error) {
	return s.upstream.FetchProduct(ctx, id)
}

func (s *SnapshotCache) FetchCatalog(ctx context.Context) ([]domain.Product, error) {
	data, err := s.kv.Get(ctx, SnapshotKey)
	if err == nil {
		var products []domain.Product
		errDecode := json.Unmarshal(data, &products)
		if errDecode == nil {
			return products, nil
		}
		s.logger.WarnContext(ctx, "cached catalog unreadable, reloading", "error", errDecode)
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.WarnContext(ctx, "catalog cache get error", "error", err) // log cache error but continue
	}
	return s.Refresh(ctx)
}

// Refresh reloads the catalog upstream and overwrites the cached snapshot.
// Concurrent callers share one upstream request.
func (s *SnapshotCache) Refresh(ctx context.Context) ([]domain.Product, error) {
	v, err, _ := s.sfg.Do(SnapshotKey, func() (interface{}, error) {
		products, err := s.upstream.FetchCatalog(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(products)
		if err != nil {
			return nil, fmt.Errorf("marshal catalog snapshot: %w", err)
		}
		if errSet := s.kv.Set(ctx, SnapshotKey, data); errSet != nil {
			s.logger.WarnContext(ctx, "catalog cache set error", "error", errSet)
		}
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Product), nil
}

func (s *SnapshotCache) Invalidate(ctx context.Context) error {
	if err := s.kv.Remove(ctx, SnapshotKey); err != nil {
		return fmt.Errorf("invalidate catalog snapshot: %w", err)
	}
	return nil
}

// Related returns up to limit products sharing a tag with the given product,
// in catalog order. Unknown products have no related items.
func (s *SnapshotCache) Related(ctx context.Context, productID int64, limit int) ([]domain.Product, error) {
	products, err := s.FetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	var self *domain.Product
	for i := range products {
		if products[i].ID == productID {
			self = &products[i]
			break
		}
	}
	if self == nil {
		return nil, nil
	}
	var out []domain.Product
	for _, p := range products {
		if limit > 0 && len(out) >= limit {
			break
		}
		if p.ID != productID && p.StockQuantity > 0 && self.SharesTag(p) {
			out = append(out, p)
		}
	}
	return out, nil
}
