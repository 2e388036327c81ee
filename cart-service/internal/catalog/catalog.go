package catalog

import (
	"context"
	"errors"

	"github.com/fjod/storefront/cart-service/internal/domain"
)

var ErrProductNotFound = errors.New("product not found")

// Catalog is the read-only product source the cart depends on.
type Catalog interface {
	FetchProduct(ctx context.Context, id int64) (domain.Product, error)
	FetchCatalog(ctx context.Context) ([]domain.Product, error)
}
