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

	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// productDTO mirrors the product-service JSON.
type productDTO struct {
	ID            int64                   `json:"id"`
	Name          string                  `json:"name"`
	Price         string                  `json:"price"`
	StockQuantity int                     `json:"stock_quantity"`
	ImageURL      string                  `json:"image_url"`
	Tags          []string                `json:"tags"`
	CustomFields  []domain.CustomFieldDef `json:"custom_fields"`
}

func (d productDTO) toDomain() (domain.Product, error) {
	cents, err := domain.ParsePrice(d.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %d: %w", d.ID, err)
	}
	stock := d.StockQuantity
	if stock < 0 {
		stock = 0
	}
	return domain.Product{
		ID:              d.ID,
		Name:            d.Name,
		UnitPriceCents:  cents,
		StockQuantity:   stock,
		ImageURL:        d.ImageURL,
		CustomFieldDefs: d.CustomFields,
		Tags:            d.Tags,
	}, nil
}

// HTTPClient talks to product-service. Calls go through a circuit breaker so a
// failing catalog is shed quickly; not-found answers do not count as failures.
type HTTPClient struct {
	baseURL  string
	http     *http.Client
	product  *circuitbreaker.Breaker[domain.Product]
	products *circuitbreaker.Breaker[[]domain.Product]
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	cfg := circuitbreaker.DefaultConfig()
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrProductNotFound)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		product:  circuitbreaker.New[domain.Product]("catalog-product", cfg, logger),
		products: circuitbreaker.New[[]domain.Product]("catalog-list", cfg, logger),
	}
}

func (c *HTTPClient) FetchProduct(ctx context.Context, id int64) (domain.Product, error) {
	return c.product.Execute(func() (domain.Product, error) {
		var dto productDTO
		if err := c.get(ctx, fmt.Sprintf("/api/v1/products/%d", id), &dto); err != nil {
			return domain.Product{}, err
		}
		return dto.toDomain()
	})
}

func (c *HTTPClient) FetchCatalog(ctx context.Context) ([]domain.Product, error) {
	return c.products.Execute(func() ([]domain.Product, error) {
		var body struct {
			Products []productDTO `json:"products"`
		}
		if err := c.get(ctx, "/api/v1/products", &body); err != nil {
			return nil, err
		}
		out := make([]domain.Product, 0, len(body.Products))
		for _, dto := range body.Products {
			p, err := dto.toDomain()
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	})
}

func (c *HTTPClient) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrProductNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("catalog returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}
