package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/storefront/cart-service/internal/catalog"
	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/cart-service/internal/reconcile"
	"github.com/fjod/storefront/cart-service/internal/service"
	"github.com/fjod/storefront/cart-service/internal/store"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ProductsMock struct {
	products map[int64]domain.Product
	err      error
}

func (m ProductsMock) FetchProduct(_ context.Context, id int64) (domain.Product, error) {
	if m.err != nil {
		return domain.Product{}, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func (m ProductsMock) FetchCatalog(context.Context) ([]domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m ProductsMock) Related(_ context.Context, id int64, limit int) ([]domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Product
	for _, p := range m.products {
		if p.ID != id && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func shirt() domain.Product {
	return domain.Product{
		ID:             7,
		Name:           "Camiseta Calourada",
		UnitPriceCents: 4500,
		StockQuantity:  10,
		Tags:           []string{"tamanho:P", "tamanho:M", "tipo:unissex"},
		CustomFieldDefs: []domain.CustomFieldDef{
			{Name: "nome", Kind: domain.FieldText},
		},
	}
}

func setupRouter(t *testing.T, products ProductsMock) http.Handler {
	t.Helper()
	sessions, err := service.NewSessions(store.NewMemoryStore(), reconcile.NewEngine(), 16, false, nil)
	require.NoError(t, err)
	t.Cleanup(sessions.Close)
	return NewRouter(NewCartHandler(sessions, products, 5*time.Second, nil), 5*time.Second)
}

func defaultProducts() ProductsMock {
	return ProductsMock{products: map[int64]domain.Product{
		7: shirt(),
		8: {ID: 8, Name: "Caneca", UnitPriceCents: 2000, StockQuantity: 0},
	}}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(SessionHeader, "session-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetCart_NewSession(t *testing.T) {
	h := setupRouter(t, defaultProducts())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(SessionHeader))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	resp := decode[CartResponse](t, rec)
	assert.Empty(t, resp.Items)
	assert.Equal(t, "0.00", resp.Total)
}

func TestCommitItem_Flow(t *testing.T) {
	h := setupRouter(t, defaultProducts())
	selection := SelectionRequestDTO{
		ProductID:    7,
		Quantity:     2,
		Size:         "M",
		CustomFields: domain.Fields{{Name: "nome", Value: "Ana"}},
	}

	rec := do(t, h, http.MethodPost, "/api/v1/cart/classify", selection)
	require.Equal(t, http.StatusOK, rec.Code)
	classified := decode[ClassifyResponse](t, rec)
	assert.Equal(t, "absent", classified.Classification)
	assert.Equal(t, reconcile.ActionAdd, classified.Action)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/items", selection)
	require.Equal(t, http.StatusCreated, rec.Code)
	committed := decode[CommitResponse](t, rec)
	assert.True(t, committed.Changed)
	require.Len(t, committed.Cart.Items, 1)
	item := committed.Cart.Items[0]
	assert.Equal(t, "45.00", item.UnitPrice)
	assert.Equal(t, "90.00", item.Subtotal)
	assert.Equal(t, "M", item.Size)
	assert.Equal(t, 10, item.StockCeiling)
	assert.Equal(t, int64(9000), committed.Cart.TotalCents)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/classify", selection)
	assert.Equal(t, reconcile.ActionView, decode[ClassifyResponse](t, rec).Action)

	selection.Size = "P"
	rec = do(t, h, http.MethodPost, "/api/v1/cart/classify", selection)
	assert.Equal(t, "present_different_variant", decode[ClassifyResponse](t, rec).Classification)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/items", selection)
	require.Equal(t, http.StatusOK, rec.Code)
	committed = decode[CommitResponse](t, rec)
	require.Len(t, committed.Cart.Items, 1)
	assert.Equal(t, "P", committed.Cart.Items[0].Size)

	rec = do(t, h, http.MethodGet, "/api/v1/cart", nil)
	assert.Len(t, decode[CartResponse](t, rec).Items, 1)
}

func TestClassify_MatchesCommit(t *testing.T) {
	h := setupRouter(t, defaultProducts())

	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", SelectionRequestDTO{ProductID: 7, Quantity: 2, Size: "M", Type: "unissex"})
	require.Equal(t, http.StatusCreated, rec.Code)

	variant := SelectionRequestDTO{ProductID: 7, Quantity: 2, Size: "m", Type: "UNISSEX"}
	rec = do(t, h, http.MethodPost, "/api/v1/cart/classify", variant)
	require.Equal(t, http.StatusOK, rec.Code)
	classified := decode[ClassifyResponse](t, rec)
	assert.Equal(t, "present", classified.Classification)
	assert.Equal(t, reconcile.ActionView, classified.Action)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/items", variant)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, classified.Classification, decode[CommitResponse](t, rec).Classification)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/classify", SelectionRequestDTO{ProductID: 8, Quantity: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "out_of_stock", decode[ErrorResponse](t, rec).Code)
}

func TestCommitItem_ClampsToStock(t *testing.T) {
	h := setupRouter(t, defaultProducts())

	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", SelectionRequestDTO{ProductID: 7, Quantity: 15})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[CommitResponse](t, rec)
	assert.Equal(t, 10, resp.Quantity)
	require.NotNil(t, resp.Notice)
	assert.Equal(t, reconcile.NoticeQuantityLimited, resp.Notice.Code)
}

func TestCommitItem_Errors(t *testing.T) {
	tests := []struct {
		name     string
		products ProductsMock
		body     any
		status   int
		code     string
	}{
		{"invalid json", defaultProducts(), "not an object", http.StatusBadRequest, "invalid_request"},
		{"missing product id", defaultProducts(), SelectionRequestDTO{Quantity: 1}, http.StatusBadRequest, "invalid_product_id"},
		{"zero quantity", defaultProducts(), SelectionRequestDTO{ProductID: 7}, http.StatusUnprocessableEntity, "zero_quantity"},
		{"negative quantity", defaultProducts(), SelectionRequestDTO{ProductID: 7, Quantity: -1}, http.StatusBadRequest, "invalid_quantity"},
		{"out of stock", defaultProducts(), SelectionRequestDTO{ProductID: 8, Quantity: 1}, http.StatusConflict, "out_of_stock"},
		{"unknown size", defaultProducts(), SelectionRequestDTO{ProductID: 7, Quantity: 1, Size: "XG"}, http.StatusBadRequest, "invalid_selection"},
		{"unknown product", defaultProducts(), SelectionRequestDTO{ProductID: 99, Quantity: 1}, http.StatusNotFound, "product_not_found"},
		{
			"catalog down",
			ProductsMock{err: fmt.Errorf("%w: catalog-product", circuitbreaker.ErrUnavailable)},
			SelectionRequestDTO{ProductID: 7, Quantity: 1},
			http.StatusServiceUnavailable, "service_unavailable",
		},
		{
			"unexpected",
			ProductsMock{err: fmt.Errorf("boom")},
			SelectionRequestDTO{ProductID: 7, Quantity: 1},
			http.StatusInternalServerError, "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupRouter(t, tt.products)
			rec := do(t, h, http.MethodPost, "/api/v1/cart/items", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestQuantityEndpoints(t *testing.T) {
	products := defaultProducts()
	p := products.products[7]
	p.StockQuantity = 3
	products.products[7] = p
	h := setupRouter(t, products)

	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", SelectionRequestDTO{ProductID: 7, Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/items/0/increment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[AdjustResponse](t, rec).Quantity)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/items/0/increment", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "stock_limit_reached", decode[ErrorResponse](t, rec).Code)

	rec = do(t, h, http.MethodPut, "/api/v1/cart/items/0", UpdateQuantityRequestDTO{Quantity: 50})
	require.Equal(t, http.StatusOK, rec.Code)
	adj := decode[AdjustResponse](t, rec)
	assert.Equal(t, 3, adj.Quantity)
	assert.NotNil(t, adj.Notice)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/items/0/decrement", nil)
	assert.Equal(t, 2, decode[AdjustResponse](t, rec).Quantity)

	rec = do(t, h, http.MethodPut, "/api/v1/cart/items/0", UpdateQuantityRequestDTO{Quantity: 0})
	adj = decode[AdjustResponse](t, rec)
	assert.True(t, adj.Removed)
	assert.Empty(t, adj.Cart.Items)

	rec = do(t, h, http.MethodDelete, "/api/v1/cart/items/0", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "item_not_found", decode[ErrorResponse](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/api/v1/cart/items/abc/increment", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectionAndSweeps(t *testing.T) {
	products := defaultProducts()
	products.products[9] = domain.Product{ID: 9, Name: "Moletom", UnitPriceCents: 12000, StockQuantity: 2}
	products.products[10] = domain.Product{ID: 10, Name: "Boné", UnitPriceCents: 3000, StockQuantity: 5}
	h := setupRouter(t, products)

	for _, id := range []int64{7, 9, 10} {
		rec := do(t, h, http.MethodPost, "/api/v1/cart/items", SelectionRequestDTO{ProductID: id, Quantity: 1})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, h, http.MethodPut, "/api/v1/cart/items/1/selected", SelectRequestDTO{Selected: false})
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decode[CartResponse](t, rec)
	assert.Equal(t, 2, cart.SelectedCount)
	assert.Equal(t, "75.00", cart.Total)

	// the moletom sells out
	sold := products.products[9]
	sold.StockQuantity = 0
	products.products[9] = sold

	rec = do(t, h, http.MethodPost, "/api/v1/cart/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cart = decode[CartResponse](t, rec)
	assert.True(t, cart.Items[1].Unavailable)

	rec = do(t, h, http.MethodDelete, "/api/v1/cart/unavailable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	removed := decode[RemovedResponse](t, rec)
	assert.Equal(t, 1, removed.Removed)
	assert.Len(t, removed.Cart.Items, 2)

	rec = do(t, h, http.MethodDelete, "/api/v1/cart/selected", nil)
	removed = decode[RemovedResponse](t, rec)
	assert.Equal(t, 2, removed.Removed)
	assert.Empty(t, removed.Cart.Items)
}

func TestSessionsAreIsolated(t *testing.T) {
	h := setupRouter(t, defaultProducts())

	rec := do(t, h, http.MethodPost, "/api/v1/cart/items", SelectionRequestDTO{ProductID: 7, Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(SessionHeader, "session-2")
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)

	assert.Equal(t, "session-2", other.Header().Get(SessionHeader))
	assert.Empty(t, decode[CartResponse](t, other).Items)
}

func TestEvents_StreamsCartChanges(t *testing.T) {
	srv := httptest.NewServer(setupRouter(t, defaultProducts()))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/cart/events", nil)
	require.NoError(t, err)
	req.Header.Set(SessionHeader, "session-1")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := bufio.NewScanner(resp.Body)
	next := func() CartEventDTO {
		t.Helper()
		for events.Scan() {
			line := events.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var ev CartEventDTO
				require.NoError(t, json.Unmarshal([]byte(data), &ev))
				return ev
			}
		}
		t.Fatalf("event stream ended: %v", events.Err())
		return CartEventDTO{}
	}

	assert.Equal(t, CartEventDTO{Total: "0.00"}, next())

	body, err := json.Marshal(SelectionRequestDTO{ProductID: 7, Quantity: 2})
	require.NoError(t, err)
	post, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/cart/items", bytes.NewReader(body))
	require.NoError(t, err)
	post.Header.Set(SessionHeader, "session-1")
	committed, err := srv.Client().Do(post)
	require.NoError(t, err)
	committed.Body.Close()
	require.Equal(t, http.StatusCreated, committed.StatusCode)

	assert.Equal(t, CartEventDTO{Items: 1, SelectedCount: 1, TotalCents: 9000, Total: "90.00"}, next())
}

func TestRelated(t *testing.T) {
	h := setupRouter(t, defaultProducts())

	rec := do(t, h, http.MethodGet, "/api/v1/products/7/related?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ProductsResponse](t, rec)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, int64(8), resp.Products[0].ID)
	assert.Equal(t, "20.00", resp.Products[0].Price)

	rec = do(t, h, http.MethodGet, "/api/v1/products/x/related", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/products/7/related?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h := setupRouter(t, defaultProducts())
	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
