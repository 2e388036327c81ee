package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/cart-service/internal/catalog"
	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/cart-service/internal/reconcile"
	"github.com/fjod/storefront/cart-service/internal/service"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/go-chi/chi/v5"
)

// CartProvider hands out the cart of a session. The returned func releases it.
type CartProvider interface {
	Get(ctx context.Context, sessionID string) (*service.CartService, func())
}

// ProductSource is the catalog as the handlers see it.
type ProductSource interface {
	catalog.Catalog
	Related(ctx context.Context, productID int64, limit int) ([]domain.Product, error)
}

const defaultRelatedLimit = 4

type CartHandler struct {
	sessions CartProvider
	products ProductSource
	timeout  time.Duration
	logger   *slog.Logger
}

func NewCartHandler(sessions CartProvider, products ProductSource, timeout time.Duration, logger *slog.Logger) *CartHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartHandler{
		sessions: sessions,
		products: products,
		timeout:  timeout,
		logger:   logger,
	}
}

type SelectionRequestDTO struct {
	ProductID    int64         `json:"product_id"`
	Quantity     int           `json:"quantity"`
	Size         string        `json:"size,omitempty"`
	Type         string        `json:"type,omitempty"`
	CustomFields domain.Fields `json:"custom_fields,omitempty"`
}

func (r SelectionRequestDTO) signature() domain.Signature {
	return domain.Signature{Size: r.Size, Type: r.Type, Fields: r.CustomFields}
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type SelectRequestDTO struct {
	Selected bool `json:"selected"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type CartItemResponse struct {
	Index        int           `json:"index"`
	ProductID    int64         `json:"product_id"`
	Name         string        `json:"name"`
	UnitPrice    string        `json:"unit_price"`
	ImageURL     string        `json:"image_url,omitempty"`
	Quantity     int           `json:"quantity"`
	StockCeiling int           `json:"stock_ceiling"`
	Size         string        `json:"size,omitempty"`
	Type         string        `json:"type,omitempty"`
	CustomFields domain.Fields `json:"custom_fields,omitempty"`
	Selected     bool          `json:"selected"`
	Unavailable  bool          `json:"unavailable"`
	Subtotal     string        `json:"subtotal"`
}

type CartResponse struct {
	Items         []CartItemResponse `json:"items"`
	TotalCents    int64              `json:"total_cents"`
	Total         string             `json:"total"`
	SelectedCount int                `json:"selected_count"`
}

type ClassifyResponse struct {
	Classification string            `json:"classification"`
	Action         reconcile.Action  `json:"action"`
	Notice         *reconcile.Notice `json:"notice,omitempty"`
}

type CommitResponse struct {
	Classification string            `json:"classification"`
	Quantity       int               `json:"quantity"`
	Changed        bool              `json:"changed"`
	Notice         *reconcile.Notice `json:"notice,omitempty"`
	Cart           CartResponse      `json:"cart"`
}

type AdjustResponse struct {
	Quantity int               `json:"quantity"`
	Removed  bool              `json:"removed"`
	Notice   *reconcile.Notice `json:"notice,omitempty"`
	Cart     CartResponse      `json:"cart"`
}

type RemovedResponse struct {
	Removed int          `json:"removed"`
	Cart    CartResponse `json:"cart"`
}

type ProductResponse struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Price         string   `json:"price"`
	StockQuantity int      `json:"stock_quantity"`
	ImageURL      string   `json:"image_url,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

type ProductsResponse struct {
	Products []ProductResponse `json:"products"`
}

func toCartResponse(c domain.Cart) CartResponse {
	items := make([]CartItemResponse, len(c.Items))
	for i, item := range c.Items {
		items[i] = CartItemResponse{
			Index:        i,
			ProductID:    item.ProductID,
			Name:         item.Name,
			UnitPrice:    domain.FormatPrice(item.UnitPriceCents),
			ImageURL:     item.ImageURL,
			Quantity:     item.Quantity,
			StockCeiling: item.StockCeiling,
			Size:         item.Signature.Size,
			Type:         item.Signature.Type,
			CustomFields: item.Signature.Fields,
			Selected:     item.Selected,
			Unavailable:  item.Unavailable,
			Subtotal:     domain.FormatPrice(item.Subtotal()),
		}
	}
	total := reconcile.Total(c)
	return CartResponse{
		Items:         items,
		TotalCents:    total,
		Total:         domain.FormatPrice(total),
		SelectedCount: reconcile.SelectedCount(c),
	}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, release := h.cart(r)
	defer release()
	respondJSON(w, http.StatusOK, toCartResponse(cart.Cart()))
}

// Classify tells the product page whether the current selection is already in
// the cart. It is called on every change of the selection and never mutates.
func (h *CartHandler) Classify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	req, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	product, err := h.products.FetchProduct(ctx, req.ProductID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	cart, release := h.cart(r)
	defer release()
	class, notice, err := cart.Classify(product, req.signature(), req.Quantity)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ClassifyResponse{
		Classification: class.String(),
		Action:         class.Action(),
		Notice:         notice,
	})
}

func (h *CartHandler) CommitItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	req, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	product, err := h.products.FetchProduct(ctx, req.ProductID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	cart, release := h.cart(r)
	defer release()
	res, err := cart.Commit(ctx, product, req.signature(), req.Quantity)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Classification == reconcile.Absent {
		status = http.StatusCreated
	}
	respondJSON(w, status, CommitResponse{
		Classification: res.Classification.String(),
		Quantity:       res.Quantity,
		Changed:        res.Changed,
		Notice:         res.Notice,
		Cart:           toCartResponse(res.Cart),
	})
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	h.respondAdjustment(w, r, func(ctx context.Context, cart *service.CartService) (reconcile.Adjustment, error) {
		return cart.SetQuantity(ctx, index, req.Quantity)
	})
}

func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	h.respondAdjustment(w, r, func(ctx context.Context, cart *service.CartService) (reconcile.Adjustment, error) {
		return cart.Increment(ctx, index)
	})
}

func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	h.respondAdjustment(w, r, func(ctx context.Context, cart *service.CartService) (reconcile.Adjustment, error) {
		return cart.Decrement(ctx, index)
	})
}

func (h *CartHandler) respondAdjustment(w http.ResponseWriter, r *http.Request, fn func(context.Context, *service.CartService) (reconcile.Adjustment, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, release := h.cart(r)
	defer release()
	adj, err := fn(ctx, cart)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, AdjustResponse{
		Quantity: adj.Quantity,
		Removed:  adj.Removed,
		Notice:   adj.Notice,
		Cart:     toCartResponse(adj.Cart),
	})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	cart, release := h.cart(r)
	defer release()
	if err := cart.Remove(ctx, index); err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart.Cart()))
}

func (h *CartHandler) SetSelected(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	var req SelectRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cart, release := h.cart(r)
	defer release()
	if err := cart.SetSelected(index, req.Selected); err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart.Cart()))
}

func (h *CartHandler) RemoveSelected(w http.ResponseWriter, r *http.Request) {
	h.respondSweep(w, r, (*service.CartService).RemoveSelected)
}

func (h *CartHandler) RemoveUnavailable(w http.ResponseWriter, r *http.Request) {
	h.respondSweep(w, r, (*service.CartService).RemoveUnavailable)
}

func (h *CartHandler) respondSweep(w http.ResponseWriter, r *http.Request, sweep func(*service.CartService, context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, release := h.cart(r)
	defer release()
	removed, err := sweep(cart, ctx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, RemovedResponse{Removed: removed, Cart: toCartResponse(cart.Cart())})
}

// RefreshAvailability marks items whose product left the catalog or ran out of
// stock. The flag is display state only and is not persisted.
func (h *CartHandler) RefreshAvailability(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.products.FetchCatalog(ctx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	cart, release := h.cart(r)
	defer release()
	cart.RefreshAvailability(products)
	respondJSON(w, http.StatusOK, toCartResponse(cart.Cart()))
}

func (h *CartHandler) Related(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be positive")
		return
	}
	limit := defaultRelatedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be positive")
			return
		}
	}

	related, err := h.products.Related(ctx, productID, limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	products := make([]ProductResponse, len(related))
	for i, p := range related {
		products[i] = ProductResponse{
			ID:            p.ID,
			Name:          p.Name,
			Price:         domain.FormatPrice(p.UnitPriceCents),
			StockQuantity: p.StockQuantity,
			ImageURL:      p.ImageURL,
			Tags:          p.Tags,
		}
	}
	respondJSON(w, http.StatusOK, &ProductsResponse{Products: products})
}

func (h *CartHandler) cart(r *http.Request) (*service.CartService, func()) {
	return h.sessions.Get(r.Context(), getSessionID(r.Context()))
}

func decodeSelection(w http.ResponseWriter, r *http.Request) (SelectionRequestDTO, bool) {
	var req SelectionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return req, false
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return req, false
	}
	return req, true
}

func parseIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "invalid_index", "index must be a non-negative integer")
		return 0, false
	}
	return index, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps domain errors to HTTP status codes.
func (h *CartHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, reconcile.ErrZeroQuantity):
		httpStatus = http.StatusUnprocessableEntity
		code = "zero_quantity"
	case errors.Is(err, reconcile.ErrInvalidQuantity):
		httpStatus = http.StatusBadRequest
		code = "invalid_quantity"
	case errors.Is(err, domain.ErrInvalidSignature):
		httpStatus = http.StatusBadRequest
		code = "invalid_selection"
	case errors.Is(err, reconcile.ErrOutOfStock):
		httpStatus = http.StatusConflict
		code = "out_of_stock"
	case errors.Is(err, reconcile.ErrCeilingReached):
		httpStatus = http.StatusConflict
		code = "stock_limit_reached"
	case errors.Is(err, catalog.ErrProductNotFound):
		httpStatus = http.StatusNotFound
		code = "product_not_found"
	case errors.Is(err, reconcile.ErrItemNotFound):
		httpStatus = http.StatusNotFound
		code = "item_not_found"
	case errors.Is(err, circuitbreaker.ErrUnavailable):
		httpStatus = http.StatusServiceUnavailable
		code = "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	default:
		h.logger.ErrorContext(r.Context(), "cart request failed",
			"error", err, "request_id", getRequestID(r.Context()), "path", r.URL.Path)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}
