package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjod/storefront/product-service/internal/domain"
	"github.com/fjod/storefront/product-service/internal/repository"
	"github.com/go-chi/chi/v5"
)

// ProductHandler serves the read-only catalog API.
type ProductHandler struct {
	repo   repository.RepoInterface
	logger *slog.Logger
}

func NewProductHandler(repo repository.RepoInterface, logger *slog.Logger) *ProductHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductHandler{
		repo:   repo,
		logger: logger,
	}
}

type ProductResponse struct {
	ID            int64                `json:"id"`
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	Price         string               `json:"price"`
	StockQuantity int                  `json:"stock_quantity"`
	ImageURL      string               `json:"image_url"`
	Tags          []string             `json:"tags"`
	CustomFields  []domain.CustomField `json:"custom_fields"`
	CreatedAt     string               `json:"created_at"`
}

type ProductsResponse struct {
	Products []ProductResponse `json:"products"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func toResponse(p *domain.Product) ProductResponse {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	fields := p.CustomFields
	if fields == nil {
		fields = []domain.CustomField{}
	}
	return ProductResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price.StringFixed(2),
		StockQuantity: p.StockQuantity,
		ImageURL:      p.ImageURL,
		Tags:          tags,
		CustomFields:  fields,
		CreatedAt:     p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.GetAllProducts(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to fetch products", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to fetch products")
		return
	}

	out := make([]ProductResponse, len(products))
	for i, p := range products {
		out[i] = toResponse(p)
	}
	respondJSON(w, http.StatusOK, ProductsResponse{Products: out})
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be positive")
		return
	}

	product, err := h.repo.GetProduct(r.Context(), id)
	if errors.Is(err, repository.ErrProductNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "product not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to fetch product", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to fetch product")
		return
	}
	respondJSON(w, http.StatusOK, toResponse(product))
}

// NewRouter mounts the catalog routes.
func NewRouter(h *ProductHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
	})
	return r
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}
