package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/cart-service/internal/reconcile"
)

// CartEventDTO is the badge summary pushed on every cart change.
type CartEventDTO struct {
	Items         int    `json:"items"`
	SelectedCount int    `json:"selected_count"`
	TotalCents    int64  `json:"total_cents"`
	Total         string `json:"total"`
}

// Events streams the cart summary as server-sent events: once on connect and
// again after every change, including changes made by other tabs. Bursts of
// changes collapse into one event carrying the latest state.
func (h *CartHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}

	cart, release := h.cart(r)
	defer release()

	changed := make(chan struct{}, 1)
	unsubscribe := cart.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		c := cart.Cart()
		total := reconcile.Total(c)
		data, err := json.Marshal(CartEventDTO{
			Items:         len(c.Items),
			SelectedCount: reconcile.SelectedCount(c),
			TotalCents:    total,
			Total:         domain.FormatPrice(total),
		})
		if err != nil {
			h.logger.ErrorContext(r.Context(), "failed to encode cart event", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: cart\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		}
	}
}
