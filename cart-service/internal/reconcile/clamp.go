package reconcile

import (
	"fmt"

	"github.com/fjod/storefront/cart-service/internal/domain"
)

// Notice is a non-fatal message for the shopper.
type Notice struct {
	Code    string `json:"code"`
	Limit   int    `json:"limit"`
	Message string `json:"message"`
}

const NoticeQuantityLimited = "quantity_limited"

func limitedNotice(limit int) *Notice {
	return &Notice{
		Code:    NoticeQuantityLimited,
		Limit:   limit,
		Message: fmt.Sprintf("limited to %d units", limit),
	}
}

// Adjustment is the outcome of a quantity change on an existing line item.
type Adjustment struct {
	Cart     domain.Cart
	Item     domain.LineItem
	Previous int
	Quantity int
	Removed  bool
	Notice   *Notice
}

// Increment adds one unit unless the item is already at its stock ceiling.
func Increment(c domain.Cart, index int) (Adjustment, error) {
	if err := checkIndex(c, index); err != nil {
		return Adjustment{}, err
	}
	item := c.Items[index]
	if item.Quantity+1 > item.StockCeiling {
		return Adjustment{}, fmt.Errorf("%w: %d of %d", ErrCeilingReached, item.Quantity, item.StockCeiling)
	}
	return SetQuantity(c, index, item.Quantity+1)
}

// Decrement removes one unit; the item leaves the cart when none is left.
func Decrement(c domain.Cart, index int) (Adjustment, error) {
	if err := checkIndex(c, index); err != nil {
		return Adjustment{}, err
	}
	return SetQuantity(c, index, c.Items[index].Quantity-1)
}

// SetQuantity clamps n into [0, ceiling]. Zero removes the item.
func SetQuantity(c domain.Cart, index, n int) (Adjustment, error) {
	if err := checkIndex(c, index); err != nil {
		return Adjustment{}, err
	}
	item := c.Items[index]

	var notice *Notice
	if n > item.StockCeiling {
		n = item.StockCeiling
		notice = limitedNotice(item.StockCeiling)
	}
	if n < 0 {
		n = 0
	}

	if n == 0 {
		out, _ := Remove(c, index)
		prev := item.Quantity
		item.Quantity = 0
		return Adjustment{Cart: out, Item: item, Previous: prev, Removed: true, Notice: notice}, nil
	}

	out := c.Clone()
	out.Items[index].Quantity = n
	return Adjustment{Cart: out, Item: out.Items[index], Previous: item.Quantity, Quantity: n, Notice: notice}, nil
}

// Remove deletes the item at index, preserving the order of the rest.
func Remove(c domain.Cart, index int) (domain.Cart, error) {
	if err := checkIndex(c, index); err != nil {
		return c, err
	}
	items := make([]domain.LineItem, 0, len(c.Items)-1)
	items = append(items, c.Items[:index]...)
	items = append(items, c.Items[index+1:]...)
	if len(items) == 0 {
		items = nil
	}
	return domain.Cart{Items: items}, nil
}

func checkIndex(c domain.Cart, index int) error {
	if index < 0 || index >= len(c.Items) {
		return fmt.Errorf("%w: index %d", ErrItemNotFound, index)
	}
	return nil
}
