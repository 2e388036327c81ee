package reconcile

import "github.com/fjod/storefront/cart-service/internal/domain"

// Total sums price * quantity over the items selected for checkout, in cents.
func Total(c domain.Cart) int64 {
	var total int64
	for _, item := range c.Items {
		if item.Selected {
			total += item.Subtotal()
		}
	}
	return total
}

// Count returns how many selected items satisfy pred. A nil pred counts all
// selected items.
func Count(c domain.Cart, pred func(domain.LineItem) bool) int {
	n := 0
	for _, item := range c.Items {
		if item.Selected && (pred == nil || pred(item)) {
			n++
		}
	}
	return n
}

func SelectedCount(c domain.Cart) int {
	return Count(c, nil)
}

func Filter(c domain.Cart, keep func(domain.LineItem) bool) domain.Cart {
	var items []domain.LineItem
	for _, item := range c.Items {
		if keep(item) {
			items = append(items, item)
		}
	}
	return domain.Cart{Items: items}
}

func WithoutZeroQuantity(c domain.Cart) domain.Cart {
	return Filter(c, func(item domain.LineItem) bool { return item.Quantity > 0 })
}

func RemoveSelected(c domain.Cart) domain.Cart {
	return Filter(c, func(item domain.LineItem) bool { return !item.Selected })
}

func RemoveUnavailable(c domain.Cart) domain.Cart {
	return Filter(c, func(item domain.LineItem) bool { return !item.Unavailable })
}

// MarkAvailability flags items whose product is no longer in the catalog or has
// no stock left. Items are kept; the shopper removes them explicitly.
func MarkAvailability(c domain.Cart, catalog []domain.Product) domain.Cart {
	stock := make(map[int64]int, len(catalog))
	for _, p := range catalog {
		stock[p.ID] = p.StockQuantity
	}
	out := c.Clone()
	for i := range out.Items {
		s, ok := stock[out.Items[i].ProductID]
		out.Items[i].Unavailable = !ok || s <= 0
	}
	return out
}
