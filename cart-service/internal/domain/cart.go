package domain

// LineItem is one persisted selection in the cart. Display fields are copied from
// the product when the item is written so the cart renders without the catalog.
type LineItem struct {
	ProductID      int64
	Name           string
	UnitPriceCents int64
	ImageURL       string
	Quantity       int
	StockCeiling   int
	Signature      Signature
	Selected       bool
	Unavailable    bool
}

func (i LineItem) Subtotal() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

// Cart is the ordered list of line items; order is what the shopper sees.
type Cart struct {
	Items []LineItem
}

func (c Cart) Len() int { return len(c.Items) }

// Clone returns a cart whose item slice can be modified without touching c.
func (c Cart) Clone() Cart {
	if c.Items == nil {
		return Cart{}
	}
	items := make([]LineItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items}
}

// ItemsFor returns the indexes of all items for the product, in cart order.
func (c Cart) ItemsFor(productID int64) []int {
	var idx []int
	for i, item := range c.Items {
		if item.ProductID == productID {
			idx = append(idx, i)
		}
	}
	return idx
}
