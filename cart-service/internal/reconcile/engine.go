// Package reconcile decides how a shopper's current product selection relates
// to the persisted cart and computes the cart that results from confirming it.
// Every function here is pure: carts are taken by value and returned as copies.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/fjod/storefront/cart-service/internal/domain"
)

var (
	ErrZeroQuantity    = errors.New("select at least one unit")
	ErrInvalidQuantity = errors.New("quantity must not be negative")
	ErrOutOfStock      = errors.New("product is out of stock")
	ErrCeilingReached  = errors.New("stock limit reached")
	ErrItemNotFound    = errors.New("item not found in cart")
)

type Classification int

const (
	Absent Classification = iota
	Present
	PresentDifferentQuantity
	PresentDifferentVariant
)

func (c Classification) String() string {
	switch c {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case PresentDifferentQuantity:
		return "present_different_quantity"
	case PresentDifferentVariant:
		return "present_different_variant"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// Action is what the product page offers for a classification.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionView   Action = "view"
)

func (c Classification) Action() Action {
	switch c {
	case Present:
		return ActionView
	case PresentDifferentQuantity, PresentDifferentVariant:
		return ActionUpdate
	default:
		return ActionAdd
	}
}

type Option func(*Engine)

// WithStrictFieldOrder makes two selections with the same custom field answers
// entered in a different order count as different variants.
func WithStrictFieldOrder() Option {
	return func(e *Engine) {
		e.equal = domain.Signature.EqualOrdered
	}
}

type Engine struct {
	equal func(a, b domain.Signature) bool
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{equal: domain.Signature.Equal}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Equal is the signature comparison the engine was configured with.
func (e *Engine) Equal(a, b domain.Signature) bool {
	return e.equal(a, b)
}

// Classify reports how (productID, sig, qty) relates to the cart. An exact
// signature match wins over other variants of the same product.
func (e *Engine) Classify(c domain.Cart, productID int64, sig domain.Signature, qty int) Classification {
	class, _ := e.locate(c, productID, sig, qty)
	return class
}

func (e *Engine) locate(c domain.Cart, productID int64, sig domain.Signature, qty int) (Classification, int) {
	first := -1
	for i, item := range c.Items {
		if item.ProductID != productID {
			continue
		}
		if e.equal(item.Signature, sig) {
			if item.Quantity == qty {
				return Present, i
			}
			return PresentDifferentQuantity, i
		}
		if first < 0 {
			first = i
		}
	}
	if first >= 0 {
		return PresentDifferentVariant, first
	}
	return Absent, -1
}

// Preview classifies the selection the way Commit would see it. The signature is
// validated against the product, or only normalized when it does not validate
// yet, and the quantity is clamped to the product stock. Only an out of stock
// product is an error, so it can run on every input change while the shopper is
// still choosing.
func (e *Engine) Preview(c domain.Cart, p domain.Product, sig domain.Signature, qty int) (Classification, *Notice, error) {
	if p.StockQuantity <= 0 {
		return Absent, nil, fmt.Errorf("%w: product %d", ErrOutOfStock, p.ID)
	}
	if valid, err := sig.Validate(p); err == nil {
		sig = valid
	} else {
		sig = sig.Normalize()
	}

	var notice *Notice
	if qty > p.StockQuantity {
		notice = limitedNotice(p.StockQuantity)
		qty = p.StockQuantity
	}
	return e.Classify(c, p.ID, sig, qty), notice, nil
}

// Result is the outcome of a commit.
type Result struct {
	Cart           domain.Cart
	Classification Classification
	Quantity       int
	Signature      domain.Signature
	Notice         *Notice
	Changed        bool
}

// Commit converges the cart to the selection. The quantity is clamped to the
// product stock first and the classification is computed against the clamped
// value. A product keeps at most one variant after a variant change.
func (e *Engine) Commit(c domain.Cart, p domain.Product, sig domain.Signature, qty int) (Result, error) {
	switch {
	case qty == 0:
		return Result{}, ErrZeroQuantity
	case qty < 0:
		return Result{}, ErrInvalidQuantity
	case p.StockQuantity <= 0:
		return Result{}, fmt.Errorf("%w: product %d", ErrOutOfStock, p.ID)
	}

	sig, err := sig.Validate(p)
	if err != nil {
		return Result{}, err
	}

	var notice *Notice
	if qty > p.StockQuantity {
		notice = limitedNotice(p.StockQuantity)
		qty = p.StockQuantity
	}

	class, at := e.locate(c, p.ID, sig, qty)
	out := c.Clone()
	changed := true

	switch class {
	case Absent:
		out.Items = append(out.Items, newLineItem(p, sig, qty))
	case Present, PresentDifferentQuantity:
		item := &out.Items[at]
		changed = item.Quantity != qty || item.StockCeiling != p.StockQuantity
		item.Quantity = qty
		item.StockCeiling = p.StockQuantity
	case PresentDifferentVariant:
		replacement := newLineItem(p, sig, qty)
		replacement.Selected = out.Items[at].Selected
		items := make([]domain.LineItem, 0, len(out.Items))
		for i, item := range out.Items {
			switch {
			case i == at:
				items = append(items, replacement)
			case item.ProductID == p.ID:
			default:
				items = append(items, item)
			}
		}
		out.Items = items
	}

	if !changed {
		out = c
	}
	return Result{
		Cart:           out,
		Classification: class,
		Quantity:       qty,
		Signature:      sig,
		Notice:         notice,
		Changed:        changed,
	}, nil
}

func newLineItem(p domain.Product, sig domain.Signature, qty int) domain.LineItem {
	return domain.LineItem{
		ProductID:      p.ID,
		Name:           p.Name,
		UnitPriceCents: p.UnitPriceCents,
		ImageURL:       p.ImageURL,
		Quantity:       qty,
		StockCeiling:   p.StockQuantity,
		Signature:      sig,
		Selected:       true,
	}
}
