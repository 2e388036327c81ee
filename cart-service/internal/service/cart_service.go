package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/cart-service/internal/reconcile"
	"github.com/fjod/storefront/cart-service/internal/store"
)

var ErrWatchUnsupported = errors.New("store does not report changes from other writers")

func CartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// CartService owns one shopper's cart. Every successful mutation is written to
// the store before it becomes visible, and observers are told afterwards.
type CartService struct {
	mu     sync.Mutex
	kv     store.KeyValueStore
	engine *reconcile.Engine
	key    string
	cart   domain.Cart

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int

	logger *slog.Logger
}

func NewCartService(kv store.KeyValueStore, engine *reconcile.Engine, key string, logger *slog.Logger) *CartService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartService{
		kv:        kv,
		engine:    engine,
		key:       key,
		observers: make(map[int]func()),
		logger:    logger.With("cart_key", key),
	}
}

// Load hydrates the cart from the store. Missing or unreadable data yields an
// empty cart; the problem is logged, never returned.
func (s *CartService) Load(ctx context.Context) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.ErrorContext(ctx, "cart load failed, starting empty", "error", err)
	}

	cart := s.decode(ctx, data)
	s.mu.Lock()
	s.cart = cart
	s.mu.Unlock()
}

func (s *CartService) decode(ctx context.Context, data []byte) domain.Cart {
	if data == nil {
		return domain.Cart{}
	}
	cart, err := domain.DecodeCart(data)
	if err != nil {
		s.logger.WarnContext(ctx, "persisted cart unreadable, starting empty", "error", err)
		return domain.Cart{}
	}
	cart, repairs := domain.Sanitize(cart, s.engine.Equal)
	for _, r := range repairs {
		s.logger.WarnContext(ctx, "persisted cart repaired", "product_id", r.ProductID, "reason", r.Reason)
	}
	return cart
}

func (s *CartService) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

func (s *CartService) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reconcile.Total(s.cart)
}

func (s *CartService) SelectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reconcile.SelectedCount(s.cart)
}

// Classify previews the selection against the current cart.
func (s *CartService) Classify(p domain.Product, sig domain.Signature, qty int) (reconcile.Classification, *reconcile.Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Preview(s.cart, p, sig, qty)
}

func (s *CartService) Commit(ctx context.Context, p domain.Product, sig domain.Signature, qty int) (reconcile.Result, error) {
	var res reconcile.Result
	err := s.mutate(ctx, func(c domain.Cart) (domain.Cart, bool, error) {
		var err error
		res, err = s.engine.Commit(c, p, sig, qty)
		return res.Cart, res.Changed, err
	})
	if err != nil {
		return reconcile.Result{}, err
	}
	s.logger.DebugContext(ctx, "selection committed",
		"product_id", p.ID, "classification", res.Classification.String(), "quantity", res.Quantity)
	return res, nil
}

func (s *CartService) Increment(ctx context.Context, index int) (reconcile.Adjustment, error) {
	return s.adjust(ctx, func(c domain.Cart) (reconcile.Adjustment, error) {
		return reconcile.Increment(c, index)
	})
}

func (s *CartService) Decrement(ctx context.Context, index int) (reconcile.Adjustment, error) {
	return s.adjust(ctx, func(c domain.Cart) (reconcile.Adjustment, error) {
		return reconcile.Decrement(c, index)
	})
}

func (s *CartService) SetQuantity(ctx context.Context, index, n int) (reconcile.Adjustment, error) {
	return s.adjust(ctx, func(c domain.Cart) (reconcile.Adjustment, error) {
		return reconcile.SetQuantity(c, index, n)
	})
}

func (s *CartService) adjust(ctx context.Context, fn func(domain.Cart) (reconcile.Adjustment, error)) (reconcile.Adjustment, error) {
	var adj reconcile.Adjustment
	err := s.mutate(ctx, func(c domain.Cart) (domain.Cart, bool, error) {
		var err error
		adj, err = fn(c)
		if err != nil {
			return c, false, err
		}
		return adj.Cart, adj.Removed || adj.Previous != adj.Quantity, nil
	})
	return adj, err
}

func (s *CartService) Remove(ctx context.Context, index int) error {
	return s.mutate(ctx, func(c domain.Cart) (domain.Cart, bool, error) {
		out, err := reconcile.Remove(c, index)
		return out, err == nil, err
	})
}

// RemoveSelected drops every item selected for checkout and reports how many went.
func (s *CartService) RemoveSelected(ctx context.Context) (int, error) {
	return s.sweep(ctx, reconcile.RemoveSelected)
}

// RemoveUnavailable drops items flagged by RefreshAvailability.
func (s *CartService) RemoveUnavailable(ctx context.Context) (int, error) {
	return s.sweep(ctx, reconcile.RemoveUnavailable)
}

func (s *CartService) sweep(ctx context.Context, filter func(domain.Cart) domain.Cart) (int, error) {
	removed := 0
	err := s.mutate(ctx, func(c domain.Cart) (domain.Cart, bool, error) {
		out := filter(c)
		removed = len(c.Items) - len(out.Items)
		return out, removed > 0, nil
	})
	return removed, err
}

// SetSelected toggles checkout inclusion. Selection is session state only and
// is not written to the store.
func (s *CartService) SetSelected(index int, selected bool) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.cart.Items) {
		s.mu.Unlock()
		return fmt.Errorf("%w: index %d", reconcile.ErrItemNotFound, index)
	}
	changed := s.cart.Items[index].Selected != selected
	if changed {
		s.cart = s.cart.Clone()
		s.cart.Items[index].Selected = selected
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return nil
}

// RefreshAvailability flags items the catalog can no longer sell.
func (s *CartService) RefreshAvailability(products []domain.Product) {
	s.mu.Lock()
	s.cart = reconcile.MarkAvailability(s.cart, products)
	s.mu.Unlock()
	s.notify()
}

// Subscribe registers fn to run after every cart change. The returned func
// removes it.
func (s *CartService) Subscribe(fn func()) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *CartService) notify() {
	s.obsMu.Lock()
	fns := make([]func(), 0, len(s.observers))
	for id := 0; id < s.nextObs; id++ {
		if fn, ok := s.observers[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Watch follows writes made to this cart by other writers sharing the store
// and reloads the cart when one happens. The last writer wins. It blocks until
// ctx is done.
func (s *CartService) Watch(ctx context.Context) error {
	w, ok := s.kv.(store.Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return w.Watch(ctx, s.key, func(ev store.Event) {
		cart := s.decode(ctx, ev.Value)
		s.mu.Lock()
		s.cart = cart
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "cart changed by another writer", "writer", ev.Writer)
		s.notify()
	})
}

// mutate applies fn to the current cart, persists the result when it changed,
// and only then publishes it and notifies observers.
func (s *CartService) mutate(ctx context.Context, fn func(domain.Cart) (domain.Cart, bool, error)) error {
	s.mu.Lock()
	next, changed, err := fn(s.cart)
	if err == nil && changed {
		err = s.persist(ctx, next)
		if err == nil {
			s.cart = next
		}
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if changed {
		s.notify()
	}
	return nil
}

func (s *CartService) persist(ctx context.Context, c domain.Cart) error {
	data, err := domain.EncodeCart(c)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.logger.ErrorContext(ctx, "cart persist failed", "error", err)
		return fmt.Errorf("persist cart: %w", err)
	}
	return nil
}
