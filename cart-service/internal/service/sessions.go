package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fjod/storefront/cart-service/internal/reconcile"
	"github.com/fjod/storefront/cart-service/internal/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

type session struct {
	cart    *CartService
	cancel  context.CancelFunc
	leases  int
	evicted bool
}

// Sessions keeps the carts of recently active sessions in memory. A cart is
// hydrated from the store the first time its session is seen; evicted carts are
// loaded again on the next request. A cart evicted while a request still holds
// it stays alive until released, so one session never has two live instances.
type Sessions struct {
	mu       sync.Mutex
	kv       store.KeyValueStore
	engine   *reconcile.Engine
	cache    *lru.Cache[string, *session]
	retiring map[string]*session
	hydrate  singleflight.Group
	watch    bool
	logger   *slog.Logger
}

// NewSessions keeps at most size carts. With watch set, each cached cart
// follows changes other processes make to it through the store.
func NewSessions(kv store.KeyValueStore, engine *reconcile.Engine, size int, watch bool, logger *slog.Logger) (*Sessions, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Sessions{
		kv:       kv,
		engine:   engine,
		retiring: make(map[string]*session),
		watch:    watch,
		logger:   logger,
	}
	// runs with r.mu held: every cache call below happens under it
	cache, err := lru.NewWithEvict[string, *session](size, func(id string, s *session) {
		if s.leases > 0 {
			s.evicted = true
			r.retiring[id] = s
			return
		}
		s.cancel()
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Get returns the cart of the session and a func releasing it. Callers must
// release the cart once the request is done with it.
func (r *Sessions) Get(ctx context.Context, sessionID string) (*CartService, func()) {
	for {
		if s := r.acquire(sessionID); s != nil {
			return s.cart, r.releaser(sessionID, s)
		}
		r.hydrate.Do(sessionID, func() (any, error) {
			r.load(context.WithoutCancel(ctx), sessionID)
			return nil, nil
		})
	}
}

func (r *Sessions) acquire(sessionID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.cache.Get(sessionID)
	if !ok {
		if s, ok = r.retiring[sessionID]; !ok {
			return nil
		}
		delete(r.retiring, sessionID)
		s.evicted = false
		r.cache.Add(sessionID, s)
	}
	s.leases++
	return s
}

func (r *Sessions) releaser(sessionID string, s *session) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			s.leases--
			if s.leases == 0 && s.evicted {
				if r.retiring[sessionID] == s {
					delete(r.retiring, sessionID)
				}
				s.cancel()
			}
		})
	}
}

// load reads the cart from the store without holding r.mu.
func (r *Sessions) load(ctx context.Context, sessionID string) {
	r.mu.Lock()
	_, cached := r.cache.Peek(sessionID)
	_, retiring := r.retiring[sessionID]
	r.mu.Unlock()
	if cached || retiring {
		return
	}

	cart := NewCartService(r.kv, r.engine, CartKey(sessionID), r.logger)
	cart.Load(ctx)

	watchCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cache.Add(sessionID, &session{cart: cart, cancel: cancel})
	r.mu.Unlock()

	if r.watch {
		go func() {
			if err := cart.Watch(watchCtx); err != nil && !errors.Is(err, ErrWatchUnsupported) {
				r.logger.Warn("cart watch stopped", "session", sessionID, "error", err)
			}
		}()
	}
}

func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}

// Close stops every watch and forgets all cached carts.
func (r *Sessions) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
	for id, s := range r.retiring {
		s.cancel()
		delete(r.retiring, id)
	}
}
