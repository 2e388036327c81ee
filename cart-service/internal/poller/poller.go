package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	Topic   = "catalog-events"
	GroupID = "cart-service-catalog"
)

// Refresher reloads the cached catalog snapshot.
type Refresher interface {
	Invalidate(ctx context.Context) error
}

// CatalogEvent is published by the catalog whenever a product changes.
type CatalogEvent struct {
	ProductID int64  `json:"product_id"`
	Type      string `json:"type"`
}

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 10 * time.Second
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Poller struct {
	reader     messageReader
	refresher  Refresher
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPoller(refresher Refresher, logger *slog.Logger, brokers ...string) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{
		reader:     reader,
		refresher:  refresher,
		logger:     logger,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Run consumes catalog events until ctx is done. Read failures back off
// exponentially up to maxBackoff; a successful read resets the delay.
func (p *Poller) Run(ctx context.Context) {
	backoff := p.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.ErrorContext(ctx, "error reading catalog event", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.maxBackoff)
			continue
		}
		backoff = p.minBackoff
		if err := p.handle(ctx, m.Value); err != nil {
			p.logger.WarnContext(ctx, "catalog event not applied", "offset", m.Offset, "error", err)
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Error("error closing reader", "error", err)
	}
}

// handle drops the cached snapshot so the next read reloads it; carts are left
// alone until the shopper acts on them.
func (p *Poller) handle(ctx context.Context, value []byte) error {
	var ev CatalogEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("error parsing message: %w", err)
	}
	if ev.ProductID <= 0 {
		return errors.New("missing or invalid product_id")
	}
	if err := p.refresher.Invalidate(ctx); err != nil {
		return err
	}
	p.logger.DebugContext(ctx, "catalog snapshot invalidated", "product_id", ev.ProductID, "type", ev.Type)
	return nil
}
