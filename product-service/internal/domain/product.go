package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomField is a free-form attribute the shopper fills in when ordering.
type CustomField struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Choices []string `json:"choices,omitempty"`
}

type Product struct {
	ID            int64
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int
	ImageURL      string
	// Tags carry the size and type axes, e.g. "tamanho:M" or "tipo:babylook".
	Tags         []string
	CustomFields []CustomField
	CreatedAt    time.Time
}
