package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrMalformedCart = errors.New("malformed cart record")

// Price is a unit price in cents that crosses the storage boundary as a decimal
// string such as "12.50". Plain JSON numbers are accepted on read.
type Price int64

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(decimal.New(int64(p), -2).StringFixed(2))
}

func (p *Price) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*p = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = raw
	}
	d, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = Price(d)
	return nil
}

// ParsePrice converts a decimal amount ("12.5", "12,50", "12") into cents,
// rounding half away from zero at the third decimal.
func ParsePrice(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// FormatPrice renders cents as decimal units with two places.
func FormatPrice(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Record is the persisted shape of one line item.
type Record struct {
	ID                   int64  `json:"id"`
	Nome                 string `json:"nome"`
	Preco                Price  `json:"preco"`
	Imagem               string `json:"imagem,omitempty"`
	Quantidade           int    `json:"quantidade"`
	Tamanho              string `json:"tamanho,omitempty"`
	Tipo                 string `json:"tipo,omitempty"`
	QuantidadeDisponivel *int   `json:"quantidadeDisponivel,omitempty"`
	CamposPersonalizados Fields `json:"campos_personalizados,omitempty"`
}

func RecordFromItem(item LineItem) Record {
	ceiling := item.StockCeiling
	return Record{
		ID:                   item.ProductID,
		Nome:                 item.Name,
		Preco:                Price(item.UnitPriceCents),
		Imagem:               item.ImageURL,
		Quantidade:           item.Quantity,
		Tamanho:              item.Signature.Size,
		Tipo:                 item.Signature.Type,
		QuantidadeDisponivel: &ceiling,
		CamposPersonalizados: item.Signature.Fields,
	}
}

// Item converts the record back. A record written without a stock ceiling gets
// its own quantity as ceiling, so it can be decreased but not increased until
// the next commit refreshes it. The signature comes back normalized, so blank
// answers written by older clients do not count as a different variant.
func (r Record) Item() LineItem {
	ceiling := r.Quantidade
	if r.QuantidadeDisponivel != nil {
		ceiling = *r.QuantidadeDisponivel
	}
	return LineItem{
		ProductID:      r.ID,
		Name:           r.Nome,
		UnitPriceCents: int64(r.Preco),
		ImageURL:       r.Imagem,
		Quantity:       r.Quantidade,
		StockCeiling:   ceiling,
		Signature:      Signature{Size: r.Tamanho, Type: r.Tipo, Fields: r.CamposPersonalizados}.Normalize(),
		Selected:       true,
	}
}

// EncodeCart serializes the cart into its persisted JSON array.
func EncodeCart(c Cart) ([]byte, error) {
	records := make([]Record, 0, len(c.Items))
	for _, item := range c.Items {
		records = append(records, RecordFromItem(item))
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}
	return data, nil
}

// DecodeCart parses a persisted JSON array. It does not repair invariants;
// see Sanitize.
func DecodeCart(data []byte) (Cart, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Cart{}, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return Cart{}, fmt.Errorf("%w: %v", ErrMalformedCart, err)
	}
	var c Cart
	for _, r := range records {
		c.Items = append(c.Items, r.Item())
	}
	return c, nil
}

// Repair describes one correction Sanitize made to a loaded cart.
type Repair struct {
	ProductID int64
	Reason    string
}

// Sanitize enforces the cart invariants on data read from storage: items with
// no quantity are dropped, quantities above the ceiling are clamped, and
// duplicate selections collapse to the last listed entry.
func Sanitize(c Cart, equal func(a, b Signature) bool) (Cart, []Repair) {
	var repairs []Repair
	var kept []LineItem
	for _, item := range c.Items {
		if item.Quantity <= 0 {
			repairs = append(repairs, Repair{item.ProductID, "non-positive quantity dropped"})
			continue
		}
		if item.StockCeiling < item.Quantity {
			repairs = append(repairs, Repair{item.ProductID, fmt.Sprintf("quantity %d clamped to ceiling %d", item.Quantity, item.StockCeiling)})
			if item.StockCeiling <= 0 {
				continue
			}
			item.Quantity = item.StockCeiling
		}
		kept = append(kept, item)
	}

	var out []LineItem
	for i, item := range kept {
		duplicated := false
		for _, later := range kept[i+1:] {
			if later.ProductID == item.ProductID && equal(later.Signature, item.Signature) {
				duplicated = true
				break
			}
		}
		if duplicated {
			repairs = append(repairs, Repair{item.ProductID, "duplicate selection collapsed"})
			continue
		}
		out = append(out, item)
	}
	return Cart{Items: out}, repairs
}
