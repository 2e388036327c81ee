package domain

import "strings"

type FieldKind string

const (
	FieldText   FieldKind = "text"
	FieldNumber FieldKind = "number"
	FieldChoice FieldKind = "choice"
)

// CustomFieldDef describes one free-form attribute a shopper fills in for a product.
type CustomFieldDef struct {
	Name    string    `json:"name"`
	Kind    FieldKind `json:"kind"`
	Choices []string  `json:"choices,omitempty"`
}

// Product is a read-only snapshot of a catalog entry as the cart sees it.
type Product struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	UnitPriceCents  int64            `json:"unit_price_cents"`
	StockQuantity   int              `json:"stock_quantity"`
	ImageURL        string           `json:"image_url,omitempty"`
	CustomFieldDefs []CustomFieldDef `json:"custom_fields,omitempty"`
	Tags            []string         `json:"tags,omitempty"`
}

var (
	sizeVocabulary = []string{"PP", "P", "M", "G", "GG", "XG", "XGG", "U"}
	typeVocabulary = []string{"masculina", "feminina", "unissex", "babylook", "infantil"}
)

// SizeOptions returns the size axis derived from the product tags, in tag order.
func (p Product) SizeOptions() []string {
	return matchTags(p.Tags, "tamanho:", sizeVocabulary)
}

// TypeOptions returns the type axis derived from the product tags, in tag order.
func (p Product) TypeOptions() []string {
	return matchTags(p.Tags, "tipo:", typeVocabulary)
}

func (p Product) FieldDef(name string) (CustomFieldDef, bool) {
	for _, def := range p.CustomFieldDefs {
		if def.Name == name {
			return def, true
		}
	}
	return CustomFieldDef{}, false
}

// SharesTag reports whether both products carry at least one common tag.
func (p Product) SharesTag(other Product) bool {
	for _, a := range p.Tags {
		for _, b := range other.Tags {
			if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
				return true
			}
		}
	}
	return false
}

func matchTags(tags []string, prefix string, vocabulary []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tag := range tags {
		t := strings.TrimSpace(tag)
		if len(t) >= len(prefix) && strings.EqualFold(t[:len(prefix)], prefix) {
			t = strings.TrimSpace(t[len(prefix):])
		}
		for _, v := range vocabulary {
			if strings.EqualFold(t, v) && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func containsFold(values []string, s string) (string, bool) {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return v, true
		}
	}
	return "", false
}
