package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidSignature = errors.New("invalid variant selection")

// Field is one custom field answer. How the value is interpreted comes from the
// product's CustomFieldDef with the same name.
type Field struct {
	Name  string
	Value string
}

// Fields keeps the order in which the shopper filled the fields in.
// It is encoded as a JSON object whose keys follow that order.
type Fields []Field

func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*f = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("custom fields: expected object, got %v", tok)
	}
	var out Fields
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out = append(out, Field{Name: name, Value: scalarString(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

// scalarString accepts numbers and booleans written by older clients.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// Signature identifies which variant of a product a line item holds.
type Signature struct {
	Size   string
	Type   string
	Fields Fields
}

// Normalize trims values and drops unanswered fields.
func (s Signature) Normalize() Signature {
	out := Signature{
		Size: strings.TrimSpace(s.Size),
		Type: strings.TrimSpace(s.Type),
	}
	for _, f := range s.Fields {
		f.Name = strings.TrimSpace(f.Name)
		f.Value = strings.TrimSpace(f.Value)
		if f.Name == "" || f.Value == "" {
			continue
		}
		out.Fields = append(out.Fields, f)
	}
	return out
}

// Value returns the answer for the named field.
func (s Signature) Value(name string) (string, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Equal compares two selections ignoring the order the fields were entered in.
func (s Signature) Equal(other Signature) bool {
	if s.Size != other.Size || s.Type != other.Type || len(s.Fields) != len(other.Fields) {
		return false
	}
	a, b := s.sortedFields(), other.sortedFields()
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Value != b[i].Value {
			return false
		}
	}
	return true
}

// EqualOrdered also requires the fields to appear in the same order.
func (s Signature) EqualOrdered(other Signature) bool {
	if s.Size != other.Size || s.Type != other.Type || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i].Name != other.Fields[i].Name || s.Fields[i].Value != other.Fields[i].Value {
			return false
		}
	}
	return true
}

func (s Signature) sortedFields() []Field {
	out := make([]Field, len(s.Fields))
	copy(out, s.Fields)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks the selection against the product definitions and returns a
// normalized copy with choices in their declared spelling.
func (s Signature) Validate(p Product) (Signature, error) {
	out := s.Normalize()

	if out.Size != "" {
		size, ok := containsFold(p.SizeOptions(), out.Size)
		if !ok {
			return Signature{}, fmt.Errorf("%w: size %q not offered for product %d", ErrInvalidSignature, out.Size, p.ID)
		}
		out.Size = size
	}
	if out.Type != "" {
		typ, ok := containsFold(p.TypeOptions(), out.Type)
		if !ok {
			return Signature{}, fmt.Errorf("%w: type %q not offered for product %d", ErrInvalidSignature, out.Type, p.ID)
		}
		out.Type = typ
	}

	seen := make(map[string]bool, len(out.Fields))
	for i, f := range out.Fields {
		if seen[f.Name] {
			return Signature{}, fmt.Errorf("%w: field %q given twice", ErrInvalidSignature, f.Name)
		}
		seen[f.Name] = true

		def, ok := p.FieldDef(f.Name)
		if !ok {
			return Signature{}, fmt.Errorf("%w: unknown field %q", ErrInvalidSignature, f.Name)
		}
		switch def.Kind {
		case FieldNumber:
			if _, err := decimal.NewFromString(f.Value); err != nil {
				return Signature{}, fmt.Errorf("%w: field %q expects a number", ErrInvalidSignature, f.Name)
			}
		case FieldChoice:
			choice, ok := containsFold(def.Choices, f.Value)
			if !ok {
				return Signature{}, fmt.Errorf("%w: %q is not a choice of field %q", ErrInvalidSignature, f.Value, f.Name)
			}
			out.Fields[i].Value = choice
		case FieldText, "":
		default:
			return Signature{}, fmt.Errorf("%w: field %q has unsupported kind %q", ErrInvalidSignature, f.Name, def.Kind)
		}
	}
	return out, nil
}
