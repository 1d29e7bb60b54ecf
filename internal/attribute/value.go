// Package attribute maps dbf cells onto a flat JSON value model.
package attribute

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
)

type Kind int

const (
	Null Kind = iota
	Number
	Text
	RawText
)

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Text:
		return "text"
	case RawText:
		return "raw"
	default:
		return "null"
	}
}

// Value is Null, Number, Text or RawText. The zero Value is Null.
type Value struct {
	kind Kind
	num  float64
	str  string
}

func NullValue() Value            { return Value{} }
func NumberValue(f float64) Value { return Value{kind: Number, num: f} }
func TextValue(s string) Value    { return Value{kind: Text, str: s} }
func RawTextValue(s string) Value { return Value{kind: RawText, str: s} }
func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsNull() bool      { return v.kind == Null }
func (v Value) Number() float64   { return v.num }
func (v Value) String() string    { return v.str }

// Interface returns nil, a float64 or a string.
func (v Value) Interface() any {
	switch v.kind {
	case Number:
		return v.num
	case Text, RawText:
		return v.str
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Warning reports a cell that could not be decoded as its declared type and
// was kept as raw text.
type Warning struct {
	Field  string
	Lexeme string
	Reason string
}

func (w *Warning) Error() string {
	return fmt.Sprintf("attribute %q: %s (kept %q as text)", w.Field, w.Reason, w.Lexeme)
}

func (w *Warning) Unwrap() error  { return apperr.ErrAttributeDecodeWarning }

// Decode applies, in order: absent cell to Null, numeric cell to Number,
// character cell to Text, anything else to RawText.
func Decode(c shapefile.Cell) (Value, *Warning) {
	if c.Null {
		return NullValue(), nil
	}
	switch c.Kind {
	case shapefile.KindNumeric, shapefile.KindFloat:
		if c.Num != nil && !math.IsInf(*c.Num, 0) && !math.IsNaN(*c.Num) {
			return NumberValue(*c.Num), nil
		}
		return RawTextValue(c.Text), &Warning{Lexeme: c.Text, Reason: "not a finite number"}
	case shapefile.KindCharacter:
		return TextValue(c.Text), nil
	default:
		return RawTextValue(c.Text), nil
	}
}

// DecodeLexeme reads the stringified cell forms written by older exports:
// Numeric(None), Numeric(Some(1.5)), Character(Some("abc")) and so on.
func DecodeLexeme(s string) Value {
	tag, inner, ok := splitTagged(s)
	if !ok {
		return RawTextValue(s)
	}
	if inner == "None" {
		return NullValue()
	}
	payload, ok := strings.CutPrefix(inner, "Some(")
	if !ok || !strings.HasSuffix(payload, ")") {
		return RawTextValue(s)
	}
	payload = strings.TrimSuffix(payload, ")")
	switch tag {
	case "Numeric", "Float", "Double", "Integer":
		if f, err := strconv.ParseFloat(payload, 64); err == nil && !math.IsInf(f, 0) {
			return NumberValue(f)
		}
	case "Character":
		if len(payload) >= 2 && payload[0] == '"' && payload[len(payload)-1] == '"' {
			if unq, err := strconv.Unquote(payload); err == nil {
				return TextValue(unq)
			}
			return TextValue(payload[1 : len(payload)-1])
		}
	}
	return RawTextValue(s)
}

// splitTagged splits "Tag(inner)" into its parts.
func splitTagged(s string) (tag, inner string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", "", false
	}
	return s[:open], s[open+1 : len(s)-1], true
}
