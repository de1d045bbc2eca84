package quant

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Value is a single feature cell: a float (NaN when missing) or categorical text.
type Value struct {
	Num    float64
	Str    string
	IsText bool
}

// MissingToken replaces missing categorical values before inference.
const MissingToken = "missing"

var naTokens = map[string]struct{}{
	"":         {},
	"NA":       {},
	"N/A":      {},
	"#N/A":     {},
	"#N/A N/A": {},
	"<NA>":     {},
	"NaN":      {},
	"nan":      {},
	"-NaN":     {},
	"-nan":     {},
	"null":     {},
	"NULL":     {},
	"None":     {},
	"n/a":      {},
	"#NA":      {},
	"1.#IND":   {},
	"-1.#IND":  {},
	"1.#QNAN":  {},
	"-1.#QNAN": {},
}

func Number(f float64) Value { return Value{Num: f} }

func Text(s string) Value { return Value{Str: s, IsText: true} }

func Missing() Value { return Value{Num: math.NaN()} }

// ParseCell converts a raw TSV cell into a Value using the NA tokens pandas recognises.
func ParseCell(raw string) Value {
	s := strings.TrimRight(raw, "\r")
	if _, ok := naTokens[s]; ok {
		return Missing()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(f)
	}
	return Text(s)
}

func (v Value) IsMissing() bool {
	return !v.IsText && math.IsNaN(v.Num)
}

// String renders numbers the way they are cast to text for categorical columns.
func (v Value) String() string {
	if v.IsText {
		return v.Str
	}
	if math.IsNaN(v.Num) {
		return "nan"
	}
	if math.IsInf(v.Num, 0) {
		if v.Num > 0 {
			return "inf"
		}
		return "-inf"
	}
	s := strconv.FormatFloat(v.Num, 'f', -1, 64)
	if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1e16 {
		s += ".0"
	}
	return s
}

// MarshalJSON writes numbers as JSON numbers, text as strings and missing as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.IsText:
		return json.Marshal(v.Str)
	case math.IsNaN(v.Num) || math.IsInf(v.Num, 0):
		return []byte("null"), nil
	default:
		return json.Marshal(v.Num)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Missing()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Number(f)
	return nil
}
