package normalize

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Ternary is a flag that may be true, false, or not known. The zero value is
// Unknown so a missing field can never read as false.
type Ternary int8

const (
	Unknown Ternary = iota
	True
	False
)

func (t Ternary) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// Bool reports the flag value and whether it is known.
func (t Ternary) Bool() (value bool, known bool) {
	switch t {
	case True:
		return true, true
	case False:
		return false, true
	default:
		return false, false
	}
}

// Value stores Unknown as SQL NULL.
func (t Ternary) Value() (driver.Value, error) {
	if v, ok := t.Bool(); ok {
		return v, nil
	}
	return nil, nil
}

// MarshalJSON encodes Unknown as null.
func (t Ternary) MarshalJSON() ([]byte, error) {
	if v, ok := t.Bool(); ok {
		return json.Marshal(v)
	}
	return []byte("null"), nil
}

// CoerceNumber returns v as a float, or nil when v is absent or cannot be
// read as a finite number. Accepts json.Number, Go numeric types and numeric
// strings; empty strings, text, booleans and nested values are absent.
func CoerceNumber(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil
	case json.Number:
		parsed, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// CoerceInteger parses v as a number and truncates it, so "3.9" and 3.0 both
// give a definite integer. Absent on the same inputs as CoerceNumber, and on
// values outside the int64 range.
func CoerceInteger(v any) *int64 {
	f := CoerceNumber(v)
	if f == nil {
		return nil
	}
	t := math.Trunc(*f)
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return nil
	}
	i := int64(t)
	return &i
}

// CoerceTernary maps the many spellings of yes/no found in the export onto a
// Ternary. Strings are matched without regard to case or surrounding space.
func CoerceTernary(v any) Ternary {
	switch x := v.(type) {
	case bool:
		if x {
			return True
		}
		return False
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "y", "true", "1":
			return True
		case "no", "n", "false", "0":
			return False
		}
		return Unknown
	case json.Number, float64, float32, int, int64, int32:
		f := CoerceNumber(x)
		if f == nil {
			return Unknown
		}
		switch *f {
		case 1:
			return True
		case 0:
			return False
		}
	}
	return Unknown
}

// Unit suffixes are removed longest first so "1200 sqfts" loses the whole
// unit and not just " sqft".
var sqftSuffixes = []string{" sqfts", " sqft", "sqfts", "sqft"}

// CleanSquareFootage strips the square-foot unit from v and returns the bare
// number as text. If what remains is not digits with at most one decimal
// point, the value is absent.
func CleanSquareFootage(v any) *string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = string(x)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	default:
		return nil
	}

	for _, suffix := range sqftSuffixes {
		s = strings.ReplaceAll(s, suffix, "")
	}
	s = strings.TrimSpace(s)
	if !isDigits(strings.Replace(s, ".", "", 1)) {
		return nil
	}
	return &s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
