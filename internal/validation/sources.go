package validation

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"bookrental/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BookFromJSON parses a JSON request body
func (v *Validator) BookFromJSON(data []byte) (models.NewBook, error) {
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return models.NewBook{}, &ValidationError{Field: "body", Reason: "must be a JSON object"}
	}
	return v.parse(jsonSource(fields))
}

// BookFromRecord parses a CSV record keyed by column name
func (v *Validator) BookFromRecord(record map[string]string) (models.NewBook, error) {
	return v.parse(recordSource(record))
}

// maxExponent bounds the decimal exponent accepted from input. Rounding a value
// like 1e99999999 to cents would rescale it digit by digit.
const maxExponent = 20

func parseDecimal(raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if exp := d.Exponent(); exp < -maxExponent || exp > maxExponent {
		return decimal.Decimal{}, false
	}
	return d, true
}

// jsonSource reads typed JSON values; null counts as absent
type jsonSource map[string]jsoniter.RawMessage

func (s jsonSource) present(field string) bool {
	raw, ok := s[field]
	return ok && string(raw) != "null"
}

func (s jsonSource) integer(field string) (int, bool) {
	var n int
	if err := json.Unmarshal(s[field], &n); err != nil {
		return 0, false
	}
	return n, true
}

func (s jsonSource) number(field string) (decimal.Decimal, bool) {
	raw := strings.TrimSpace(string(s[field]))
	if raw == "" || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return decimal.Decimal{}, false
	}
	return parseDecimal(raw)
}

func (s jsonSource) text(field string) (string, bool) {
	var str string
	if err := json.Unmarshal(s[field], &str); err != nil {
		return "", false
	}
	return str, true
}

// recordSource reads CSV strings. A column that exists is present even when
// empty, except the optional available column where a blank cell means absent.
type recordSource map[string]string

func (s recordSource) present(field string) bool {
	value, ok := s[field]
	if field == FieldAvailable {
		return ok && strings.TrimSpace(value) != ""
	}
	return ok
}

func (s recordSource) integer(field string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s[field]))
	return n, err == nil
}

func (s recordSource) number(field string) (decimal.Decimal, bool) {
	return parseDecimal(strings.TrimSpace(s[field]))
}

func (s recordSource) text(field string) (string, bool) {
	return s[field], true
}
