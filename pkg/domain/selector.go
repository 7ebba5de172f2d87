package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
)

// Selector is a conjunction of field-equality predicates over record attributes.
type Selector map[string]any

// Query is the rich-query document understood by ledger adapters.
type Query struct {
	Selector map[string]any `json:"selector"`
}

// IDField names the ledger key inside a selector.
const IDField = "_id"

// Validate rejects selectors that are not plain field equalities.
func (s Selector) Validate() error {
	for _, field := range s.Fields() {
		if field == "" || field[0] == '$' {
			return NewError(KindInvalidAttribute, fmt.Sprintf("selector field %q is not an attribute", field))
		}
		if !isScalar(s[field]) {
			return NewError(KindInvalidAttribute, fmt.Sprintf("selector field %q must compare against a scalar, got %T", field, s[field]))
		}
	}
	return nil
}

// isScalar accepts nil and any value whose underlying kind is a string, bool
// or number, so named types such as UnitState compare like plain strings.
func isScalar(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// Fields returns the selector's field names in sorted order.
func (s Selector) Fields() []string {
	fields := make([]string, 0, len(s))
	for f := range s {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// ListScopePattern returns the key regex matching every record of list.
func ListScopePattern(list string) string {
	return `^\x00` + regexp.QuoteMeta(list) + `\x00`
}

// ScopedQuery restricts sel to the records of list and encodes it as a query string.
func ScopedQuery(list string, sel Selector) (string, error) {
	if err := sel.Validate(); err != nil {
		return "", err
	}
	conjuncts := make([]any, 0, 2)
	if len(sel) > 0 {
		cp := make(map[string]any, len(sel))
		for k, v := range sel {
			cp[k] = v
		}
		conjuncts = append(conjuncts, cp)
	}
	conjuncts = append(conjuncts, map[string]any{
		IDField: map[string]any{"$regex": ListScopePattern(list)},
	})
	data, err := json.Marshal(Query{Selector: map[string]any{"$and": conjuncts}})
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	return string(data), nil
}
