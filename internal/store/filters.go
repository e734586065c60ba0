package store

import (
	"fmt"
	"regexp"
	"strings"
)

// FilterOp is a metadata filter operator.
type FilterOp string

const (
	FilterOpEq       FilterOp = "eq"
	FilterOpIn       FilterOp = "in"
	FilterOpContains FilterOp = "contains"
	FilterOpGt       FilterOp = "gt"
	FilterOpGte      FilterOp = "gte"
	FilterOpLt       FilterOp = "lt"
	FilterOpLte      FilterOp = "lte"
	FilterOpBetween  FilterOp = "between"
)

// MetadataFilter is one structured predicate against the open metadata
// map: a field path, an operator, and an operand.
//
// Operand shape by operator:
//   - eq, gt, gte, lt, lte: scalar
//   - in: non-empty list
//   - contains: scalar or list; on a list-valued field the stored list
//     must cover every operand value
//   - between: two-element list [low, high]
type MetadataFilter struct {
	Field string
	Op    FilterOp
	Value any
}

// fieldPathPattern restricts metadata field paths to dotted identifier
// segments, keeping user input out of generated JSON path expressions.
var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*(\.[A-Za-z_][A-Za-z0-9_-]*)*$`)

// ParseMetadataFilters validates and normalizes filter specifications.
// It runs before any query execution so a malformed filter fails loudly
// instead of silently matching nothing. List operands are normalized to
// []any; a scalar contains operand becomes a one-element list.
func ParseMetadataFilters(specs []MetadataFilter) ([]MetadataFilter, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	parsed := make([]MetadataFilter, 0, len(specs))
	for i, f := range specs {
		field := strings.TrimSpace(f.Field)
		if field == "" {
			return nil, fmt.Errorf("%w: filter %d has empty field", ErrInvalidFilter, i)
		}
		if !fieldPathPattern.MatchString(field) {
			return nil, fmt.Errorf("%w: filter %d has malformed field path %q", ErrInvalidFilter, i, field)
		}

		switch f.Op {
		case FilterOpEq, FilterOpGt, FilterOpGte, FilterOpLt, FilterOpLte:
			if f.Value == nil {
				return nil, fmt.Errorf("%w: %s on %q requires an operand", ErrInvalidFilter, f.Op, field)
			}
			if _, isList := listOperand(f.Value); isList {
				return nil, fmt.Errorf("%w: %s on %q takes a scalar operand", ErrInvalidFilter, f.Op, field)
			}
		case FilterOpIn:
			values, isList := listOperand(f.Value)
			if !isList || len(values) == 0 {
				return nil, fmt.Errorf("%w: in on %q requires a non-empty list", ErrInvalidFilter, field)
			}
			f.Value = values
		case FilterOpContains:
			if f.Value == nil {
				return nil, fmt.Errorf("%w: contains on %q requires an operand", ErrInvalidFilter, field)
			}
			if values, isList := listOperand(f.Value); isList {
				if len(values) == 0 {
					return nil, fmt.Errorf("%w: contains on %q requires a non-empty list", ErrInvalidFilter, field)
				}
				f.Value = values
			} else {
				f.Value = []any{f.Value}
			}
		case FilterOpBetween:
			values, isList := listOperand(f.Value)
			if !isList || len(values) != 2 {
				return nil, fmt.Errorf("%w: between on %q requires a two-element list", ErrInvalidFilter, field)
			}
			f.Value = values
		default:
			return nil, fmt.Errorf("%w: unknown operator %q on %q", ErrInvalidFilter, f.Op, field)
		}

		f.Field = field
		parsed = append(parsed, f)
	}
	return parsed, nil
}

// listOperand unwraps the supported list operand shapes.
func listOperand(v any) ([]any, bool) {
	switch vv := v.(type) {
	case []any:
		return vv, true
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(vv))
		for i, n := range vv {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(vv))
		for i, n := range vv {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
