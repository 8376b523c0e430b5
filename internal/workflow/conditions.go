package workflow

import (
	"reflect"
	"slices"
	"strings"

	"workflow-service/internal/model"

	"github.com/spf13/cast"
)

// Match reports whether every condition holds for snapshot. Conditions are
// checked in declaration order and evaluation has no side effects. An empty
// condition list always matches.
func Match(conditions model.Conditions, snapshot map[string]any) bool {
	for _, c := range conditions {
		if !holds(c, snapshot) {
			return false
		}
	}
	return true
}

func holds(c model.Condition, snapshot map[string]any) bool {
	actual, present := snapshot[c.Field]
	present = present && actual != nil

	if c.Operator == model.OpExists {
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return present == want
	}
	if !present {
		return false
	}

	switch c.Operator {
	case model.OpEq:
		return equal(actual, c.Value)
	case model.OpNeq:
		return !equal(actual, c.Value)
	case model.OpLt, model.OpLte, model.OpGt, model.OpGte:
		cmp, ok := compare(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case model.OpLt:
			return cmp < 0
		case model.OpLte:
			return cmp <= 0
		case model.OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case model.OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		return slices.ContainsFunc(list, func(v any) bool { return equal(actual, v) })
	case model.OpContains:
		if s, ok := actual.(string); ok {
			needle, err := cast.ToStringE(c.Value)
			return err == nil && strings.Contains(s, needle)
		}
		if list, ok := actual.([]any); ok {
			return slices.ContainsFunc(list, func(v any) bool { return equal(v, c.Value) })
		}
	}
	return false
}

// number coerces numeric values only; numeric-looking strings stay strings
func number(v any) (float64, bool) {
	switch v.(type) {
	case string, bool, nil:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	return f, err == nil
}

func equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two numbers or two strings
func compare(a, b any) (int, bool) {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}
