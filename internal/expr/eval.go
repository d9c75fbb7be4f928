package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolver provides data for field paths.
type Resolver interface {
	Resolve(path []string) (any, bool)
}

// Vars is a Resolver over nested maps.
type Vars map[string]any

// Resolve walks nested map[string]any values. A numeric path element
// indexes into a []any.
func (v Vars) Resolve(path []string) (any, bool) {
	var cur any = map[string]any(v)
	for _, key := range path {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[key]
			if !ok {
				return nil, false
			}
			cur = next
		case Vars:
			next, ok := c[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Evaluate walks the AST and returns the resulting value.
func Evaluate(e Expr, r Resolver) (any, error) {
	switch n := e.(type) {
	case *Literal:
		return n.Value, nil
	case *Field:
		v, ok := r.Resolve(n.Path)
		if !ok {
			return nil, fmt.Errorf("field %q not found", strings.Join(n.Path, "."))
		}
		return v, nil
	case *LogicalExpr:
		return evalLogical(n, r)
	case *NotExpr:
		b, err := EvaluateBool(n.Expr, r)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case *NegExpr:
		v, err := Evaluate(n.Expr, r)
		if err != nil {
			return nil, err
		}
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("unary minus requires a number, got %T", v)
		}
		return -f, nil
	case *BinaryExpr:
		left, err := Evaluate(n.Left, r)
		if err != nil {
			return nil, err
		}
		right, err := Evaluate(n.Right, r)
		if err != nil {
			return nil, err
		}
		return apply(n.Op, left, right)
	default:
		return nil, fmt.Errorf("unknown expr type %T", e)
	}
}

// EvaluateBool evaluates e and requires a boolean result.
func EvaluateBool(e Expr, r Resolver) (bool, error) {
	v, err := Evaluate(e, r)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression is %T, not bool", v)
	}
	return b, nil
}

func evalLogical(e *LogicalExpr, r Resolver) (any, error) {
	left, err := EvaluateBool(e.Left, r)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "AND":
		if !left {
			return false, nil
		}
	case "OR":
		if left {
			return true, nil
		}
	default:
		return nil, fmt.Errorf("unknown logical op %q", e.Op)
	}
	return EvaluateBool(e.Right, r)
}
