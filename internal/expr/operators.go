package expr

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Operator is a comparison or arithmetic operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
	OpAdd      Operator = "+"
	OpSub      Operator = "-"
	OpMul      Operator = "*"
	OpDiv      Operator = "/"
	OpMod      Operator = "%"
)

// ErrDivisionByZero is returned for "/" and "%" with a zero divisor.
var ErrDivisionByZero = errors.New("division by zero")

// toFloat64 coerces a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func apply(op Operator, left, right any) (any, error) {
	switch op {
	case OpEq:
		return equal(left, right), nil
	case OpNeq:
		return !equal(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		return numericCompare(op, left, right)
	case OpContains:
		return containsOp(left, right)
	case OpMatches:
		return matchesOp(left, right)
	case OpAdd:
		if ls, ok := left.(string); ok {
			return ls + fmt.Sprint(right), nil
		}
		return arithmetic(op, left, right)
	case OpSub, OpMul, OpDiv, OpMod:
		return arithmetic(op, left, right)
	default:
		return nil, fmt.Errorf("unknown operator: %s", op)
	}
}

// equal compares numbers by value, everything else by formatted text.
func equal(left, right any) bool {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func numericCompare(op Operator, left, right any) (bool, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case OpGt:
		return lf > rf, nil
	case OpGte:
		return lf >= rf, nil
	case OpLt:
		return lf < rf, nil
	case OpLte:
		return lf <= rf, nil
	}
	return false, nil
}

func arithmetic(op Operator, left, right any) (float64, error) {
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return 0, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case OpAdd:
		return lf + rf, nil
	case OpSub:
		return lf - rf, nil
	case OpMul:
		return lf * rf, nil
	case OpDiv:
		if rf == 0 {
			return 0, ErrDivisionByZero
		}
		return lf / rf, nil
	case OpMod:
		if rf == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Mod(lf, rf), nil
	}
	return 0, fmt.Errorf("unknown operator: %s", op)
}

func containsOp(left, right any) (bool, error) {
	switch l := left.(type) {
	case string:
		return strings.Contains(l, fmt.Sprintf("%v", right)), nil
	case []any:
		for _, v := range l {
			if equal(v, right) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("contains: left operand must be a string or list, got %T", left)
}

func matchesOp(left, right any) (bool, error) {
	ls, ok := left.(string)
	if !ok {
		return false, fmt.Errorf("matches: left operand must be a string, got %T", left)
	}
	pattern, ok := right.(string)
	if !ok {
		return false, fmt.Errorf("matches: right operand must be a string pattern, got %T", right)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
	}
	return re.MatchString(ls), nil
}
