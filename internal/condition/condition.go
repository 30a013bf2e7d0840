package condition

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// SyntaxError reports an expression the evaluator grammar does not recognize.
type SyntaxError struct {
	Expr   string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid condition %q: %s", e.Expr, e.Reason)
}

// comparison operators, longest first so ">" never matches inside ">=".
var operators = []string{">=", "<=", ">", "<", "==", "!="}

// Evaluate evaluates a boolean rule expression against a JSON-like context.
// Grammar, in precedence order: flat AND/OR, EXISTS / NOT EXISTS, then a
// single comparison. Paths are JSONPath queries with a non-standard .length
// suffix. A path resolving to zero matches yields null, and any comparison
// against null is false.
func Evaluate(expr string, context any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, &SyntaxError{Expr: expr, Reason: "empty expression"}
	}

	if parts := strings.Split(expr, " AND "); len(parts) > 1 {
		for _, part := range parts {
			ok, err := Evaluate(part, context)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	if parts := strings.Split(expr, " OR "); len(parts) > 1 {
		for _, part := range parts {
			ok, err := Evaluate(part, context)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	if path, ok := strings.CutSuffix(expr, " NOT EXISTS"); ok {
		v, err := resolveOperand(strings.TrimSpace(path), context)
		if err != nil {
			return false, err
		}
		return !exists(v), nil
	}
	if path, ok := strings.CutSuffix(expr, " EXISTS"); ok {
		v, err := resolveOperand(strings.TrimSpace(path), context)
		if err != nil {
			return false, err
		}
		return exists(v), nil
	}

	for _, op := range operators {
		idx := indexOutsideBrackets(expr, op)
		if idx < 0 {
			continue
		}
		leftExpr := strings.TrimSpace(expr[:idx])
		rightExpr := strings.TrimSpace(expr[idx+len(op):])
		if leftExpr == "" || rightExpr == "" {
			return false, &SyntaxError{Expr: expr, Reason: "missing comparison operand"}
		}
		left, err := resolveOperand(leftExpr, context)
		if err != nil {
			return false, err
		}
		var right any
		if strings.HasPrefix(rightExpr, "$") {
			right, err = resolveOperand(rightExpr, context)
			if err != nil {
				return false, err
			}
		} else {
			right = parseLiteral(rightExpr)
		}
		return compare(left, right, op)
	}

	return false, &SyntaxError{Expr: expr, Reason: "no recognized operator"}
}

// indexOutsideBrackets finds op outside bracketed filter expressions and
// quoted strings, so "==" inside [?(@.severity=='HIGH')] is not mistaken
// for the top-level comparison.
func indexOutsideBrackets(expr, op string) int {
	depth := 0
	var quote byte
	for i := 0; i+len(op) <= len(expr); i++ {
		c := expr[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
			}
		}
		if depth == 0 && quote == 0 && expr[i:i+len(op)] == op {
			return i
		}
	}
	return -1
}

// resolveOperand resolves a path query to a value, handling the .length
// suffix. Zero matches yield nil.
func resolveOperand(path string, context any) (any, error) {
	if base, ok := strings.CutSuffix(path, ".length"); ok {
		n, err := length(base, context)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	results, _, err := query(path, context)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// length returns the count of the collection referenced by base, or 0 if the
// path is absent. For filter and wildcard queries the count is the number of
// matches; for a plain path it is the size of the matched collection.
func length(base string, context any) (int, error) {
	results, multi, err := query(base, context)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	if multi {
		return len(results), nil
	}
	switch v := results[0].(type) {
	case nil:
		return 0, nil
	case string:
		return len(v), nil
	case []any:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	default:
		rv := reflect.ValueOf(results[0])
		switch rv.Kind() {
		case reflect.Slice, reflect.Map, reflect.String:
			return rv.Len(), nil
		}
		return 0, fmt.Errorf("length of non-collection at %s", base)
	}
}

func query(path string, context any) (results []any, multi bool, err error) {
	x, err := jp.ParseString(path)
	if err != nil {
		return nil, false, fmt.Errorf("parse path %q: %w", path, err)
	}
	for _, frag := range x {
		switch frag.(type) {
		case *jp.Filter, jp.Wildcard, jp.Slice, jp.Union, jp.Descent:
			multi = true
		}
	}
	return x.Get(context), multi, nil
}

// exists reports whether a resolved value counts as present: non-null and,
// for lists, non-empty.
func exists(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case []any:
		return len(val) > 0
	default:
		return true
	}
}

// parseLiteral parses the right-hand side of a comparison: booleans, null,
// int, float, quoted string, then bare string.
func parseLiteral(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func compare(left, right any, op string) (bool, error) {
	// Missing operands never match and never raise.
	if left == nil || right == nil {
		return false, nil
	}
	lf, lnum := toFloat(left)
	rf, rnum := toFloat(right)
	switch op {
	case "==":
		return equalValues(left, right, lf, rf, lnum && rnum), nil
	case "!=":
		return !equalValues(left, right, lf, rf, lnum && rnum), nil
	}
	if lnum && rnum {
		switch op {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case ">":
			return ls > rs, nil
		case "<":
			return ls < rs, nil
		case ">=":
			return ls >= rs, nil
		case "<=":
			return ls <= rs, nil
		}
	}
	return false, fmt.Errorf("cannot order %T against %T", left, right)
}

func equalValues(left, right any, lf, rf float64, numeric bool) bool {
	if numeric {
		return lf == rf
	}
	return reflect.DeepEqual(left, right)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
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
