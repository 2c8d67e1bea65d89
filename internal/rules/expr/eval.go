package expr

import (
	"fmt"
	"math"
	"time"
)

// Context is the flat-or-nested field namespace an expression may read.
// Values must be numbers, strings, bools, time.Time, string slices, or
// nested Contexts; anything else is a type error at evaluation time.
type Context map[string]any

// DefaultTimeout bounds a single expression evaluation.
const DefaultTimeout = 5 * time.Second

// Evaluate parses and evaluates an expression against ctx in one step.
// Prefer Parse + Program.Eval when the same expression runs per claim.
func Evaluate(input string, ctx Context, timeout time.Duration) (bool, error) {
	prog, err := Parse(input)
	if err != nil {
		return false, err
	}
	return prog.Eval(ctx, timeout)
}

// Eval evaluates the program against ctx under a wall-clock timeout. The
// result must be boolean; a non-boolean top-level value is an evaluation
// error. Eval never performs I/O and is safe for concurrent use.
func (p *Program) Eval(ctx Context, timeout time.Duration) (bool, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ev := &evaluator{ctx: ctx, deadline: time.Now().Add(timeout)}
	v, err := ev.eval(p.root)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression result is %T, want bool", ErrEvaluation, v)
	}
	return b, nil
}

type evaluator struct {
	ctx      Context
	deadline time.Time
	steps    int
}

// checkDeadline polls the wall clock every few steps so a pathological
// expression cannot run unbounded.
func (ev *evaluator) checkDeadline() error {
	ev.steps++
	if ev.steps%16 == 0 && time.Now().After(ev.deadline) {
		return ErrTimeout
	}
	return nil
}

func (ev *evaluator) eval(n node) (any, error) {
	if err := ev.checkDeadline(); err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case literal:
		return n.value, nil

	case list:
		elems := make([]any, 0, len(n.elems))
		for _, e := range n.elems {
			v, err := ev.eval(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return elems, nil

	case field:
		return ev.resolveField(n.path)

	case unary:
		return ev.evalUnary(n)

	case binary:
		return ev.evalBinary(n)

	case call:
		return ev.evalCall(n)

	default:
		return nil, fmt.Errorf("%w: unknown node kind %q", ErrEvaluation, n.nodeKind())
	}
}

func (ev *evaluator) resolveField(path []string) (any, error) {
	var current any = map[string]any(ev.ctx)
	for i, part := range path {
		m, ok := toMap(current)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a field container", ErrEvaluation, joinPath(path[:i]))
		}
		v, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %s", ErrEvaluation, joinPath(path[:i+1]))
		}
		current = v
	}
	return normalize(current)
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Context:
		return m, true
	default:
		return nil, false
	}
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

// normalize converts context values to the evaluator's canonical types:
// float64, string, bool, time.Time, or []any.
func normalize(v any) (any, error) {
	switch v := v.(type) {
	case float64, string, bool, time.Time:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported context value type %T", ErrEvaluation, v)
	}
}

func (ev *evaluator) evalUnary(n unary) (any, error) {
	v, err := ev.eval(n.x)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "not":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: not requires bool, got %T", ErrEvaluation, v)
		}
		return !b, nil
	case "-":
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: unary minus requires number, got %T", ErrEvaluation, v)
		}
		return -f, nil
	default:
		return nil, fmt.Errorf("%w: unknown unary operator %q", ErrEvaluation, n.op)
	}
}

func (ev *evaluator) evalBinary(n binary) (any, error) {
	// Boolean operators short-circuit; the right side only evaluates when
	// the left did not already decide the result.
	if n.op == "and" || n.op == "or" {
		lv, err := ev.eval(n.left)
		if err != nil {
			return nil, err
		}
		lb, ok := lv.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s requires bool operands, got %T", ErrEvaluation, n.op, lv)
		}
		if n.op == "and" && !lb {
			return false, nil
		}
		if n.op == "or" && lb {
			return true, nil
		}
		rv, err := ev.eval(n.right)
		if err != nil {
			return nil, err
		}
		rb, ok := rv.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s requires bool operands, got %T", ErrEvaluation, n.op, rv)
		}
		return rb, nil
	}

	lv, err := ev.eval(n.left)
	if err != nil {
		return nil, err
	}
	rv, err := ev.eval(n.right)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equals(lv, rv)
	case "!=":
		eq, err := equals(lv, rv)
		if err != nil {
			return nil, err
		}
		return !eq, nil
	case "<", "<=", ">", ">=":
		return compare(n.op, lv, rv)
	case "in":
		return membership(lv, rv)
	case "+", "-", "*", "/", "%":
		return arithmetic(n.op, lv, rv)
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrEvaluation, n.op)
	}
}

func equals(l, r any) (bool, error) {
	switch lv := l.(type) {
	case float64:
		if rv, ok := r.(float64); ok {
			return lv == rv, nil
		}
	case string:
		if rv, ok := r.(string); ok {
			return lv == rv, nil
		}
	case bool:
		if rv, ok := r.(bool); ok {
			return lv == rv, nil
		}
	case time.Time:
		if rv, ok := r.(time.Time); ok {
			return lv.Equal(rv), nil
		}
	}
	return false, fmt.Errorf("%w: cannot compare %T with %T", ErrEvaluation, l, r)
}

func compare(op string, l, r any) (bool, error) {
	if lt, lok := l.(time.Time); lok {
		rt, rok := r.(time.Time)
		if !rok {
			return false, fmt.Errorf("%w: cannot compare %T with %T", ErrEvaluation, l, r)
		}
		return orderResult(op, lt.Compare(rt)), nil
	}

	switch lv := l.(type) {
	case float64:
		rv, ok := r.(float64)
		if !ok {
			return false, fmt.Errorf("%w: cannot compare %T with %T", ErrEvaluation, l, r)
		}
		switch {
		case lv < rv:
			return orderResult(op, -1), nil
		case lv > rv:
			return orderResult(op, 1), nil
		default:
			return orderResult(op, 0), nil
		}
	case string:
		rv, ok := r.(string)
		if !ok {
			return false, fmt.Errorf("%w: cannot compare %T with %T", ErrEvaluation, l, r)
		}
		switch {
		case lv < rv:
			return orderResult(op, -1), nil
		case lv > rv:
			return orderResult(op, 1), nil
		default:
			return orderResult(op, 0), nil
		}
	}
	return false, fmt.Errorf("%w: cannot order %T", ErrEvaluation, l)
}

func orderResult(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func membership(needle, haystack any) (bool, error) {
	elems, ok := haystack.([]any)
	if !ok {
		return false, fmt.Errorf("%w: in requires a list on the right, got %T", ErrEvaluation, haystack)
	}
	for _, e := range elems {
		eq, err := equals(needle, e)
		if err != nil {
			continue // mixed-type lists: skip incomparable elements
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

func arithmetic(op string, l, r any) (any, error) {
	lf, lok := l.(float64)
	rf, rok := r.(float64)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: %s requires numbers, got %T and %T", ErrEvaluation, op, l, r)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrEvaluation)
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrEvaluation)
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("%w: unknown arithmetic operator %q", ErrEvaluation, op)
}

func (ev *evaluator) evalCall(n call) (any, error) {
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch n.name {
	case "len":
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		}
		return nil, fmt.Errorf("%w: len requires string or list, got %T", ErrEvaluation, args[0])

	case "abs":
		f, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: abs requires number, got %T", ErrEvaluation, args[0])
		}
		return math.Abs(f), nil

	case "min", "max":
		a, aok := args[0].(float64)
		b, bok := args[1].(float64)
		if !aok || !bok {
			return nil, fmt.Errorf("%w: %s requires numbers", ErrEvaluation, n.name)
		}
		if n.name == "min" {
			return math.Min(a, b), nil
		}
		return math.Max(a, b), nil

	case "days_between":
		a, err := asTime(args[0])
		if err != nil {
			return nil, err
		}
		b, err := asTime(args[1])
		if err != nil {
			return nil, err
		}
		// Signed: positive when the second argument is later, so rules
		// can tell "submitted after service" from the reverse.
		return b.Sub(a).Hours() / 24, nil

	case "intersects":
		a, aok := args[0].([]any)
		b, bok := args[1].([]any)
		if !aok || !bok {
			return nil, fmt.Errorf("%w: intersects requires two lists", ErrEvaluation)
		}
		for _, x := range a {
			for _, y := range b {
				if eq, err := equals(x, y); err == nil && eq {
					return true, nil
				}
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("%w: function %q is not allowed", ErrEvaluation, n.name)
}

func asTime(v any) (time.Time, error) {
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			t, err = time.Parse("2006-01-02", v)
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q is not a date", ErrEvaluation, v)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: %T is not a date", ErrEvaluation, v)
	}
}
