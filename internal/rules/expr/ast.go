// Package expr implements the sandboxed rule expression language: a closed
// abstract syntax evaluated by an explicit interpreter. This is the only
// place a rule author's text is allowed to run; everything outside the node
// and function allow-list is rejected at parse time. Evaluation is pure: no
// I/O, no reflection into host types, hard wall-clock deadline.
package expr

import "errors"

// Sentinel errors. Syntax errors, disallowed constructs, and type errors all
// surface as ErrEvaluation; deadline expiry surfaces as ErrTimeout. The rule
// engine converts both into FLAG outcomes, never into a crash.
var (
	ErrEvaluation = errors.New("expression evaluation failed")
	ErrTimeout    = errors.New("expression evaluation timed out")
)

// node is the closed set of AST node types. New node kinds require touching
// the parser, the evaluator, and the allow-list review in lockstep.
type node interface {
	nodeKind() string
}

// literal holds a number (float64), string, or bool constant.
type literal struct {
	value any
}

// list holds a bracketed literal list, e.g. ["A123", "B456"].
type list struct {
	elems []node
}

// field is a dotted path into the claim context, e.g. claim.billed_amount.
type field struct {
	path []string
}

// unary is `not x` or `-x`.
type unary struct {
	op string
	x  node
}

// binary covers boolean, comparison, membership, and arithmetic operators.
type binary struct {
	op    string
	left  node
	right node
}

// call invokes one of the allow-listed functions.
type call struct {
	name string
	args []node
}

func (literal) nodeKind() string { return "literal" }
func (list) nodeKind() string    { return "list" }
func (field) nodeKind() string   { return "field" }
func (unary) nodeKind() string   { return "unary" }
func (binary) nodeKind() string  { return "binary" }
func (call) nodeKind() string    { return "call" }

// allowedFunctions is the complete function surface of the language.
// Anything else fails at parse time.
var allowedFunctions = map[string]int{
	"len":          1,
	"abs":          1,
	"min":          2,
	"max":          2,
	"days_between": 2,
	"intersects":   2,
}
