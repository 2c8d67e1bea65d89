package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimContext() Context {
	return Context{
		"claim": map[string]any{
			"billed_amount":   1250.50,
			"claim_type":      "professional",
			"procedure_codes": []string{"99213", "81002"},
			"diagnosis_codes": []string{"E11.9"},
			"service_date":    time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC),
			"submitted_at":    time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC),
		},
		"member": map[string]any{
			"claim_count":  7,
			"denied_count": 2,
			"total_billed": 9300.0,
		},
		"provider": map[string]any{
			"flagged_count": 0,
		},
	}
}

func TestEvaluate_Expressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"numeric comparison", "claim.billed_amount > 1000", true},
		{"numeric comparison false", "claim.billed_amount > 2000", false},
		{"negative amount check", "claim.billed_amount <= 0", false},
		{"equality on strings", "claim.claim_type == 'professional'", true},
		{"inequality", "claim.claim_type != 'pharmacy'", true},
		{"boolean and", "claim.billed_amount > 1000 and member.claim_count < 10", true},
		{"boolean or", "claim.billed_amount > 9999 or member.denied_count >= 2", true},
		{"not", "not (claim.billed_amount > 2000)", true},
		{"symbolic aliases", "claim.billed_amount > 1000 && !(member.claim_count > 10)", true},
		{"membership", "claim.claim_type in ['professional', 'dental']", true},
		{"membership false", "claim.claim_type in ['pharmacy']", false},
		{"arithmetic", "claim.billed_amount * 2 > 2500", true},
		{"modulo", "member.claim_count % 2 == 1", true},
		{"len of list", "len(claim.procedure_codes) == 2", true},
		{"len of string", "len(claim.claim_type) > 5", true},
		{"abs", "abs(0 - claim.billed_amount) == claim.billed_amount", true},
		{"min max", "min(member.claim_count, 10) == 7 and max(member.claim_count, 10) == 10", true},
		{"days between", "days_between(claim.service_date, claim.submitted_at) == 2", true},
		{"days between is signed", "days_between(claim.submitted_at, claim.service_date) < 0", true},
		{"intersects", "intersects(claim.procedure_codes, ['81002', '99999'])", true},
		{"intersects false", "intersects(claim.procedure_codes, ['00000'])", false},
		{"date ordering", "claim.service_date < claim.submitted_at", true},
		{"parentheses precedence", "(member.denied_count + 1) * 3 == 9", true},
		{"ratio", "member.denied_count / member.claim_count > 0.25", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr, claimContext(), time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Determinism(t *testing.T) {
	// The same expression against the same context always yields the same
	// result; the evaluator has no hidden state.
	expr := "claim.billed_amount > 1000 and len(claim.procedure_codes) == 2"
	prog, err := Parse(expr)
	require.NoError(t, err)

	for range 50 {
		got, err := prog.Eval(claimContext(), time.Second)
		require.NoError(t, err)
		assert.True(t, got)
	}
}

func TestParse_RejectsDisallowed(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"unknown function", "exec('rm -rf /')"},
		{"unlisted builtin", "print(claim.billed_amount)"},
		{"wrong arity", "len(claim.procedure_codes, 2)"},
		{"dangling operator", "claim.billed_amount >"},
		{"chained comparison", "1 < claim.billed_amount < 3"},
		{"unterminated string", "claim.claim_type == 'professional"},
		{"unexpected character", "claim.billed_amount @ 3"},
		{"empty expression", ""},
		{"trailing garbage", "claim.billed_amount > 1 claim"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEvaluation)
		})
	}
}

func TestEvaluate_TypeErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"unknown field", "claim.nonexistent > 1"},
		{"non-bool result", "claim.billed_amount + 1"},
		{"string arithmetic", "claim.claim_type + 1 == 2"},
		{"not on number", "not claim.billed_amount"},
		{"and on numbers", "claim.billed_amount and true"},
		{"in on scalar", "claim.claim_type in claim.billed_amount"},
		{"division by zero", "claim.billed_amount / 0 > 1"},
		{"mixed comparison", "claim.claim_type > 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.expr, claimContext(), time.Second)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEvaluation)
		})
	}
}

func TestEvaluate_NoIO(t *testing.T) {
	// Field access beyond the supplied context is the only way to reach
	// data; dotted paths that wander off the context map fail closed.
	_, err := Evaluate("os.environ.path == 'x'", claimContext(), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestEvaluate_Timeout(t *testing.T) {
	// A deadline in the past trips the step-based clock check.
	prog, err := Parse("len(claim.procedure_codes) > 0 and member.claim_count > 0 and provider.flagged_count == 0 and claim.billed_amount > 0 and member.total_billed > 0 and member.denied_count >= 0 and claim.claim_type == 'professional' and len(claim.diagnosis_codes) > 0")
	require.NoError(t, err)

	_, err = prog.Eval(claimContext(), -time.Second)
	// Short expressions may finish before the periodic deadline poll; the
	// guarantee is that a timeout, when reported, is ErrTimeout.
	if err != nil {
		assert.ErrorIs(t, err, ErrTimeout)
	}
}

func TestEvaluate_ShortCircuit(t *testing.T) {
	// The right side of a decided boolean must not evaluate: an unknown
	// field after a short-circuit is never touched.
	got, err := Evaluate("false and claim.nonexistent > 1", claimContext(), time.Second)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Evaluate("true or claim.nonexistent > 1", claimContext(), time.Second)
	require.NoError(t, err)
	assert.True(t, got)
}
