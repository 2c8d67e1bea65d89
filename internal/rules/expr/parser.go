package expr

import "fmt"

// Program is a parsed, validated expression ready for repeated evaluation.
// Programs are immutable; a ruleset parses each expression once at
// activation and shares the result across claims.
type Program struct {
	root   node
	source string
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.source }

// Parse lexes and parses an expression into a Program. Any construct outside
// the closed grammar, including calls to functions not on the allow-list,
// fails here with ErrEvaluation.
func Parse(input string) (*Program, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrEvaluation, p.peek().text, p.peek().pos)
	}
	return &Program{root: root, source: input}, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOperator(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokenOperator {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.next()
			return op, true
		}
	}
	return "", false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return token{}, fmt.Errorf("%w: expected %s at %d, got %q", ErrEvaluation, what, t.pos, t.text)
	}
	return p.next(), nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOperator("or"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binary{op: "or", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOperator("and"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binary{op: "and", left: left, right: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.acceptOperator("not"); ok {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unary{op: "not", x: x}, nil
	}
	return p.parseComparison()
}

// parseComparison handles a single, non-chained comparison or membership
// test. `a < b < c` is a syntax error, not a silent surprise.
func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOperator("==", "!=", "<", "<=", ">", ">=", "in")
	if !ok {
		return left, nil
	}
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return binary{op: op, left: left, right: right}, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOperator("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOperator("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.acceptOperator("-"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unary{op: "-", x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()

	switch t.kind {
	case tokenNumber:
		p.next()
		return literal{value: t.num}, nil

	case tokenString:
		p.next()
		return literal{value: t.text}, nil

	case tokenLeftParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRightParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil

	case tokenLeftBracket:
		return p.parseList()

	case tokenIdent:
		return p.parseIdent()

	default:
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrEvaluation, t.text, t.pos)
	}
}

func (p *parser) parseList() (node, error) {
	if _, err := p.expect(tokenLeftBracket, "["); err != nil {
		return nil, err
	}
	var elems []node
	if p.peek().kind == tokenRightBracket {
		p.next()
		return list{elems: elems}, nil
	}
	for {
		elem, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
		if p.peek().kind == tokenComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tokenRightBracket, "]"); err != nil {
		return nil, err
	}
	return list{elems: elems}, nil
}

// parseIdent disambiguates bool literals, allow-listed calls, and dotted
// field access. Identifiers followed by "(" must be on the allow-list; an
// unknown function name is rejected before any evaluation happens.
func (p *parser) parseIdent() (node, error) {
	t, err := p.expect(tokenIdent, "identifier")
	if err != nil {
		return nil, err
	}

	switch t.text {
	case "true":
		return literal{value: true}, nil
	case "false":
		return literal{value: false}, nil
	}

	if p.peek().kind == tokenLeftParen {
		arity, ok := allowedFunctions[t.text]
		if !ok {
			return nil, fmt.Errorf("%w: function %q is not allowed", ErrEvaluation, t.text)
		}
		p.next()
		var args []node
		if p.peek().kind != tokenRightParen {
			for {
				arg, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind == tokenComma {
					p.next()
					continue
				}
				break
			}
		}
		if _, err := p.expect(tokenRightParen, ")"); err != nil {
			return nil, err
		}
		if len(args) != arity {
			return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrEvaluation, t.text, arity, len(args))
		}
		return call{name: t.text, args: args}, nil
	}

	path := []string{t.text}
	for p.peek().kind == tokenDot {
		p.next()
		part, err := p.expect(tokenIdent, "field name")
		if err != nil {
			return nil, err
		}
		path = append(path, part.text)
	}
	return field{path: path}, nil
}
