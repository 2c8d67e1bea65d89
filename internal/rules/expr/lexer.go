package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenOperator
	tokenLeftParen
	tokenRightParen
	tokenLeftBracket
	tokenRightBracket
	tokenComma
	tokenDot
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// keywords that read like identifiers but act as operators or literals.
var keywordTokens = map[string]bool{
	"and": true,
	"or":  true,
	"not": true,
	"in":  true,
}

func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at %d", ErrEvaluation, text, start)
			}
			tokens = append(tokens, token{kind: tokenNumber, text: text, num: num, pos: start})

		case r == '\'' || r == '"':
			quote := r
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrEvaluation, start)
			}
			tokens = append(tokens, token{kind: tokenString, text: sb.String(), pos: start})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			text := string(runes[start:i])
			if keywordTokens[text] {
				tokens = append(tokens, token{kind: tokenOperator, text: text, pos: start})
			} else {
				tokens = append(tokens, token{kind: tokenIdent, text: text, pos: start})
			}

		case r == '(':
			tokens = append(tokens, token{kind: tokenLeftParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRightParen, text: ")", pos: i})
			i++
		case r == '[':
			tokens = append(tokens, token{kind: tokenLeftBracket, text: "[", pos: i})
			i++
		case r == ']':
			tokens = append(tokens, token{kind: tokenRightBracket, text: "]", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", pos: i})
			i++
		case r == '.':
			tokens = append(tokens, token{kind: tokenDot, text: ".", pos: i})
			i++

		default:
			op, width, err := lexOperator(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenOperator, text: op, pos: i})
			i += width
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes)})
	return tokens, nil
}

// lexOperator reads symbolic operators. && and || are accepted as aliases
// for and/or; ! for not.
func lexOperator(runes []rune, i int) (string, int, error) {
	two := ""
	if i+1 < len(runes) {
		two = string(runes[i : i+2])
	}
	switch two {
	case "==", "!=", "<=", ">=":
		return two, 2, nil
	case "&&":
		return "and", 2, nil
	case "||":
		return "or", 2, nil
	}

	switch runes[i] {
	case '<', '>', '+', '-', '*', '/', '%':
		return string(runes[i]), 1, nil
	case '!':
		return "not", 1, nil
	}
	return "", 0, fmt.Errorf("%w: unexpected character %q at %d", ErrEvaluation, string(runes[i]), i)
}
