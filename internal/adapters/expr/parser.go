package expr

import (
	"fmt"
	"strconv"
)

// The expression language is a deliberately small, closed AST. There is no
// dynamic code loading, no reflection and no host I/O; the only callable
// functions are the enumerated builtins in eval.go.

type node interface{}

type literalNode struct {
	value interface{}
}

type identNode struct {
	name string
}

type memberNode struct {
	target node
	field  string
}

type indexNode struct {
	target node
	index  node
}

type unaryNode struct {
	op      tokenKind
	operand node
}

type binaryNode struct {
	op          tokenKind
	left, right node
}

type callNode struct {
	name string
	args []node
}

type parser struct {
	lex     *lexer
	current token
	depth   int
}

const maxParseDepth = 64

// Parse compiles an expression into its AST. Parsing is independent of
// evaluation so the validator can reject malformed expressions up front.
func Parse(src string) (node, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	n, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if p.current.kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input at position %d", p.current.pos)
	}
	return n, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

var binaryPrecedence = map[tokenKind]int{
	tokOr:      1,
	tokAnd:     2,
	tokEq:      3,
	tokNeq:     3,
	tokLt:      4,
	tokLte:     4,
	tokGt:      4,
	tokGte:     4,
	tokPlus:    5,
	tokMinus:   5,
	tokStar:    6,
	tokSlash:   6,
	tokPercent: 6,
}

func (p *parser) parseExpr(minPrec int) (node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxParseDepth {
		return nil, fmt.Errorf("expression nesting exceeds limit of %d", maxParseDepth)
	}

	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		prec, ok := binaryPrecedence[p.current.kind]
		if !ok || prec < minPrec {
			return left, nil
		}
		op := p.current.kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	switch p.current.kind {
	case tokMinus, tokNot:
		op := p.current.kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.current.kind {
		case tokDot:
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.current.kind != tokIdent {
				return nil, fmt.Errorf("expected field name after '.' at position %d", p.current.pos)
			}
			n = &memberNode{target: n, field: p.current.text}
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokLBracket:
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if p.current.kind != tokRBracket {
				return nil, fmt.Errorf("expected ']' at position %d", p.current.pos)
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			n = &indexNode{target: n, index: idx}
		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.current

	switch tok.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed number %q at position %d", tok.text, tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{value: f}, nil

	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{value: tok.text}, nil

	case tokTrue:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{value: true}, nil

	case tokFalse:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{value: false}, nil

	case tokNull:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{value: nil}, nil

	case tokIdent:
		name := tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.current.kind == tokLParen {
			return p.parseCall(name)
		}
		return &identNode{name: name}, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.current.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at position %d", p.current.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}

	return nil, fmt.Errorf("unexpected token %q at position %d", tok.text, tok.pos)
}

func (p *parser) parseCall(name string) (node, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}

	var args []node
	if p.current.kind != tokRParen {
		for {
			arg, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.current.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}

	if p.current.kind != tokRParen {
		return nil, fmt.Errorf("expected ')' closing call to %s at position %d", name, p.current.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	return &callNode{name: name, args: args}, nil
}
