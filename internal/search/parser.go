package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"contentdir/internal/cds"
)

// Parser implements the recursive-descent grammar of spec §4.7.1:
//
//	expr        := or_expr
//	or_expr     := and_expr ( OR and_expr )*
//	and_expr    := rel_expr ( AND rel_expr )*
//	rel_expr    := '(' expr ')' | simple_rel
//	simple_rel  := property cmp_op literal
//	             | property STRINGOP literal
//	             | property EXISTS bool_lit
type Parser struct {
	lex  *Lexer
	tok  Token
	now  time.Time
}

var dynamicLiteralPattern = regexp.MustCompile(`^@last(\d+)$`)

// NewParser returns a Parser over expr. now resolves dynamic literals such
// as @last7 (spec §4.7.2).
func NewParser(expr string, now time.Time) (*Parser, error) {
	p := &Parser{lex: NewLexer(expr), now: now}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

// Parse consumes the whole input and returns the compiled AST.
func (p *Parser) Parse() (Expr, error) {
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != TokEOF {
		return nil, &cds.ParseError{Col: p.tok.Column, Msg: "unexpected trailing input " + p.tok.Text}
	}
	return expr, nil
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &OrExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseRel()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseRel()
		if err != nil {
			return nil, err
		}
		left = &AndExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseRel() (Expr, error) {
	if p.tok.Kind == TokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != TokRParen {
			return nil, &cds.ParseError{Col: p.tok.Column, Msg: "expected ')'"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &ParenExpr{Inner: inner}, nil
	}
	return p.parseSimpleRel()
}

func (p *Parser) parseSimpleRel() (Expr, error) {
	if p.tok.Kind != TokProperty {
		return nil, &cds.ParseError{Col: p.tok.Column, Msg: "expected property, got " + p.tok.Text}
	}
	property := p.tok.Text
	if err := p.advance(); err != nil {
		return nil, err
	}

	switch p.tok.Kind {
	case TokCompareOp:
		op := strings.ToLower(p.tok.Text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &RelExpr{Kind: RelCompare, Property: property, Op: op, Value: value}, nil

	case TokStringOp:
		op := strings.ToLower(p.tok.Text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &RelExpr{Kind: RelString, Property: property, Op: op, Value: value}, nil

	case TokExists:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.Kind != TokBool {
			return nil, &cds.ParseError{Col: p.tok.Column, Msg: "expected true/false after exists"}
		}
		boolVal := p.tok.Text == "true"
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &RelExpr{Kind: RelExists, Property: property, BoolVal: boolVal}, nil

	default:
		return nil, &cds.ParseError{Col: p.tok.Column, Msg: "expected comparison, string operator, or exists"}
	}
}

// parseLiteral accepts a quoted string, or a bare dynamic token such as
// @last7 which is resolved against p.now (spec §4.7.2).
func (p *Parser) parseLiteral() (string, error) {
	switch p.tok.Kind {
	case TokString:
		v := p.tok.Text
		if err := p.advance(); err != nil {
			return "", err
		}
		return v, nil
	case TokProperty:
		if m := dynamicLiteralPattern.FindStringSubmatch(p.tok.Text); m != nil {
			days, _ := strconv.Atoi(m[1])
			v := strconv.FormatInt(p.now.Add(-time.Duration(days)*24*time.Hour).Unix(), 10)
			if err := p.advance(); err != nil {
				return "", err
			}
			return v, nil
		}
		return "", &cds.ParseError{Col: p.tok.Column, Msg: "expected quoted literal, got " + p.tok.Text}
	default:
		return "", &cds.ParseError{Col: p.tok.Column, Msg: "expected literal"}
	}
}

// Parse compiles expr into an AST in one call.
func Parse(expr string, now time.Time) (Expr, error) {
	p, err := NewParser(expr, now)
	if err != nil {
		return nil, err
	}
	return p.Parse()
}
