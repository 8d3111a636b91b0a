package specparser

import (
	"fmt"
	"strings"

	"factgraph/pkg/spec"
)

// Parse consumes the concrete textual form (§6) and returns its AST. It fails
// with *ParseError on malformed input and with *spec.InvalidError if the
// parsed specification violates label-scope invariants (§3).
func Parse(src string) (*spec.Specification, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	s, err := p.parseSpecification()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenEOF); err != nil {
		return nil, err
	}
	if err := spec.Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

type parser struct {
	tokens []Token
	pos    int
	// unknownStack holds the label of the match currently being parsed, so
	// that a path condition's left-hand side can be checked against it.
	unknownStack []string
}

func (p *parser) cur() Token {
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	if p.cur().Kind != kind {
		return Token{}, &ParseError{Position: p.cur().Position, Expected: kind.String()}
	}
	return p.advance(), nil
}

func (p *parser) expectIdentText(text string) error {
	tok, err := p.expect(TokenIdent)
	if err != nil {
		return err
	}
	if tok.Text != text {
		return &ParseError{Position: tok.Position, Expected: fmt.Sprintf("identifier %q", text)}
	}
	return nil
}

func (p *parser) parseSpecification() (*spec.Specification, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var givens []spec.Given
	if p.cur().Kind != TokenRParen {
		for {
			g, err := p.parseGiven()
			if err != nil {
				return nil, err
			}
			givens = append(givens, g)
			if p.cur().Kind == TokenComma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	matches, err := p.parseMatchList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenFatArrow); err != nil {
		return nil, err
	}
	projection, err := p.parseProjection()
	if err != nil {
		return nil, err
	}
	return &spec.Specification{Given: givens, Matches: matches, Projection: projection}, nil
}

func (p *parser) parseGiven() (spec.Given, error) {
	name, err := p.expect(TokenIdent)
	if err != nil {
		return spec.Given{}, err
	}
	if _, err := p.expect(TokenColon); err != nil {
		return spec.Given{}, err
	}
	typ, err := p.expect(TokenIdent)
	if err != nil {
		return spec.Given{}, err
	}
	p.unknownStack = append(p.unknownStack, name.Text)
	defer p.popUnknown()
	conds, err := p.parseOptionalConditions()
	if err != nil {
		return spec.Given{}, err
	}
	return spec.Given{Label: spec.TypedLabel{Name: name.Text, Type: typ.Text}, Conditions: conds}, nil
}

func (p *parser) popUnknown() {
	p.unknownStack = p.unknownStack[:len(p.unknownStack)-1]
}

func (p *parser) currentUnknown() string {
	if len(p.unknownStack) == 0 {
		return ""
	}
	return p.unknownStack[len(p.unknownStack)-1]
}

func (p *parser) parseMatchList() ([]spec.Match, error) {
	var matches []spec.Match
	for p.cur().Kind == TokenIdent {
		m, err := p.parseMatch()
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (p *parser) parseMatch() (spec.Match, error) {
	name, err := p.expect(TokenIdent)
	if err != nil {
		return spec.Match{}, err
	}
	if _, err := p.expect(TokenColon); err != nil {
		return spec.Match{}, err
	}
	typ, err := p.expect(TokenIdent)
	if err != nil {
		return spec.Match{}, err
	}
	p.unknownStack = append(p.unknownStack, name.Text)
	defer p.popUnknown()
	conds, err := p.parseOptionalConditions()
	if err != nil {
		return spec.Match{}, err
	}
	return spec.Match{Unknown: spec.TypedLabel{Name: name.Text, Type: typ.Text}, Conditions: conds}, nil
}

func (p *parser) parseOptionalConditions() ([]spec.Condition, error) {
	var conds []spec.Condition
	for p.cur().Kind == TokenLBracket {
		p.advance()
		for p.cur().Kind != TokenRBracket {
			c, err := p.parseCondition()
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		if _, err := p.expect(TokenRBracket); err != nil {
			return nil, err
		}
	}
	return conds, nil
}

func (p *parser) parseCondition() (spec.Condition, error) {
	exists := true
	if p.cur().Kind == TokenBang {
		p.advance()
		exists = false
		if err := p.expectIdentText("E"); err != nil {
			return nil, err
		}
		return p.parseExistentialBody(exists)
	}
	if p.cur().Kind == TokenIdent && p.cur().Text == "E" {
		p.advance()
		return p.parseExistentialBody(exists)
	}
	return p.parsePathCondition()
}

func (p *parser) parseExistentialBody(exists bool) (spec.Condition, error) {
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	matches, err := p.parseMatchList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return spec.ExistentialCondition{Exists: exists, Matches: matches}, nil
}

func (p *parser) parsePathCondition() (spec.Condition, error) {
	leftLabel, rolesLeft, err := p.parsePathExpr()
	if err != nil {
		return nil, err
	}
	if leftLabel != p.currentUnknown() {
		return nil, &ParseError{Position: p.cur().Position, Expected: fmt.Sprintf("path condition starting at %q (the enclosing match's unknown)", p.currentUnknown())}
	}
	if _, err := p.expect(TokenEquals); err != nil {
		return nil, err
	}
	labelRight, rolesRight, err := p.parsePathExpr()
	if err != nil {
		return nil, err
	}
	return spec.PathCondition{RolesLeft: rolesLeft, LabelRight: labelRight, RolesRight: rolesRight}, nil
}

// parsePathExpr parses `label(->role[:Type])*` and returns the starting label
// plus the sequence of role hops.
func (p *parser) parsePathExpr() (string, []spec.Role, error) {
	label, err := p.expect(TokenIdent)
	if err != nil {
		return "", nil, err
	}
	var roles []spec.Role
	for p.cur().Kind == TokenArrow {
		p.advance()
		roleName, err := p.expect(TokenIdent)
		if err != nil {
			return "", nil, err
		}
		predType := ""
		if p.cur().Kind == TokenColon {
			p.advance()
			typTok, err := p.expect(TokenIdent)
			if err != nil {
				return "", nil, err
			}
			predType = typTok.Text
		}
		roles = append(roles, spec.Role{Name: roleName.Text, PredecessorType: predType})
	}
	return label.Text, roles, nil
}

func (p *parser) parseProjection() (spec.Projection, error) {
	switch p.cur().Kind {
	case TokenHash:
		p.advance()
		label, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		return spec.HashProjection{Label: label.Text}, nil
	case TokenIdent:
		tok := p.advance()
		if dot := strings.IndexByte(tok.Text, '.'); dot >= 0 {
			return spec.FieldProjection{Label: tok.Text[:dot], Field: tok.Text[dot+1:]}, nil
		}
		return spec.FactProjection{Label: tok.Text}, nil
	case TokenLBrace:
		return p.parseBraceProjection()
	default:
		return nil, &ParseError{Position: p.cur().Position, Expected: "a projection"}
	}
}

func (p *parser) parseBraceProjection() (spec.Projection, error) {
	p.advance() // consume '{'

	// Disambiguate composite ({ name = projection, ... }) from a nested
	// specification projection ({ match... } => projection) by lookahead:
	// a composite field is `ident '='`, a match declaration is `ident ':'`.
	if p.cur().Kind == TokenRBrace || (p.cur().Kind == TokenIdent && p.peekKindAt(1) == TokenEquals) {
		var names []string
		values := make(map[string]spec.Projection)
		for p.cur().Kind != TokenRBrace {
			name, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenEquals); err != nil {
				return nil, err
			}
			value, err := p.parseProjection()
			if err != nil {
				return nil, err
			}
			names = append(names, name.Text)
			values[name.Text] = value
			if p.cur().Kind == TokenComma {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(TokenRBrace); err != nil {
			return nil, err
		}
		return spec.CompositeProjection{Names: names, Values: values}, nil
	}

	matches, err := p.parseMatchList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenFatArrow); err != nil {
		return nil, err
	}
	nestedProjection, err := p.parseProjection()
	if err != nil {
		return nil, err
	}
	return spec.SpecificationProjection{Nested: &spec.Specification{Matches: matches, Projection: nestedProjection}}, nil
}

func (p *parser) peekKindAt(offset int) TokenKind {
	idx := p.pos + offset
	if idx >= len(p.tokens) {
		return TokenEOF
	}
	return p.tokens[idx].Kind
}
