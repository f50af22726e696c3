package netmap

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed policy text with the offending token.
type ParseError struct {
	Position int    // Position is the index of the token, 0-based
	Token    string // Token is the text at Position, empty at end of input
	Message  string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("policy parse error at end of input: %s", e.Message)
	}

	return fmt.Sprintf("policy parse error at token %d (%q): %s", e.Position, e.Token, e.Message)
}

// ParsePolicy parses the text form of a placement policy:
//
//	REP 2 IN X
//	CBF 2
//	SELECT 2 IN DISTINCT Country FROM EU AS X
//	FILTER Continent EQ Europe AS EU
//
// Tokens are separated by whitespace. The result is validated.
func ParsePolicy(text string) (*PlacementPolicy, error) {
	p := &policyParser{tokens: strings.Fields(text)}

	policy, err := p.parse()
	if err != nil {
		return nil, err
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	return policy, nil
}

// policyParser walks the token list.
type policyParser struct {
	tokens []string
	pos    int
}

func (p *policyParser) isAtEnd() bool {
	return p.pos >= len(p.tokens)
}

func (p *policyParser) peek() string {
	if p.isAtEnd() {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *policyParser) advance() string {
	t := p.peek()
	if !p.isAtEnd() {
		p.pos++
	}
	return t
}

func (p *policyParser) errorf(format string, args ...any) error {
	return &ParseError{Position: p.pos, Token: p.peek(), Message: fmt.Sprintf(format, args...)}
}

// accept consumes kw if it is the next token.
func (p *policyParser) accept(kw string) bool {
	if p.peek() == kw {
		p.pos++
		return true
	}
	return false
}

func (p *policyParser) expect(kw string) error {
	if !p.accept(kw) {
		return p.errorf("expected %s", kw)
	}
	return nil
}

func (p *policyParser) parse() (*PlacementPolicy, error) {
	policy := &PlacementPolicy{}

	for p.peek() == "REP" {
		r, err := p.parseReplica()
		if err != nil {
			return nil, err
		}
		policy.Replicas = append(policy.Replicas, r)
	}

	if len(policy.Replicas) == 0 {
		return nil, p.errorf("expected REP")
	}

	if p.accept("CBF") {
		n, err := p.parseCount()
		if err != nil {
			return nil, err
		}
		policy.BackupFactor = n
	}

	for p.peek() == "SELECT" {
		s, err := p.parseSelector()
		if err != nil {
			return nil, err
		}
		policy.Selectors = append(policy.Selectors, s)
	}

	for p.peek() == "FILTER" {
		f, err := p.parseFilterStmt()
		if err != nil {
			return nil, err
		}
		policy.Filters = append(policy.Filters, f)
	}

	if !p.isAtEnd() {
		return nil, p.errorf("unexpected token")
	}

	return policy, nil
}

// parseReplica parses: REP n [IN ident]
func (p *policyParser) parseReplica() (Replica, error) {
	p.advance()

	n, err := p.parseCount()
	if err != nil {
		return Replica{}, err
	}

	r := Replica{Count: n}
	if p.accept("IN") {
		if r.Selector, err = p.parseIdent(); err != nil {
			return Replica{}, err
		}
	}

	return r, nil
}

// parseSelector parses: SELECT n [IN [SAME|DISTINCT] ident] FROM (ident|*) [AS ident]
func (p *policyParser) parseSelector() (Selector, error) {
	p.advance()

	n, err := p.parseCount()
	if err != nil {
		return Selector{}, err
	}

	s := Selector{Count: n}

	if p.accept("IN") {
		switch {
		case p.accept("SAME"):
			s.Clause = ClauseSame
		case p.accept("DISTINCT"):
			s.Clause = ClauseDistinct
		}

		if s.Attribute, err = p.parseIdent(); err != nil {
			return Selector{}, err
		}
	}

	if err := p.expect("FROM"); err != nil {
		return Selector{}, err
	}

	if p.accept("*") {
		s.Filter = "*"
	} else if s.Filter, err = p.parseIdent(); err != nil {
		return Selector{}, err
	}

	if p.accept("AS") {
		if s.Name, err = p.parseIdent(); err != nil {
			return Selector{}, err
		}
	}

	return s, nil
}

// parseFilterStmt parses: FILTER orChain AS ident
func (p *policyParser) parseFilterStmt() (Filter, error) {
	p.advance()

	f, err := p.parseOrChain()
	if err != nil {
		return Filter{}, err
	}

	if err := p.expect("AS"); err != nil {
		return Filter{}, err
	}

	if f.Name, err = p.parseIdent(); err != nil {
		return Filter{}, err
	}

	return f, nil
}

// parseOrChain parses: andChain {OR andChain}
func (p *policyParser) parseOrChain() (Filter, error) {
	return p.parseChain("OR", OpOR, p.parseAndChain)
}

// parseAndChain parses: expr {AND expr}
func (p *policyParser) parseAndChain() (Filter, error) {
	return p.parseChain("AND", OpAND, p.parseExpr)
}

func (p *policyParser) parseChain(kw string, op Operation, next func() (Filter, error)) (Filter, error) {
	first, err := next()
	if err != nil {
		return Filter{}, err
	}

	parts := []Filter{first}
	for p.accept(kw) {
		f, err := next()
		if err != nil {
			return Filter{}, err
		}
		parts = append(parts, f)
	}

	if len(parts) == 1 {
		return first, nil
	}

	return Filter{Op: op, Filters: parts}, nil
}

// parseExpr parses: @ident | ident op value
func (p *policyParser) parseExpr() (Filter, error) {
	tok := p.peek()

	if ref, ok := strings.CutPrefix(tok, "@"); ok {
		if !isIdent(ref) {
			return Filter{}, p.errorf("invalid filter reference")
		}
		p.advance()
		return Filter{Name: ref}, nil
	}

	key, err := p.parseIdent()
	if err != nil {
		return Filter{}, err
	}

	op, ok := simpleOps[p.peek()]
	if !ok {
		return Filter{}, p.errorf("expected comparison operator")
	}
	p.advance()

	if p.isAtEnd() {
		return Filter{}, p.errorf("expected value")
	}

	return Filter{Key: key, Op: op, Value: p.advance()}, nil
}

var simpleOps = map[string]Operation{
	"EQ": OpEQ,
	"NE": OpNE,
	"GT": OpGT,
	"GE": OpGE,
	"LT": OpLT,
	"LE": OpLE,
}

// parseCount parses a positive integer.
func (p *policyParser) parseCount() (uint32, error) {
	tok := p.peek()
	if tok == "" || tok[0] == '0' {
		return 0, p.errorf("expected positive integer")
	}

	n, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, p.errorf("expected positive integer")
	}
	p.advance()

	return uint32(n), nil
}

func (p *policyParser) parseIdent() (string, error) {
	tok := p.peek()
	if !isIdent(tok) || keywords[tok] {
		return "", p.errorf("expected identifier")
	}
	p.advance()

	return tok, nil
}

var keywords = map[string]bool{
	"REP": true, "IN": true, "CBF": true, "SELECT": true, "FROM": true,
	"AS": true, "FILTER": true, "SAME": true, "DISTINCT": true,
	"AND": true, "OR": true,
}

// isIdent reports whether s is a letter followed by letters, digits, '_' or '-'.
func isIdent(s string) bool {
	if s == "" || !isLetter(s[0]) {
		return false
	}

	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isLetter(c) && !isDigit(c) && c != '_' && c != '-' {
			return false
		}
	}

	return true
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
