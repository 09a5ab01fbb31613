package ast

import "fmt"

// SyntaxError is returned for every parse failure; the executor package
// classifies it into the Syntax error kind.
type SyntaxError struct{ Msg string }

func (e *SyntaxError) Error() string { return "Expected " + e.Msg }

func syntaxf(format string, args ...any) error {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...)}
}

// Parser turns Cypher source into a Query by recursive descent over a
// fully-materialized token slice: tokenize up front, then a single
// left-to-right pass with small lookahead, rather than a
// streaming/combinator style.
type Parser struct {
	toks []token
	pos  int
}

// Parse tokenizes and parses a single Cypher statement.
func Parse(src string) (q *Query, err error) {
	defer func() {
		if r := recover(); r != nil {
			if se, ok := r.(*SyntaxError); ok {
				err = se
				return
			}
			panic(r)
		}
	}()

	l := newLexer(src)
	var toks []token
	for {
		t := l.next()
		toks = append(toks, t)
		if t.kind == tokEOF {
			break
		}
	}
	p := &Parser{toks: toks}
	q = p.parseQuery()
	if !p.atEOF() {
		panic(syntaxf("end of query, found %q", p.peek().text))
	}
	return q, nil
}

func (p *Parser) peek() token      { return p.toks[p.pos] }
func (p *Parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos+n]
}
func (p *Parser) atEOF() bool { return p.peek().kind == tokEOF }
func (p *Parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokKeyword && t.text == kw
}

func (p *Parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *Parser) expectKeyword(kw string) {
	if !p.isKeyword(kw) {
		panic(syntaxf("%s", kw))
	}
	p.advance()
}

func (p *Parser) expectPunct(s string) {
	if !p.isPunct(s) {
		panic(syntaxf("%q", s))
	}
	p.advance()
}

func (p *Parser) expectIdent() string {
	t := p.peek()
	if t.kind != tokIdent {
		panic(syntaxf("identifier"))
	}
	p.advance()
	return t.text
}

// --- top level ---

func (p *Parser) parseQuery() *Query {
	q := &Query{}
	// A '}' ends a CALL { ... } subquery; at the top level it is left for
	// Parse's trailing-token check to reject.
	for !p.atEOF() && !p.isPunct("}") {
		if p.isKeyword("EXPLAIN") {
			p.advance()
			q.Clauses = append(q.Clauses, &ExplainClause{})
			continue
		}
		q.Clauses = append(q.Clauses, p.parseClause())
	}
	return q
}

func (p *Parser) parseClause() Clause {
	switch {
	case p.isKeyword("OPTIONAL"):
		p.advance()
		p.expectKeyword("MATCH")
		return p.parseMatchClause(true)
	case p.isKeyword("MATCH"):
		p.advance()
		return p.parseMatchClause(false)
	case p.isKeyword("WITH"):
		p.advance()
		return p.parseWithClause()
	case p.isKeyword("RETURN"):
		p.advance()
		return p.parseReturnClause()
	case p.isKeyword("CREATE"):
		p.advance()
		return &CreateClause{Pattern: p.parsePattern()}
	case p.isKeyword("MERGE"):
		p.advance()
		return p.parseMergeClause()
	case p.isKeyword("DETACH"):
		p.advance()
		p.expectKeyword("DELETE")
		return &DeleteClause{Detach: true, Expressions: p.parseExpressionList()}
	case p.isKeyword("DELETE"):
		p.advance()
		return &DeleteClause{Expressions: p.parseExpressionList()}
	case p.isKeyword("SET"):
		p.advance()
		return &SetClause{Items: p.parseSetItems()}
	case p.isKeyword("REMOVE"):
		p.advance()
		return &RemoveClause{Items: p.parseRemoveItems()}
	case p.isKeyword("UNWIND"):
		p.advance()
		expr := p.parseExpression()
		p.expectKeyword("AS")
		alias := p.expectIdent()
		return &UnwindClause{Expr: expr, Alias: alias}
	case p.isKeyword("CALL"):
		p.advance()
		return p.parseCallClause()
	case p.isKeyword("FOREACH"):
		p.advance()
		return p.parseForeachClause()
	case p.isKeyword("UNION"):
		p.advance()
		all := false
		if p.isKeyword("ALL") {
			p.advance()
			all = true
		}
		return &UnionClause{All: all}
	default:
		panic(syntaxf("a clause keyword, found %q", p.peek().text))
	}
}

func (p *Parser) parseMatchClause(optional bool) *MatchClause {
	pat := p.parsePattern()
	var where Expression
	if p.isKeyword("WHERE") {
		p.advance()
		where = p.parseExpression()
	}
	return &MatchClause{Optional: optional, Pattern: pat, Where: where}
}

func (p *Parser) parseMergeClause() *MergeClause {
	pat := p.parsePattern()
	mc := &MergeClause{Pattern: pat}
	for p.isKeyword("ON") {
		p.advance()
		if p.isKeyword("CREATE") {
			p.advance()
			p.expectKeyword("SET")
			mc.OnCreate = append(mc.OnCreate, p.parseSetItems()...)
		} else if p.isKeyword("MATCH") {
			p.advance()
			p.expectKeyword("SET")
			mc.OnMatch = append(mc.OnMatch, p.parseSetItems()...)
		} else {
			panic(syntaxf("CREATE or MATCH after ON"))
		}
	}
	return mc
}

func (p *Parser) parseCallClause() Clause {
	if p.isPunct("{") {
		p.advance()
		sub := p.parseQuery()
		p.expectPunct("}")
		return &CallClause{Subquery: sub}
	}

	name := p.expectIdent()
	for p.isPunct(".") {
		p.advance()
		name += "." + p.expectIdent()
	}

	var args []Expression
	p.expectPunct("(")
	if !p.isPunct(")") {
		args = append(args, p.parseExpression())
		for p.isPunct(",") {
			p.advance()
			args = append(args, p.parseExpression())
		}
	}
	p.expectPunct(")")

	var yields []string
	if p.isKeyword("YIELD") {
		p.advance()
		yields = append(yields, p.expectIdent())
		for p.isPunct(",") {
			p.advance()
			yields = append(yields, p.expectIdent())
		}
	}

	return &CallClause{Name: name, Args: args, Yields: yields}
}

func (p *Parser) parseForeachClause() *ForeachClause {
	p.expectPunct("(")
	variable := p.expectIdent()
	p.expectKeyword("IN")
	list := p.parseExpression()
	p.expectPunct("|")
	var updates []Clause
	for !p.isPunct(")") {
		updates = append(updates, p.parseClause())
	}
	p.expectPunct(")")
	return &ForeachClause{Variable: variable, List: list, Updates: updates}
}

func (p *Parser) parseExpressionList() []Expression {
	exprs := []Expression{p.parseExpression()}
	for p.isPunct(",") {
		p.advance()
		exprs = append(exprs, p.parseExpression())
	}
	return exprs
}

func (p *Parser) parseSetItems() []SetItem {
	items := []SetItem{p.parseSetItem()}
	for p.isPunct(",") {
		p.advance()
		items = append(items, p.parseSetItem())
	}
	return items
}

func (p *Parser) parseSetItem() SetItem {
	variable := p.expectIdent()
	if p.isPunct(":") {
		var labels []string
		for p.isPunct(":") {
			p.advance()
			labels = append(labels, p.expectIdent())
		}
		return SetItem{Variable: variable, Labels: labels}
	}
	if p.isPunct(".") {
		p.advance()
		prop := p.expectIdent()
		p.expectPunct("=")
		value := p.parseExpression()
		return SetItem{Variable: variable, Property: prop, Value: value}
	}
	append_ := false
	if p.isPunct("+=") {
		append_ = true
		p.advance()
	} else {
		p.expectPunct("=")
	}
	value := p.parseExpression()
	return SetItem{Variable: variable, Value: value, Append: append_}
}

func (p *Parser) parseRemoveItems() []RemoveItem {
	items := []RemoveItem{p.parseRemoveItem()}
	for p.isPunct(",") {
		p.advance()
		items = append(items, p.parseRemoveItem())
	}
	return items
}

func (p *Parser) parseRemoveItem() RemoveItem {
	variable := p.expectIdent()
	if p.isPunct(".") {
		p.advance()
		return RemoveItem{Variable: variable, Property: p.expectIdent()}
	}
	var labels []string
	for p.isPunct(":") {
		p.advance()
		labels = append(labels, p.expectIdent())
	}
	return RemoveItem{Variable: variable, Labels: labels}
}

func (p *Parser) parseWithClause() *WithClause {
	wc := &WithClause{}
	if p.isKeyword("DISTINCT") {
		p.advance()
		wc.Distinct = true
	}
	wc.Items = p.parseProjectionItems()
	if p.isKeyword("WHERE") {
		p.advance()
		wc.Where = p.parseExpression()
	}
	wc.OrderBy, wc.Skip, wc.Limit = p.parseOrderSkipLimit()
	return wc
}

func (p *Parser) parseReturnClause() *ReturnClause {
	rc := &ReturnClause{}
	if p.isKeyword("DISTINCT") {
		p.advance()
		rc.Distinct = true
	}
	rc.Items = p.parseProjectionItems()
	rc.OrderBy, rc.Skip, rc.Limit = p.parseOrderSkipLimit()
	return rc
}

func (p *Parser) parseProjectionItems() []ProjectionItem {
	var items []ProjectionItem
	if p.isPunct("*") {
		p.advance()
		items = append(items, ProjectionItem{Star: true})
	} else {
		items = append(items, p.parseProjectionItem())
	}
	for p.isPunct(",") {
		p.advance()
		if p.isPunct("*") {
			p.advance()
			items = append(items, ProjectionItem{Star: true})
			continue
		}
		items = append(items, p.parseProjectionItem())
	}
	return items
}

func (p *Parser) parseProjectionItem() ProjectionItem {
	expr := p.parseExpression()
	alias := ""
	if p.isKeyword("AS") {
		p.advance()
		alias = p.expectIdent()
	}
	return ProjectionItem{Expr: expr, Alias: alias}
}

func (p *Parser) parseOrderSkipLimit() ([]OrderItem, Expression, Expression) {
	var order []OrderItem
	var skip, limit Expression

	if p.isKeyword("ORDER") {
		p.advance()
		p.expectKeyword("BY")
		order = append(order, p.parseOrderItem())
		for p.isPunct(",") {
			p.advance()
			order = append(order, p.parseOrderItem())
		}
	}
	if p.isKeyword("SKIP") {
		p.advance()
		skip = p.parseExpression()
	}
	if p.isKeyword("LIMIT") {
		p.advance()
		limit = p.parseExpression()
	}
	return order, skip, limit
}

func (p *Parser) parseOrderItem() OrderItem {
	expr := p.parseExpression()
	desc := false
	switch {
	case p.isKeyword("DESC") || p.isKeyword("DESCENDING"):
		p.advance()
		desc = true
	case p.isKeyword("ASC") || p.isKeyword("ASCENDING"):
		p.advance()
	}
	return OrderItem{Expr: expr, Desc: desc}
}

// --- patterns ---

func (p *Parser) parsePattern() Pattern {
	var pathAlias string
	if p.peek().kind == tokIdent && p.peekAt(1).kind == tokPunct && p.peekAt(1).text == "=" && p.peekAt(2).kind == tokPunct && p.peekAt(2).text == "(" {
		pathAlias = p.advance().text
		p.advance() // '='
	}

	elems := []PatternElement{p.parsePatternElement()}
	for p.isPunct(",") {
		p.advance()
		elems = append(elems, p.parsePatternElement())
	}
	return Pattern{PathAlias: pathAlias, Elements: elems}
}

func (p *Parser) parsePatternElement() PatternElement {
	elem := PatternElement{}
	elem.Nodes = append(elem.Nodes, p.parseNodePattern())
	for p.isPunct("-") || p.isPunct("<-") {
		rel := p.parseRelPattern()
		elem.Rels = append(elem.Rels, rel)
		elem.Nodes = append(elem.Nodes, p.parseNodePattern())
	}
	return elem
}

func (p *Parser) parseNodePattern() NodePattern {
	p.expectPunct("(")
	np := NodePattern{}
	if p.peek().kind == tokIdent {
		np.Alias = p.advance().text
	}
	for p.isPunct(":") {
		p.advance()
		np.Labels = append(np.Labels, p.expectIdent())
	}
	if p.isPunct("{") {
		np.Properties = p.parsePropertyMap()
	}
	p.expectPunct(")")
	return np
}

func (p *Parser) parseRelPattern() RelPattern {
	rel := RelPattern{Direction: DirEither}

	leftArrow := p.isPunct("<-")
	if leftArrow {
		p.advance()
	} else {
		p.expectPunct("-")
	}

	hasBracket := p.isPunct("[")
	if hasBracket {
		p.advance()
		if p.peek().kind == tokIdent {
			rel.Alias = p.advance().text
		}
		if p.isPunct(":") {
			p.advance()
			rel.Types = append(rel.Types, p.expectIdent())
			for p.isPunct("|") {
				p.advance()
				rel.Types = append(rel.Types, p.expectIdent())
			}
		}
		if p.isPunct("*") {
			p.advance()
			rel.MinHops, rel.MaxHops = p.parseHopRange()
		}
		if p.isPunct("{") {
			rel.Properties = p.parsePropertyMap()
		}
		p.expectPunct("]")
	}

	rightArrow := false
	if p.isPunct("->") {
		p.advance()
		rightArrow = true
	} else {
		p.expectPunct("-")
	}

	switch {
	case leftArrow && !rightArrow:
		rel.Direction = DirIncoming
	case rightArrow && !leftArrow:
		rel.Direction = DirOutgoing
	default:
		rel.Direction = DirEither
	}

	return rel
}

// parseHopRange parses the `min..max`, `min..`, `..max`, `n`, or empty
// (bare `*`, meaning 1..unbounded) portion following a `*` in a
// variable-length relationship pattern.
func (p *Parser) parseHopRange() (min, max *int) {
	if p.peek().kind == tokInt {
		n := int(mustParseInt(p.advance().text))
		min = &n
	}
	if p.isPunct("..") {
		p.advance()
		if p.peek().kind == tokInt {
			n := int(mustParseInt(p.advance().text))
			max = &n
		}
		if min == nil {
			one := 1
			min = &one
		}
		return min, max
	}
	if min != nil {
		max = min // exact count `*n`
	} else {
		one := 1
		min = &one
	}
	return min, max
}

func mustParseInt(s string) int64 {
	v, err := parseIntLiteral(s)
	if err != nil {
		panic(syntaxf("integer, found %q", s))
	}
	return v
}

func (p *Parser) parsePropertyMap() map[string]Expression {
	p.expectPunct("{")
	m := map[string]Expression{}
	if !p.isPunct("}") {
		k, v := p.parseMapEntry()
		m[k] = v
		for p.isPunct(",") {
			p.advance()
			k, v := p.parseMapEntry()
			m[k] = v
		}
	}
	p.expectPunct("}")
	return m
}

func (p *Parser) parseMapEntry() (string, Expression) {
	var key string
	if p.peek().kind == tokIdent || p.peek().kind == tokKeyword {
		key = p.advance().text
	} else if p.peek().kind == tokString {
		key = p.advance().text
	} else {
		panic(syntaxf("map key"))
	}
	p.expectPunct(":")
	return key, p.parseExpression()
}
