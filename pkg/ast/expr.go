package ast

// parseExpression is the entry point for expression parsing, implementing
// the standard Cypher precedence ladder top-down: OR, XOR, AND, NOT,
// comparison, additive, multiplicative, power, unary, postfix, primary.
func (p *Parser) parseExpression() Expression { return p.parseOr() }

func (p *Parser) parseOr() Expression {
	left := p.parseXor()
	for p.isKeyword("OR") {
		p.advance()
		left = &BinaryOp{Op: "OR", Left: left, Right: p.parseXor()}
	}
	return left
}

func (p *Parser) parseXor() Expression {
	left := p.parseAnd()
	for p.isKeyword("XOR") {
		p.advance()
		left = &BinaryOp{Op: "XOR", Left: left, Right: p.parseAnd()}
	}
	return left
}

func (p *Parser) parseAnd() Expression {
	left := p.parseNot()
	for p.isKeyword("AND") {
		p.advance()
		left = &BinaryOp{Op: "AND", Left: left, Right: p.parseNot()}
	}
	return left
}

func (p *Parser) parseNot() Expression {
	if p.isKeyword("NOT") {
		p.advance()
		return &UnaryOp{Op: "NOT", Expr: p.parseNot()}
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{
	"=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true, "=~": true,
}

func (p *Parser) parseComparison() Expression {
	left := p.parseAdditive()
	for {
		switch {
		case p.peek().kind == tokPunct && comparisonOps[p.peek().text]:
			op := p.advance().text
			left = &BinaryOp{Op: op, Left: left, Right: p.parseAdditive()}
		case p.isKeyword("IN"):
			p.advance()
			left = &BinaryOp{Op: "IN", Left: left, Right: p.parseAdditive()}
		case p.isKeyword("STARTS"):
			p.advance()
			p.expectKeyword("WITH")
			left = &BinaryOp{Op: "STARTS WITH", Left: left, Right: p.parseAdditive()}
		case p.isKeyword("ENDS"):
			p.advance()
			p.expectKeyword("WITH")
			left = &BinaryOp{Op: "ENDS WITH", Left: left, Right: p.parseAdditive()}
		case p.isKeyword("CONTAINS"):
			p.advance()
			left = &BinaryOp{Op: "CONTAINS", Left: left, Right: p.parseAdditive()}
		case p.isKeyword("IS"):
			p.advance()
			negate := false
			if p.isKeyword("NOT") {
				p.advance()
				negate = true
			}
			p.expectKeyword("NULL")
			if negate {
				left = &UnaryOp{Op: "NOT", Expr: &UnaryOp{Op: "IS NULL", Expr: left}}
			} else {
				left = &UnaryOp{Op: "IS NULL", Expr: left}
			}
		default:
			return left
		}
	}
}

func (p *Parser) parseAdditive() Expression {
	left := p.parseMultiplicative()
	for p.isPunct("+") || p.isPunct("-") {
		op := p.advance().text
		left = &BinaryOp{Op: op, Left: left, Right: p.parseMultiplicative()}
	}
	return left
}

func (p *Parser) parseMultiplicative() Expression {
	left := p.parsePower()
	for p.isPunct("*") || p.isPunct("/") || p.isPunct("%") {
		op := p.advance().text
		left = &BinaryOp{Op: op, Left: left, Right: p.parsePower()}
	}
	return left
}

func (p *Parser) parsePower() Expression {
	left := p.parseUnary()
	if p.isPunct("^") {
		p.advance()
		return &BinaryOp{Op: "^", Left: left, Right: p.parsePower()}
	}
	return left
}

func (p *Parser) parseUnary() Expression {
	if p.isPunct("-") {
		p.advance()
		return &UnaryOp{Op: "-", Expr: p.parseUnary()}
	}
	if p.isPunct("+") {
		p.advance()
		return p.parseUnary()
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expression {
	expr := p.parsePrimary()
	for {
		switch {
		case p.isPunct("."):
			p.advance()
			prop := p.expectIdent()
			expr = &PropertyAccess{Target: expr, Property: prop}
		case p.isPunct("["):
			p.advance()
			expr = p.parseIndexOrSlice(expr)
		default:
			return expr
		}
	}
}

// parseIndexOrSlice desugars `c[i]` to `__index(c, i)` and `c[a..b]` to
// `__slice(c, a, b)`, the internal forms the evaluator switches on.
func (p *Parser) parseIndexOrSlice(target Expression) Expression {
	if p.isPunct("..") {
		p.advance()
		var hi Expression = &Literal{Value: nil}
		if !p.isPunct("]") {
			hi = p.parseExpression()
		}
		p.expectPunct("]")
		return &FunctionCall{Name: "__slice", Args: []Expression{target, &Literal{Value: nil}, hi}}
	}
	first := p.parseExpression()
	if p.isPunct("..") {
		p.advance()
		var hi Expression = &Literal{Value: nil}
		if !p.isPunct("]") {
			hi = p.parseExpression()
		}
		p.expectPunct("]")
		return &FunctionCall{Name: "__slice", Args: []Expression{target, first, hi}}
	}
	p.expectPunct("]")
	return &FunctionCall{Name: "__index", Args: []Expression{target, first}}
}

func (p *Parser) parsePrimary() Expression {
	t := p.peek()

	switch {
	case t.kind == tokInt:
		p.advance()
		v, err := parseIntLiteral(t.text)
		if err != nil {
			panic(syntaxf("integer literal, found %q", t.text))
		}
		return &Literal{Value: v}

	case t.kind == tokFloat:
		p.advance()
		v, err := parseFloatLiteral(t.text)
		if err != nil {
			panic(syntaxf("float literal, found %q", t.text))
		}
		return &Literal{Value: v}

	case t.kind == tokString:
		p.advance()
		return &Literal{Value: t.text}

	case t.kind == tokParam:
		p.advance()
		return &Parameter{Name: t.text}

	case p.isKeyword("TRUE"):
		p.advance()
		return &Literal{Value: true}

	case p.isKeyword("FALSE"):
		p.advance()
		return &Literal{Value: false}

	case p.isKeyword("NULL"):
		p.advance()
		return &Literal{Value: nil}

	case p.isKeyword("NOT"):
		p.advance()
		return &UnaryOp{Op: "NOT", Expr: p.parseNot()}

	case p.isKeyword("CASE"):
		return p.parseCaseExpression()

	case p.isKeyword("EXISTS"):
		return p.parseExistsExpression()

	case p.isKeyword("ANY"), p.isKeyword("ALL"), p.isKeyword("NONE"), p.isKeyword("SINGLE"):
		return p.parseQuantifier()

	case p.isPunct("("):
		p.advance()
		// Could be a parenthesized expression, or a parenthesized pattern
		// used as a standalone pattern (rare outside EXISTS); we only
		// support the expression form here since bare patterns appear via
		// EXISTS{} or pattern comprehension ('[' ... ']').
		expr := p.parseExpression()
		p.expectPunct(")")
		return expr

	case p.isPunct("["):
		return p.parseListLiteralOrComprehension()

	case p.isPunct("{"):
		return p.parseMapLiteralExpr()

	case t.kind == tokIdent:
		return p.parseIdentLed()

	default:
		panic(syntaxf("an expression, found %q", t.text))
	}
}

func (p *Parser) parseIdentLed() Expression {
	name := p.advance().text
	if p.isPunct("(") {
		return p.parseFunctionCallRest(name)
	}
	// Qualified function names (datetime.fromepoch, duration.between):
	// consume the dotted chain only if a call follows; otherwise rewind and
	// let postfix parsing treat the dots as property access.
	if p.isPunct(".") {
		save := p.pos
		dotted := name
		for p.isPunct(".") && p.peekAt(1).kind == tokIdent {
			p.advance()
			dotted += "." + p.advance().text
		}
		if p.isPunct("(") {
			return p.parseFunctionCallRest(dotted)
		}
		p.pos = save
	}
	return &Variable{Name: name}
}

func (p *Parser) parseFunctionCallRest(name string) Expression {
	p.expectPunct("(")
	fc := &FunctionCall{Name: name}
	if p.isPunct("*") {
		p.advance()
		fc.Star = true
		p.expectPunct(")")
		return fc
	}
	if p.isKeyword("DISTINCT") {
		p.advance()
		fc.Distinct = true
	}
	if !p.isPunct(")") {
		fc.Args = append(fc.Args, p.parseExpression())
		for p.isPunct(",") {
			p.advance()
			fc.Args = append(fc.Args, p.parseExpression())
		}
	}
	p.expectPunct(")")
	return fc
}

func (p *Parser) parseCaseExpression() Expression {
	p.expectKeyword("CASE")
	ce := &CaseExpression{}
	if !p.isKeyword("WHEN") {
		ce.Subject = p.parseExpression()
	}
	for p.isKeyword("WHEN") {
		p.advance()
		cond := p.parseExpression()
		p.expectKeyword("THEN")
		result := p.parseExpression()
		ce.Whens = append(ce.Whens, WhenClause{Condition: cond, Result: result})
	}
	if p.isKeyword("ELSE") {
		p.advance()
		ce.Else = p.parseExpression()
	}
	p.expectKeyword("END")
	return ce
}

// parseExistsExpression handles both `EXISTS { pattern [WHERE pred] }`
// and the property-existence shorthand `EXISTS(expr)` — the latter
// desugars to `NOT (expr IS NULL)`-style handling in the evaluator, so it
// is represented as a plain function call.
func (p *Parser) parseExistsExpression() Expression {
	p.expectKeyword("EXISTS")
	if p.isPunct("{") {
		p.advance()
		pat := p.parsePattern()
		var where Expression
		if p.isKeyword("WHERE") {
			p.advance()
			where = p.parseExpression()
		}
		p.expectPunct("}")
		return &PatternExists{Pattern: pat, Where: where}
	}
	p.expectPunct("(")
	arg := p.parseExpression()
	p.expectPunct(")")
	return &FunctionCall{Name: "exists", Args: []Expression{arg}}
}

func (p *Parser) parseQuantifier() Expression {
	kind := p.advance().text
	p.expectPunct("(")
	variable := p.expectIdent()
	p.expectKeyword("IN")
	list := p.parseExpression()
	var pred Expression
	if p.isKeyword("WHERE") {
		p.advance()
		pred = p.parseExpression()
	}
	p.expectPunct(")")
	return &Quantifier{Kind: kind, Variable: variable, List: list, Predicate: pred}
}

// parseListLiteralOrComprehension disambiguates `[1,2,3]`, `[n IN list |
// expr]`, `[n IN list WHERE pred | expr]`, and a leading-pattern
// comprehension `[(a)-->(b) WHERE pred | expr]` by lookahead: a bare
// identifier immediately followed by IN signals a list comprehension; a
// `(` signals a pattern comprehension; anything else is a plain list.
func (p *Parser) parseListLiteralOrComprehension() Expression {
	p.expectPunct("[")

	if p.peek().kind == tokIdent && p.peekAt(1).kind == tokKeyword && p.peekAt(1).text == "IN" {
		variable := p.advance().text
		p.advance() // IN
		list := p.parseExpression()
		var pred Expression
		if p.isKeyword("WHERE") {
			p.advance()
			pred = p.parseExpression()
		}
		var proj Expression
		if p.isPunct("|") {
			p.advance()
			proj = p.parseExpression()
		}
		p.expectPunct("]")
		return &ListComprehension{Variable: variable, List: list, Predicate: pred, Projection: proj}
	}

	if p.isPunct("(") {
		pat := p.parsePattern()
		var where Expression
		if p.isKeyword("WHERE") {
			p.advance()
			where = p.parseExpression()
		}
		var proj Expression
		if p.isPunct("|") {
			p.advance()
			proj = p.parseExpression()
		}
		p.expectPunct("]")
		return &PatternComprehension{Pattern: pat, Where: where, Projection: proj}
	}

	ll := &ListLiteral{}
	if !p.isPunct("]") {
		ll.Items = append(ll.Items, p.parseExpression())
		for p.isPunct(",") {
			p.advance()
			ll.Items = append(ll.Items, p.parseExpression())
		}
	}
	p.expectPunct("]")
	return ll
}

func (p *Parser) parseMapLiteralExpr() Expression {
	entries := p.parsePropertyMap()
	return &MapLiteral{Entries: entries}
}
