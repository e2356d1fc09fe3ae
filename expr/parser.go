package expr

// --- AST ---

type node interface{ nodePos() int }

type numberNode struct {
	val float64
	pos int
}

type stringNode struct {
	val string
	pos int
}

type boolNode struct {
	val bool
	pos int
}

type nullNode struct{ pos int }

type identNode struct {
	name string
	pos  int
}

// memberNode is a.b (computed=false, key holds the literal name) or a[k]
// (computed=true, key is an arbitrary expression).
type memberNode struct {
	obj      node
	key      node
	computed bool
	pos      int
}

// callNode invokes a function from the fixed table. Only bare identifiers
// are callable; method syntax is rejected at parse time.
type callNode struct {
	name string
	args []node
	pos  int
}

type unaryNode struct {
	op      tokenKind
	operand node
	pos     int
}

type binaryNode struct {
	op          tokenKind
	left, right node
	pos         int
}

type ternaryNode struct {
	cond, then, els node
	pos             int
}

type arrayNode struct {
	elems []node
	pos   int
}

type objectField struct {
	key string
	val node
}

type objectNode struct {
	fields []objectField
	pos    int
}

func (n *numberNode) nodePos() int  { return n.pos }
func (n *stringNode) nodePos() int  { return n.pos }
func (n *boolNode) nodePos() int    { return n.pos }
func (n *nullNode) nodePos() int    { return n.pos }
func (n *identNode) nodePos() int   { return n.pos }
func (n *memberNode) nodePos() int  { return n.pos }
func (n *callNode) nodePos() int    { return n.pos }
func (n *unaryNode) nodePos() int   { return n.pos }
func (n *binaryNode) nodePos() int  { return n.pos }
func (n *ternaryNode) nodePos() int { return n.pos }
func (n *arrayNode) nodePos() int   { return n.pos }
func (n *objectNode) nodePos() int  { return n.pos }

// --- Parser ---

// Operator precedence, loosest first:
//
//	?:  (ternary)
//	|   (pipe sugar)
//	||
//	&&
//	== !=
//	< <= > >=
//	+ -
//	* / %
//	unary ! -
//	postfix . []
type parser struct {
	src      string
	toks     []token
	i        int
	depth    int
	maxDepth int
}

// parse builds the AST for src, enforcing the tree depth limit.
func parse(src string, maxDepth int) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, maxDepth: maxDepth}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, errf(ErrParse, src, p.cur().pos, "unexpected %q after expression", p.cur().text)
	}
	return root, nil
}

func (p *parser) cur() token  { return p.toks[p.i] }
func (p *parser) next() token { t := p.toks[p.i]; p.i++; return t }

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.cur().kind != k {
		return token{}, errf(ErrParse, p.src, p.cur().pos, "expected %s", what)
	}
	return p.next(), nil
}

// enter tracks nesting depth across the recursive entry points. The limit
// bounds stack use on hostile inputs like "((((((...".
func (p *parser) enter() error {
	p.depth++
	if p.depth > p.maxDepth {
		return &Error{Kind: ErrLimit, Msg: "expression too deeply nested", Excerpt: excerpt(p.src, p.cur().pos)}
	}
	return nil
}

func (p *parser) exit() { p.depth-- }

func (p *parser) parseExpr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()
	return p.parseTernary()
}

func (p *parser) parseTernary() (node, error) {
	cond, err := p.parsePipe()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokQuestion {
		return cond, nil
	}
	pos := p.next().pos
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon, "':' in ternary"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ternaryNode{cond: cond, then: then, els: els, pos: pos}, nil
}

// parsePipe handles x | f and x | f(a, b), rewriting each step into a call
// with the left side prepended to the arguments.
func (p *parser) parsePipe() (node, error) {
	left, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokPipe {
		p.next()
		name, err := p.expect(tokIdent, "function name after '|'")
		if err != nil {
			return nil, err
		}
		args := []node{left}
		if p.cur().kind == tokLParen {
			p.next()
			rest, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			args = append(args, rest...)
		}
		left = &callNode{name: name.text, args: args, pos: name.pos}
	}
	return left, nil
}

func (p *parser) parseOr() (node, error) {
	return p.parseBinary(p.parseAnd, tokOr)
}

func (p *parser) parseAnd() (node, error) {
	return p.parseBinary(p.parseEquality, tokAnd)
}

func (p *parser) parseEquality() (node, error) {
	return p.parseBinary(p.parseComparison, tokEq, tokNeq)
}

func (p *parser) parseComparison() (node, error) {
	return p.parseBinary(p.parseAdditive, tokLt, tokLte, tokGt, tokGte)
}

func (p *parser) parseAdditive() (node, error) {
	return p.parseBinary(p.parseMultiplicative, tokPlus, tokMinus)
}

func (p *parser) parseMultiplicative() (node, error) {
	return p.parseBinary(p.parseUnary, tokStar, tokSlash, tokPercent)
}

// parseBinary parses a left-associative run of the given operators over the
// next-tighter level.
func (p *parser) parseBinary(sub func() (node, error), ops ...tokenKind) (node, error) {
	left, err := sub()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, op := range ops {
			if p.cur().kind == op {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		t := p.next()
		right, err := sub()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.kind, left: left, right: right, pos: t.pos}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.cur().kind == tokNot || p.cur().kind == tokMinus {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.exit()
		t := p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: t.kind, operand: operand, pos: t.pos}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokDot:
			pos := p.next().pos
			name, err := p.expect(tokIdent, "member name after '.'")
			if err != nil {
				return nil, err
			}
			n = &memberNode{obj: n, key: &stringNode{val: name.text, pos: name.pos}, pos: pos}
		case tokLBracket:
			pos := p.next().pos
			key, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			n = &memberNode{obj: n, key: key, computed: true, pos: pos}
		case tokLParen:
			// Calls attach only to bare function names at primary level.
			return nil, errf(ErrParse, p.src, p.cur().pos, "only named functions can be called")
		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.next()
		return &numberNode{val: t.num, pos: t.pos}, nil
	case tokString:
		p.next()
		return &stringNode{val: t.text, pos: t.pos}, nil
	case tokTrue:
		p.next()
		return &boolNode{val: true, pos: t.pos}, nil
	case tokFalse:
		p.next()
		return &boolNode{val: false, pos: t.pos}, nil
	case tokNull:
		p.next()
		return &nullNode{pos: t.pos}, nil
	case tokIdent:
		p.next()
		if p.cur().kind == tokLParen {
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &callNode{name: t.text, args: args, pos: t.pos}, nil
		}
		return &identNode{name: t.text, pos: t.pos}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokLBracket:
		p.next()
		var elems []node
		for p.cur().kind != tokRBracket {
			el, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			elems = append(elems, el)
			if p.cur().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tokRBracket, "']'"); err != nil {
			return nil, err
		}
		return &arrayNode{elems: elems, pos: t.pos}, nil
	case tokLBrace:
		p.next()
		var fields []objectField
		for p.cur().kind != tokRBrace {
			var key string
			switch p.cur().kind {
			case tokIdent, tokString, tokTrue, tokFalse, tokNull:
				key = p.next().text
			case tokNumber:
				key = p.next().text
			default:
				return nil, errf(ErrParse, p.src, p.cur().pos, "expected object key")
			}
			if _, err := p.expect(tokColon, "':' after object key"); err != nil {
				return nil, err
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			fields = append(fields, objectField{key: key, val: val})
			if p.cur().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tokRBrace, "'}'"); err != nil {
			return nil, err
		}
		return &objectNode{fields: fields, pos: t.pos}, nil
	case tokEOF:
		return nil, errf(ErrParse, p.src, t.pos, "unexpected end of expression")
	}
	return nil, errf(ErrParse, p.src, t.pos, "unexpected %q", t.text)
}

// parseArgs parses a comma-separated argument list up to and including the
// closing paren. The opening paren has already been consumed.
func (p *parser) parseArgs() ([]node, error) {
	var args []node
	for p.cur().kind != tokRParen {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.cur().kind == tokComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return args, nil
}
