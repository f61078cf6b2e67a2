package proto

import (
	"net"
	"strconv"
	"strings"
)

// ParseLine parses one CRLF-stripped command line into a Command. A
// non-nil error is always a *SyntaxError.
//
// Parsing never leaves partial state on failure: every production that
// can fail takes a Mark before attempting its match and Resets to it
// before returning false, so a failed ParseLine call has no observable
// effect beyond its return value.
func ParseLine(line string) (Command, error) {
	p := &parser{tz: NewTokenizer(line)}

	verb, ok := p.verb()
	if !ok {
		return Command{}, &SyntaxError{Detail: "no command verb found"}
	}
	kw := strings.ToUpper(verb)

	switch kw {
	case "QUIT", "NOOP", "RSET", "DATA", "STARTTLS", "DBUG":
		return p.bareVerb(kw)
	case "HELO":
		return p.helo(kw)
	case "EHLO":
		return p.ehlo(kw)
	case "MAIL":
		return p.mail(kw)
	case "RCPT":
		return p.rcpt(kw)
	case "AUTH":
		return p.auth(kw)
	default:
		return Command{Kind: Unknown, Keyword: kw}, nil
	}
}

// parser wraps a Tokenizer with the grammar productions of spec section
// 4.2. Each production method returns its value and whether it matched;
// on a false return the tokenizer position is exactly where it was
// before the call.
type parser struct {
	tz *Tokenizer
}

func (p *parser) verb() (string, bool) {
	tok := p.tz.Peek()
	if tok.Kind != Text {
		return "", false
	}
	p.tz.Take()
	return tok.Text, true
}

func (p *parser) skipSpaces() {
	for p.tz.Peek().Kind == Space {
		p.tz.Take()
	}
}

// expectSpace requires at least one Space token and consumes a run of
// them, matching the "folding whitespace is one SP" tolerance most
// real-world clients rely on.
func (p *parser) expectSpace() bool {
	if p.tz.Peek().Kind != Space {
		return false
	}
	p.skipSpaces()
	return true
}

func (p *parser) expectKeyword(kw string) bool {
	m := p.tz.Mark()
	tok := p.tz.Peek()
	if tok.Kind != Text || !strings.EqualFold(tok.Text, kw) {
		p.tz.Reset(m)
		return false
	}
	p.tz.Take()
	return true
}

func (p *parser) expectOther(s string) bool {
	tok := p.tz.Peek()
	if tok.Kind != Other || tok.Text != s {
		return false
	}
	p.tz.Take()
	return true
}

func (p *parser) bareVerb(kw string) (Command, error) {
	p.skipSpaces()
	if !p.tz.AtEnd() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "unexpected trailing data: " + p.tz.Remainder()}
	}
	return Command{Kind: kindForKeyword(kw), Keyword: kw}, nil
}

// helo = "HELO" SP Domain
func (p *parser) helo(kw string) (Command, error) {
	if !p.expectSpace() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "expected domain"}
	}
	dom, ok := p.domain()
	if !ok {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "invalid domain: " + p.tz.Remainder()}
	}
	p.skipSpaces()
	if !p.tz.AtEnd() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "unexpected trailing data: " + p.tz.Remainder()}
	}
	return Command{Kind: HELO, Keyword: kw, Domain: dom}, nil
}

// ehlo = "EHLO" SP ( Domain / address-literal )
func (p *parser) ehlo(kw string) (Command, error) {
	if !p.expectSpace() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "expected domain"}
	}
	if lit, ok := p.addressLiteral(); ok {
		p.skipSpaces()
		if !p.tz.AtEnd() {
			return Command{}, &SyntaxError{Keyword: kw, Detail: "unexpected trailing data: " + p.tz.Remainder()}
		}
		return Command{Kind: EHLO, Keyword: kw, AddressLiteral: lit}, nil
	}
	dom, ok := p.domain()
	if !ok {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "invalid domain: " + p.tz.Remainder()}
	}
	p.skipSpaces()
	if !p.tz.AtEnd() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "unexpected trailing data: " + p.tz.Remainder()}
	}
	return Command{Kind: EHLO, Keyword: kw, Domain: dom}, nil
}

// mail = "MAIL" SP "FROM:" Reverse-Path [SP Mail-parameters]
func (p *parser) mail(kw string) (Command, error) {
	if !p.expectSpace() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "expected FROM:"}
	}
	if !p.expectKeyword("FROM") || !p.expectOther(":") {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "expected FROM:"}
	}
	p.skipSpaces()

	mb, isNull, ok := p.reversePath()
	if !ok {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "malformed reverse-path: " + p.tz.Remainder()}
	}

	params := p.mailParameters()
	if !p.tz.AtEnd() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "unexpected trailing data: " + p.tz.Remainder()}
	}

	cmd := Command{Kind: MAIL, Keyword: kw, FromNull: isNull, Params: params}
	if !isNull {
		cmd.FromLocal = mb.Local
		cmd.FromDomain = mb.Domain
		cmd.FromIsAddressLiteral = mb.IsAddressLiteral
	}
	return cmd, nil
}

// rcpt = "RCPT" SP "TO:" Path [SP Mail-parameters]
func (p *parser) rcpt(kw string) (Command, error) {
	if !p.expectSpace() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "expected TO:"}
	}
	if !p.expectKeyword("TO") || !p.expectOther(":") {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "expected TO:"}
	}
	p.skipSpaces()

	mb, ok := p.path()
	if !ok {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "malformed path: " + p.tz.Remainder()}
	}
	p.mailParameters() // accepted, not meaningful for delivery here
	if !p.tz.AtEnd() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "unexpected trailing data: " + p.tz.Remainder()}
	}

	return Command{
		Kind: RCPT, Keyword: kw,
		ToLocal: mb.Local, ToDomain: mb.Domain, ToIsAddressLiteral: mb.IsAddressLiteral,
	}, nil
}

// auth = "AUTH" SP Mechanism [SP Initial-response]
func (p *parser) auth(kw string) (Command, error) {
	if !p.expectSpace() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "expected mechanism"}
	}
	tok := p.tz.Peek()
	if tok.Kind != Text {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "invalid mechanism: " + p.tz.Remainder()}
	}
	p.tz.Take()
	cmd := Command{Kind: AUTH, Keyword: kw, Mechanism: strings.ToUpper(tok.Text)}

	if p.expectSpace() {
		resp, ok := p.base64()
		if !ok {
			return Command{}, &SyntaxError{Keyword: kw, Detail: "invalid initial response: " + p.tz.Remainder()}
		}
		cmd.InitialResponse = resp
		cmd.HasInitialResponse = true
	}
	if !p.tz.AtEnd() {
		return Command{}, &SyntaxError{Keyword: kw, Detail: "unexpected trailing data: " + p.tz.Remainder()}
	}
	return cmd, nil
}

// mailboxResult is an intermediate value shared by the Mailbox, Path and
// Reverse-Path productions. It never escapes this package: callers that
// need one turn it into a Mailbox value using the strings here.
type mailboxResult struct {
	Local            string
	Domain           string
	IsAddressLiteral bool
}

// reversePath = Path / "<>"
func (p *parser) reversePath() (mailboxResult, bool, bool) {
	m := p.tz.Mark()

	if p.tz.Peek().Kind == Other && p.tz.Peek().Text == "<" {
		save := p.tz.Mark()
		p.tz.Take()
		if p.tz.Peek().Kind == Other && p.tz.Peek().Text == ">" {
			p.tz.Take()
			return mailboxResult{}, true, true
		}
		p.tz.Reset(save)
	}

	mb, ok := p.path()
	if ok {
		return mb, false, true
	}
	p.tz.Reset(m)
	return mailboxResult{}, false, false
}

// path = "<" [At-domain-list ":"] Mailbox ">"
func (p *parser) path() (mailboxResult, bool) {
	m := p.tz.Mark()
	if !p.expectOther("<") {
		return mailboxResult{}, false
	}

	p.atDomainList() // optional source-route prefix, discarded once parsed

	mb, ok := p.mailbox()
	if !ok {
		p.tz.Reset(m)
		return mailboxResult{}, false
	}
	if !p.expectOther(">") {
		p.tz.Reset(m)
		return mailboxResult{}, false
	}
	return mb, true
}

// At-domain-list = "@" Domain *( "," "@" Domain ) ":"
func (p *parser) atDomainList() bool {
	m := p.tz.Mark()
	if !p.expectOther("@") {
		return false
	}
	if _, ok := p.domain(); !ok {
		p.tz.Reset(m)
		return false
	}
	for {
		m2 := p.tz.Mark()
		if !p.expectOther(",") {
			break
		}
		if !p.expectOther("@") {
			p.tz.Reset(m2)
			break
		}
		if _, ok := p.domain(); !ok {
			p.tz.Reset(m2)
			break
		}
	}
	if !p.expectOther(":") {
		p.tz.Reset(m)
		return false
	}
	return true
}

// mailbox = Local-part "@" ( Domain / address-literal )
func (p *parser) mailbox() (mailboxResult, bool) {
	m := p.tz.Mark()
	local, ok := p.localPart()
	if !ok {
		p.tz.Reset(m)
		return mailboxResult{}, false
	}
	if !p.expectOther("@") {
		p.tz.Reset(m)
		return mailboxResult{}, false
	}

	if lit, ok := p.addressLiteral(); ok {
		return mailboxResult{Local: local, Domain: lit, IsAddressLiteral: true}, true
	}
	dom, ok := p.domain()
	if !ok {
		p.tz.Reset(m)
		return mailboxResult{}, false
	}
	return mailboxResult{Local: local, Domain: dom}, true
}

// Local-part = Dot-string / Quoted-string; quoted tried first since it
// is the only production that can start with a double quote.
func (p *parser) localPart() (string, bool) {
	if s, ok := p.quotedString(); ok {
		return s, true
	}
	return p.dotString()
}

// quotedString = DQUOTE *(qtext / quoted-pair) DQUOTE
func (p *parser) quotedString() (string, bool) {
	m := p.tz.Mark()
	if !p.expectOther("\"") {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString("\"")
	for {
		tok := p.tz.Take()
		if tok.IsNone() {
			p.tz.Reset(m)
			return "", false
		}
		if tok.Kind == Other && tok.Text == "\\" {
			esc := p.tz.Take()
			if esc.IsNone() {
				p.tz.Reset(m)
				return "", false
			}
			sb.WriteString(tok.Text)
			sb.WriteString(esc.Text)
			continue
		}
		sb.WriteString(tok.Text)
		if tok.Kind == Other && tok.Text == "\"" {
			return sb.String(), true
		}
	}
}

// localPartDelims are the structural bytes that can never appear inside
// an unquoted local-part atom.
var localPartDelims = map[string]bool{
	"@": true, "<": true, ">": true, ":": true, ",": true, "\"": true,
}

// dotString = Atom *("." Atom)
func (p *parser) dotString() (string, bool) {
	m := p.tz.Mark()
	first, ok := p.atom()
	if !ok {
		p.tz.Reset(m)
		return "", false
	}
	var sb strings.Builder
	sb.WriteString(first)
	for {
		m2 := p.tz.Mark()
		if !p.expectOther(".") {
			break
		}
		next, ok := p.atom()
		if !ok {
			p.tz.Reset(m2)
			break
		}
		sb.WriteString(".")
		sb.WriteString(next)
	}
	return sb.String(), true
}

// atom is a maximal run of tokens that aren't whitespace, ".", or one of
// the delimiters reserved by the surrounding Path/Mailbox grammar.
func (p *parser) atom() (string, bool) {
	var sb strings.Builder
	for {
		tok := p.tz.Peek()
		if tok.IsNone() || tok.Kind == Space {
			break
		}
		if tok.Kind == Other && (tok.Text == "." || localPartDelims[tok.Text]) {
			break
		}
		sb.WriteString(tok.Text)
		p.tz.Take()
	}
	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

// domain = sub-domain *("." sub-domain)
func (p *parser) domain() (string, bool) {
	m := p.tz.Mark()
	first, ok := p.subDomain()
	if !ok {
		p.tz.Reset(m)
		return "", false
	}
	var sb strings.Builder
	sb.WriteString(first)
	for {
		m2 := p.tz.Mark()
		if !p.expectOther(".") {
			break
		}
		next, ok := p.subDomain()
		if !ok {
			p.tz.Reset(m2)
			break
		}
		sb.WriteString(".")
		sb.WriteString(next)
	}
	return sb.String(), true
}

// subDomain = Let-dig [*ldh-str Let-dig]; it must start with a letter
// or digit and cannot end with a hyphen.
func (p *parser) subDomain() (string, bool) {
	m := p.tz.Mark()
	var sb strings.Builder
	first := true
	for {
		tok := p.tz.Peek()
		switch {
		case tok.Kind == Text || tok.Kind == Number:
			sb.WriteString(tok.Text)
			p.tz.Take()
			first = false
		case tok.Kind == Other && tok.Text == "-" && !first:
			sb.WriteString(tok.Text)
			p.tz.Take()
		default:
			s := sb.String()
			if s == "" || strings.HasSuffix(s, "-") {
				p.tz.Reset(m)
				return "", false
			}
			return s, true
		}
	}
}

// addressLiteral = "[" ( IPv4-address-literal / IPv6-address-literal ) "]"
func (p *parser) addressLiteral() (string, bool) {
	m := p.tz.Mark()
	if !p.expectOther("[") {
		return "", false
	}

	if ip, ok := p.ipv6Literal(); ok {
		if p.expectOther("]") {
			return "IPv6:" + ip, true
		}
		p.tz.Reset(m)
		return "", false
	}

	ip, ok := p.ipv4()
	if !ok {
		p.tz.Reset(m)
		return "", false
	}
	if !p.expectOther("]") {
		p.tz.Reset(m)
		return "", false
	}
	return ip, true
}

// ipv4 = 1*3DIGIT "." 1*3DIGIT "." 1*3DIGIT "." 1*3DIGIT, each octet
// bounded to 0-255.
func (p *parser) ipv4() (string, bool) {
	m := p.tz.Mark()
	var parts []string
	for i := 0; i < 4; i++ {
		if i > 0 && !p.expectOther(".") {
			p.tz.Reset(m)
			return "", false
		}
		tok := p.tz.Peek()
		if tok.Kind != Number || len(tok.Text) > 3 {
			p.tz.Reset(m)
			return "", false
		}
		val, err := strconv.Atoi(tok.Text)
		if err != nil || val > 255 {
			p.tz.Reset(m)
			return "", false
		}
		parts = append(parts, tok.Text)
		p.tz.Take()
	}
	return strings.Join(parts, "."), true
}

// ipv6Literal recognises "IPv6:" followed by a net.ParseIP-valid IPv6
// address, as resolved for address-literal in this grammar's IPv6
// support.
func (p *parser) ipv6Literal() (string, bool) {
	m := p.tz.Mark()
	var raw strings.Builder
	for {
		tok := p.tz.Peek()
		if tok.IsNone() || (tok.Kind == Other && tok.Text == "]") {
			break
		}
		raw.WriteString(tok.Text)
		p.tz.Take()
		if raw.Len() > 64 {
			break
		}
	}
	text := raw.String()
	if !strings.HasPrefix(strings.ToUpper(text), "IPV6:") {
		p.tz.Reset(m)
		return "", false
	}
	addr := text[len("IPv6:"):]
	if !strings.Contains(addr, ":") || net.ParseIP(addr) == nil {
		p.tz.Reset(m)
		return "", false
	}
	return addr, true
}

// base64 = 1*(ALPHA / DIGIT / "+" / "/") [ "=" [ "=" ] ], length a
// multiple of 4.
func (p *parser) base64() (string, bool) {
	m := p.tz.Mark()
	var sb strings.Builder
	for {
		tok := p.tz.Peek()
		switch {
		case tok.Kind == Text || tok.Kind == Number:
			sb.WriteString(tok.Text)
			p.tz.Take()
		case tok.Kind == Other && (tok.Text == "+" || tok.Text == "/" || tok.Text == "="):
			sb.WriteString(tok.Text)
			p.tz.Take()
		default:
			s := sb.String()
			if s == "" || len(s)%4 != 0 {
				p.tz.Reset(m)
				return "", false
			}
			return s, true
		}
	}
}

// mailParameters = *(SP Esmtp-keyword ["=" Esmtp-value])
func (p *parser) mailParameters() map[string]string {
	params := map[string]string{}
	for {
		m := p.tz.Mark()
		if !p.expectSpace() {
			break
		}
		var sb strings.Builder
		for tok := p.tz.Peek(); !tok.IsNone() && tok.Kind != Space; tok = p.tz.Peek() {
			sb.WriteString(tok.Text)
			p.tz.Take()
		}
		// esmtp-keyword = (ALPHA / DIGIT) *(ALPHA / DIGIT / "-")
		// esmtp-value   = 1*(%d33-60 / %d62-126)
		key, val, hasVal := strings.Cut(sb.String(), "=")
		ok := key != "" && key[0] != '-' && (!hasVal || val != "")
		for i := 0; ok && i < len(key); i++ {
			ok = isLetter(key[i]) || isDigit(key[i]) || key[i] == '-'
		}
		for i := 0; ok && i < len(val); i++ {
			ok = val[i] >= 33 && val[i] <= 126 && val[i] != '='
		}
		if !ok {
			p.tz.Reset(m)
			break
		}
		params[strings.ToUpper(key)] = val
	}
	return params
}
