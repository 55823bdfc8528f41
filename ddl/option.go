package ddl

import (
	"strings"
	"unicode"

	"github.com/teamlint/pg-implicit/pgerror"
)

// TimeOption the implicit time clause of CREATE TABLE.
type TimeOption int

const (
	// TimeUnspecified no clause given.
	TimeUnspecified TimeOption = iota
	TimeWith
	TimeWithout
)

func (o TimeOption) String() string {
	switch o {
	case TimeWith:
		return "WITH TIME"
	case TimeWithout:
		return "WITHOUT TIME"
	}
	return "unspecified"
}

type token struct {
	text string
	pos  int
}

func (t token) is(word string) bool {
	return strings.EqualFold(t.text, word)
}

func tokenize(s string) []token {
	var out []token
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c):
			j := i
			for j < len(s) && (s[j] == '_' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			out = append(out, token{text: s[i:j], pos: i})
			i = j
		default:
			out = append(out, token{text: s[i : i+1], pos: i})
			i++
		}
	}
	return out
}

// ParseTimeOption parses the clause that follows a CREATE TABLE column
// list:
//
//	WITH TIME | WITH IMPLICIT TIME | IMPLICIT TIME | WITHOUT TIME
//	WITH ( implicit_time [ = true | false ] )
//
// Locations in returned errors are byte offsets into text.
func ParseTimeOption(text string) (TimeOption, error) {
	toks := tokenize(text)
	if len(toks) == 0 {
		return TimeUnspecified, nil
	}
	p := &optParser{toks: toks, end: len(text)}
	opt, err := p.parse()
	if err != nil {
		return TimeUnspecified, err
	}
	if p.i < len(toks) {
		t := toks[p.i]
		return TimeUnspecified, pgerror.SyntaxError("unexpected \""+t.text+"\" after time option", t.pos)
	}
	return opt, nil
}

type optParser struct {
	toks []token
	i    int
	end  int
}

func (p *optParser) next() (token, bool) {
	if p.i >= len(p.toks) {
		return token{pos: p.end}, false
	}
	t := p.toks[p.i]
	p.i++
	return t, true
}

func (p *optParser) expectTime() error {
	t, ok := p.next()
	if !ok {
		return pgerror.SyntaxError("expected TIME", t.pos)
	}
	if !t.is("time") {
		return pgerror.InvalidKeywordError(t.text, t.pos)
	}
	return nil
}

func (p *optParser) parse() (TimeOption, error) {
	first, _ := p.next()
	switch {
	case first.is("with"):
		t, ok := p.next()
		switch {
		case !ok:
			return TimeUnspecified, pgerror.SyntaxError("expected TIME after WITH", t.pos)
		case t.is("time"):
			return TimeWith, nil
		case t.is("implicit"):
			return TimeWith, p.expectTime()
		case t.text == "(":
			return p.parseStorageParam()
		}
		return TimeUnspecified, pgerror.InvalidKeywordError(t.text, t.pos)
	case first.is("without"):
		return TimeWithout, p.expectTime()
	case first.is("implicit"):
		return TimeWith, p.expectTime()
	}
	return TimeUnspecified, pgerror.InvalidKeywordError(first.text, first.pos)
}

func (p *optParser) parseStorageParam() (TimeOption, error) {
	name, ok := p.next()
	if !ok {
		return TimeUnspecified, pgerror.SyntaxError("expected implicit_time", name.pos)
	}
	if !name.is("implicit_time") {
		return TimeUnspecified, pgerror.InvalidKeywordError(name.text, name.pos)
	}
	opt := TimeWith
	t, ok := p.next()
	if ok && t.text == "=" {
		v, ok := p.next()
		if !ok {
			return TimeUnspecified, pgerror.SyntaxError("expected a boolean after =", v.pos)
		}
		switch strings.ToLower(v.text) {
		case "true", "on", "1":
		case "false", "off", "0":
			opt = TimeWithout
		default:
			return TimeUnspecified, pgerror.InvalidKeywordError(v.text, v.pos)
		}
		t, ok = p.next()
	}
	if !ok || t.text != ")" {
		return TimeUnspecified, pgerror.SyntaxError("expected )", t.pos)
	}
	return opt, nil
}
