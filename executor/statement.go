package executor

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/teamlint/pg-implicit/ddl"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

// SplitStatements splits a script on semicolons outside literals, quoted
// identifiers and comments. Empty statements are dropped.
func SplitStatements(script string) []string {
	var (
		out   []string
		b     strings.Builder
		quote rune
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	rs := []rune(script)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if quote != 0 {
			b.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"' || r == '`':
			quote = r
			b.WriteRune(r)
		case r == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			b.WriteRune('\n')
		case r == ';':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}

// quoteIdents rewrites PostgreSQL "quoted" identifiers and the bare word
// time into backquoted identifiers for the DML parser.
func quoteIdents(sql string) string {
	var b strings.Builder
	rs := []rune(sql)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\'':
			j := i + 1
			for j < len(rs) {
				if rs[j] == '\'' {
					if j+1 < len(rs) && rs[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= len(rs) {
				j = len(rs) - 1
			}
			b.WriteString(string(rs[i : j+1]))
			i = j
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			b.WriteRune('`')
			b.WriteString(string(rs[i+1 : min(j, len(rs))]))
			b.WriteRune('`')
			i = j
		case r == '`':
			j := i + 1
			for j < len(rs) && rs[j] != '`' {
				j++
			}
			b.WriteString(string(rs[i:min(j+1, len(rs))]))
			i = j
		case isIdentStart(r):
			j := i
			for j < len(rs) && isIdentPart(rs[j]) {
				j++
			}
			word := string(rs[i:j])
			if strings.EqualFold(word, "time") {
				b.WriteString("`time`")
			} else {
				b.WriteString(word)
			}
			i = j - 1
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '$'
}

// normalizeIdent folds an unquoted identifier to lower case and strips
// the quotes of a quoted one.
func normalizeIdent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '`' && s[len(s)-1] == '`') {
		return s[1 : len(s)-1]
	}
	return strings.ToLower(s)
}

const ident = `("[^"]+"|[A-Za-z_][A-Za-z0-9_$]*)`

var (
	reEnd            = regexp.MustCompile(`(?i)^(end|abort)(\s+(work|transaction))?$`)
	reCreateTable    = regexp.MustCompile(`(?is)^create\s+(?:(temp|temporary)\s+)?table\s+(?:if\s+not\s+exists\s+)?` + ident + `\s*\(`)
	reCreatePartOf   = regexp.MustCompile(`(?is)^create\s+table\s+` + ident + `\s+partition\s+of\s+` + ident + `(.*)$`)
	rePartitionBy    = regexp.MustCompile(`(?is)^partition\s+by\s+\w+\s*\([^)]*\)\s*(.*)$`)
	reForValues      = regexp.MustCompile(`(?is)^(?:for\s+values\s+(?:in|with)\s*\([^)]*\)|for\s+values\s+from\s*\([^)]*\)\s*to\s*\([^)]*\)|default)\s*(.*)$`)
	reCreateView     = regexp.MustCompile(`(?is)^create\s+(?:or\s+replace\s+)?view\s+` + ident + `\s*(.*?)\s*as\s+(select\s.*)$`)
	reAlterImplicit  = regexp.MustCompile(`(?i)^alter\s+table\s+(?:only\s+)?` + ident + `\s+(add|drop)\s+implicit\s+time$`)
	reAlterAddColumn = regexp.MustCompile(`(?is)^alter\s+table\s+` + ident + `\s+add\s+(?:column\s+)?` + ident + `\s+(.+)$`)
	reAlterDropCol   = regexp.MustCompile(`(?i)^alter\s+table\s+` + ident + `\s+drop\s+(?:column\s+)?(?:if\s+exists\s+)?` + ident + `$`)
	reDropTable      = regexp.MustCompile(`(?i)^drop\s+table\s+(if\s+exists\s+)?` + ident + `$`)
	reNotNull        = regexp.MustCompile(`(?i)\bnot\s+null\b`)
	rePrimaryKey     = regexp.MustCompile(`(?i)\bprimary\s+key\b`)
	reColumnTail     = regexp.MustCompile(`(?i)\b(not\s+null|null|primary\s+key|unique|default\s+.*)`)
)

// createTable a parsed CREATE TABLE statement.
type createTable struct {
	spec   engine.RelationSpec
	parent string
	opt    ddl.TimeOption
}

// parseCreateTable recognizes the CREATE TABLE forms, returning ok=false for
// anything else.
func parseCreateTable(sql string) (*createTable, bool, error) {
	if m := reCreatePartOf.FindStringSubmatch(sql); m != nil {
		ct := &createTable{spec: engine.RelationSpec{Name: normalizeIdent(m[1])}, parent: normalizeIdent(m[2])}
		rest := strings.TrimSpace(m[3])
		if fv := reForValues.FindStringSubmatch(rest); fv != nil {
			rest = fv[1]
		}
		opt, err := parseOption(rest)
		ct.opt = opt
		return ct, true, err
	}
	m := reCreateTable.FindStringSubmatch(sql)
	if m == nil {
		return nil, false, nil
	}
	ct := &createTable{spec: engine.RelationSpec{Name: normalizeIdent(m[2])}}
	if m[1] != "" {
		ct.spec.Persistence = engine.PersistenceTemp
	}
	open := len(m[0])
	end := closingParen(sql, open)
	if end < 0 {
		return nil, true, pgerror.SyntaxError("unterminated column list", len(sql))
	}
	cols, err := parseColumnDefs(sql[open:end])
	if err != nil {
		return nil, true, err
	}
	ct.spec.Columns = cols
	rest := strings.TrimSpace(sql[end+1:])
	if pb := rePartitionBy.FindStringSubmatch(rest); pb != nil {
		ct.spec.Kind = engine.RelKindPartitioned
		rest = pb[1]
	}
	ct.opt, err = parseOption(rest)
	return ct, true, err
}

func parseOption(text string) (ddl.TimeOption, error) {
	if strings.TrimSpace(text) == "" {
		return ddl.TimeUnspecified, nil
	}
	return ddl.ParseTimeOption(text)
}

// closingParen returns the index of the parenthesis closing the one opened
// just before from, or -1.
func closingParen(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits s on commas outside parentheses.
func splitTopLevel(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func parseColumnDefs(body string) ([]engine.ColumnSpec, error) {
	var cols []engine.ColumnSpec
	for _, def := range splitTopLevel(body) {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		fields := strings.Fields(def)
		switch strings.ToLower(fields[0]) {
		case "primary", "unique", "constraint", "check", "foreign":
			continue
		}
		if len(fields) < 2 {
			return nil, pgerror.SyntaxError("column "+fields[0]+" has no type", -1)
		}
		typeText := strings.TrimSpace(def[len(fields[0]):])
		if loc := reColumnTail.FindStringIndex(typeText); loc != nil {
			typeText = strings.TrimSpace(typeText[:loc[0]])
		}
		typeID, err := types.ParseTypeName(typeText)
		if err != nil {
			return nil, pgerror.UserError(pgerror.CodeUndefinedObject, err.Error(),
				"column "+fields[0]+" uses an unknown type", "Use a built-in type.")
		}
		cols = append(cols, engine.ColumnSpec{
			Name:    normalizeIdent(fields[0]),
			TypeID:  typeID,
			NotNull: reNotNull.MatchString(def) || rePrimaryKey.MatchString(def),
		})
	}
	return cols, nil
}

// parseColumnDef parses the column part of ALTER TABLE ADD COLUMN.
func parseColumnDef(name, rest string) (engine.ColumnSpec, error) {
	cols, err := parseColumnDefs(name + " " + rest)
	if err != nil {
		return engine.ColumnSpec{}, err
	}
	return cols[0], nil
}
