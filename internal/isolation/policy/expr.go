package policy

import (
	"regexp"
	"strings"
)

var exprToken = regexp.MustCompile(`"(?:[^"]|"")*"|'(?:[^']|'')*'|[A-Za-z_][A-Za-z0-9_$]*|[0-9]+(?:\.[0-9]+)?|::|<>|!=|<=|>=|\S`)

// CanonicalExpr reduces a SQL boolean expression to its operand and operator
// sequence. Postgres deparses policy expressions with its own parenthesisation,
// whitespace and column qualification, so those are dropped: identifiers are
// unquoted and lowercased, qualifiers ("projects." in "projects.id") and
// parentheses are removed. Any added operand or operator, such as an OR
// branch, survives and makes the result differ.
func CanonicalExpr(expr string) string {
	raw := exprToken.FindAllString(expr, -1)
	out := make([]string, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		tok := raw[i]
		switch {
		case tok == "(" || tok == ")":
			continue
		case strings.HasPrefix(tok, `"`):
			tok = strings.ToLower(strings.ReplaceAll(tok[1:len(tok)-1], `""`, `"`))
		case strings.HasPrefix(tok, "'"):
		default:
			tok = strings.ToLower(tok)
		}
		if i+1 < len(raw) && raw[i+1] == "." && isIdent(raw[i]) {
			i++
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

func isIdent(tok string) bool {
	if strings.HasPrefix(tok, `"`) {
		return true
	}
	c := tok[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
