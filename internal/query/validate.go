package query

import (
	"strings"
	"unicode"
)

// writeKeywords never appear, outside literals and quoted identifiers,
// in a statement the validator accepts.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "ALTER": true,
	"CREATE": true, "TRUNCATE": true, "MERGE": true, "UPSERT": true,
	"GRANT": true, "REVOKE": true, "ATTACH": true, "DETACH": true, "PRAGMA": true,
	"VACUUM": true, "REINDEX": true, "ANALYZE": true, "COPY": true, "CALL": true,
	"EXEC": true, "EXECUTE": true, "LOCK": true, "SET": true,
	"INTO": true, "BEGIN": true, "COMMIT": true,
	"ROLLBACK": true, "SAVEPOINT": true, "RELEASE": true, "LISTEN": true, "NOTIFY": true,
}

// ValidateSelect accepts exactly one read-only SELECT (optionally introduced
// by WITH) and returns its normalized form: comments stripped, whitespace
// collapsed, trailing semicolons removed. Anything else is an ErrRejected QueryError.
func ValidateSelect(stmt string) (string, error) {
	normalized, words, err := normalizeSQL(stmt)
	if err != nil {
		return "", reject(err.Error())
	}
	if normalized == "" {
		return "", reject("empty statement")
	}
	if len(words) == 0 || (words[0] != "SELECT" && words[0] != "WITH") {
		first := ""
		if len(words) > 0 {
			first = words[0]
		}
		return "", reject("only SELECT statements are allowed, got " + first)
	}
	hasSelect := false
	for _, w := range words {
		if writeKeywords[w] {
			return "", reject("statement contains " + w)
		}
		if w == "SELECT" {
			hasSelect = true
		}
	}
	if !hasSelect {
		return "", reject("WITH clause without SELECT")
	}
	return normalized, nil
}

func reject(detail string) error {
	return &QueryError{Kind: ErrRejected, Detail: detail}
}

type rejectReason string

func (r rejectReason) Error() string { return string(r) }

// normalizeSQL scans stmt once, tracking string literals, quoted identifiers
// and comments. It returns the normalized text and the upper-cased bare words
// that appear outside literals and quotes.
func normalizeSQL(stmt string) (string, []string, error) {
	var out strings.Builder
	var words []string
	var word strings.Builder
	rs := []rune(stmt)
	pendingSpace := false

	flushWord := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToUpper(word.String()))
			word.Reset()
		}
	}
	emit := func(r ...rune) {
		if pendingSpace && out.Len() > 0 {
			out.WriteByte(' ')
		}
		pendingSpace = false
		for _, c := range r {
			out.WriteRune(c)
		}
	}

	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '-' && i+1 < len(rs) && rs[i+1] == '-':
			flushWord()
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			pendingSpace = true
		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			flushWord()
			end := -1
			for j := i + 2; j+1 < len(rs); j++ {
				if rs[j] == '*' && rs[j+1] == '/' {
					end = j + 1
					break
				}
			}
			if end < 0 {
				return "", nil, rejectReason("unterminated comment")
			}
			i = end
			pendingSpace = true
		case c == '\'' || c == '"' || c == '`':
			flushWord()
			start := i
			closed := false
			for i++; i < len(rs); i++ {
				if rs[i] == c {
					// Doubled quote is an escaped quote.
					if i+1 < len(rs) && rs[i+1] == c {
						i++
						continue
					}
					closed = true
					break
				}
			}
			if !closed {
				return "", nil, rejectReason("unterminated quoted text")
			}
			emit(rs[start : i+1]...)
		case c == ';':
			flushWord()
			for j := i + 1; j < len(rs); j++ {
				if !unicode.IsSpace(rs[j]) && rs[j] != ';' {
					return "", nil, rejectReason("multiple statements")
				}
			}
			i = len(rs)
		case unicode.IsSpace(c):
			flushWord()
			pendingSpace = true
		case unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '$':
			word.WriteRune(c)
			emit(c)
		default:
			flushWord()
			emit(c)
		}
	}
	flushWord()
	return out.String(), words, nil
}
