package agent

import (
	"html"
	"regexp"
	"strings"
)

const (
	maxQueryLen = 1000
	// Encoded payloads unwrap within a few passes; more than this many
	// is an attack, not a query
	maxDecodeIterations = 5
)

var (
	scriptRe     = regexp.MustCompile(`(?is)<script.*?>.*?</script>|javascript:`)
	eventAttrRe  = regexp.MustCompile(`(?i)\bon\w+\s*=`)
	angleRe      = regexp.MustCompile(`[<>]`)
	sqlVerbRe    = regexp.MustCompile(`(?i);|\b(drop|delete|insert|update|exec|union|select)\b`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Sanitize neutralizes a user query before it touches any downstream
// system: repeated entity decoding, script and markup stripping, SQL
// statement removal, whitespace collapse and a hard length cap.
func Sanitize(query string) string {
	// Unwrap nested HTML entity encoding
	for i := 0; i < maxDecodeIterations; i++ {
		decoded := html.UnescapeString(query)
		if decoded == query {
			break
		}
		query = decoded
	}

	query = scriptRe.ReplaceAllString(query, " ")
	query = eventAttrRe.ReplaceAllString(query, " ")
	query = angleRe.ReplaceAllString(query, " ")
	query = sqlVerbRe.ReplaceAllString(query, " ")
	query = strings.TrimSpace(whitespaceRe.ReplaceAllString(query, " "))

	if len(query) > maxQueryLen {
		query = query[:maxQueryLen]
	}
	return query
}
