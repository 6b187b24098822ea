// Package token finds session tokens in the inconsistent shapes returned by
// the first-party API, the identity provider and browser navigations.
package token

import "fmt"

// Source records where a token candidate was found.
type Source string

const (
	SourceJSONField      Source = "json_field"
	SourceBareString     Source = "bare_string"
	SourceQueryParam     Source = "query_param"
	SourceRedirectURL    Source = "redirect_url"
	SourceRedirectHeader Source = "redirect_header"
)

// Candidate is a token string plus its provenance. Candidates drive the
// extraction order only and are never persisted.
type Candidate struct {
	Value  string
	Source Source
	// Field is the JSON path or query parameter name that held the value.
	Field string
}

// Redacted renders the candidate for logs without leaking the token.
func (c Candidate) Redacted() string {
	return fmt.Sprintf("%s(%s)=%s", c.Source, c.Field, Redact(c.Value))
}

// Redact keeps a short prefix of a secret for correlation in logs.
func Redact(secret string) string {
	const keep = 6
	if len(secret) <= keep {
		return "***"
	}
	return secret[:keep] + "***"
}
