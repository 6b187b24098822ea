package token

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultQueryParams are the query parameter names recognized as tokens.
var DefaultQueryParams = []string{"token", "access_token", "jwt", "auth_token"}

// FromURL looks for a token in the query string, then the fragment, of raw.
func FromURL(raw string, params []string) (Candidate, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || raw == "" {
		return Candidate{}, false
	}
	if len(params) == 0 {
		params = DefaultQueryParams
	}
	if c, ok := fromValues(u.Query(), params); ok {
		return c, true
	}
	if u.Fragment != "" {
		if fragment, err := url.ParseQuery(u.Fragment); err == nil {
			return fromValues(fragment, params)
		}
	}
	return Candidate{}, false
}

func fromValues(values url.Values, params []string) (Candidate, bool) {
	for _, name := range params {
		if v := strings.TrimSpace(values.Get(name)); v != "" {
			return Candidate{Value: v, Source: SourceQueryParam, Field: name}, true
		}
	}
	return Candidate{}, false
}

// FromRedirectBody looks for a redirect URL inside a JSON body and extracts a
// token from its query string.
func FromRedirectBody(body []byte, params []string) (Candidate, bool) {
	for _, path := range RedirectPaths {
		target, ok := FirstString(body, path)
		if !ok {
			continue
		}
		if c, ok := FromURL(target, params); ok {
			c.Source = SourceRedirectURL
			return c, true
		}
	}
	return Candidate{}, false
}

// FromLocation extracts a token from the Location header, resolved against
// base when relative.
func FromLocation(header http.Header, base *url.URL, params []string) (Candidate, bool) {
	loc := header.Get("Location")
	if loc == "" {
		return Candidate{}, false
	}
	if base != nil {
		if ref, err := base.Parse(loc); err == nil {
			loc = ref.String()
		}
	}
	c, ok := FromURL(loc, params)
	if !ok {
		return Candidate{}, false
	}
	c.Source = SourceRedirectHeader
	return c, true
}

// Fields returns the non-token query and fragment parameters of raw, used to
// carry values such as a settingId alongside a captured token.
func Fields(raw string, params []string) map[string]string {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	if len(params) == 0 {
		params = DefaultQueryParams
	}
	skip := make(map[string]struct{}, len(params))
	for _, p := range params {
		skip[p] = struct{}{}
	}
	out := map[string]string{}
	collect := func(values url.Values) {
		for k := range values {
			if _, ok := skip[k]; ok {
				continue
			}
			if v := values.Get(k); v != "" {
				out[k] = v
			}
		}
	}
	collect(u.Query())
	if frag, err := url.ParseQuery(u.Fragment); err == nil {
		collect(frag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
