package auth

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

var (
	antiForgeryInputs = []string{"_token", "authenticity_token", "csrf_token", "csrfmiddlewaretoken", "__RequestVerificationToken", "_csrf"}
	antiForgeryMetas  = []string{"csrf-token", "csrf_token", "_csrf"}
)

const defaultAntiForgeryField = "_token"

type antiForgery struct {
	Field string
	Value string
}

// extractAntiForgery finds the anti-forgery token on a login page. A hidden
// form input wins over a meta tag because it names the field to post.
func extractAntiForgery(page []byte) (antiForgery, bool) {
	var fromMeta antiForgery
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return fromMeta, fromMeta.Value != ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "input":
				name := attr(tok, "name")
				value := attr(tok, "value")
				if value != "" && contains(antiForgeryInputs, name) {
					return antiForgery{Field: name, Value: value}, true
				}
			case "meta":
				if fromMeta.Value == "" && contains(antiForgeryMetas, strings.ToLower(attr(tok, "name"))) {
					fromMeta = antiForgery{Field: defaultAntiForgeryField, Value: attr(tok, "content")}
				}
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
