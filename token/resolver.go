package token

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Ranked search paths. The upstream APIs disagree on where things live, so
// every lookup is a walk over one of these tables.
var (
	TokenPaths = []string{"data.token", "token", "jwt", "data.jwt", "accessToken"}

	UserPaths = []string{"data.user", "user", "data.profile", "profile"}

	SettingIDPaths = []string{
		"data.settingId", "settingId", "data.setting_id", "setting_id",
		"data.user.settingId", "user.settingId",
	}

	ExpiresAtPaths = []string{"data.tokenExpiresAt", "tokenExpiresAt", "data.expiresAt", "expiresAt", "expires_at"}

	ExpiresInPaths = []string{"data.expiresIn", "expiresIn", "expires_in"}

	RedirectPaths = []string{
		"redirect", "redirectUrl", "redirect_url", "redirectTo", "url", "location",
		"data.redirect", "data.redirectUrl", "data.url",
	}

	ErrorMessagePaths = []string{"message", "error.message", "error_description", "error", "errors.0.message", "data.message"}
)

// FromJSON runs the ranked token-field resolver over body. A body that is
// itself a JWT (raw or as a JSON string) is accepted directly.
func FromJSON(body []byte) (Candidate, bool) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return Candidate{}, false
	}
	if !gjson.Valid(trimmed) {
		if LooksLikeJWT(trimmed) {
			return Candidate{Value: trimmed, Source: SourceBareString}, true
		}
		return Candidate{}, false
	}

	root := gjson.Parse(trimmed)
	if root.Type == gjson.String {
		if s := strings.TrimSpace(root.String()); LooksLikeJWT(s) {
			return Candidate{Value: s, Source: SourceBareString}, true
		}
		return Candidate{}, false
	}

	for _, path := range TokenPaths {
		v := root.Get(path)
		if v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			return Candidate{Value: strings.TrimSpace(v.String()), Source: SourceJSONField, Field: path}, true
		}
	}
	if data := root.Get("data"); data.Type == gjson.String && LooksLikeJWT(data.String()) {
		return Candidate{Value: strings.TrimSpace(data.String()), Source: SourceBareString, Field: "data"}, true
	}
	return Candidate{}, false
}

// FirstString returns the first non-blank string (or number, rendered) found
// along paths.
func FirstString(body []byte, paths ...string) (string, bool) {
	for _, path := range paths {
		v := gjson.GetBytes(body, path)
		switch v.Type {
		case gjson.String:
			if s := strings.TrimSpace(v.String()); s != "" {
				return s, true
			}
		case gjson.Number:
			return v.Raw, true
		}
	}
	return "", false
}

// FirstObject returns the first JSON object found along paths.
func FirstObject(body []byte, paths ...string) (gjson.Result, bool) {
	for _, path := range paths {
		v := gjson.GetBytes(body, path)
		if v.IsObject() {
			return v, true
		}
	}
	return gjson.Result{}, false
}

// FirstInt returns the first numeric (or numeric string) value along paths.
func FirstInt(body []byte, paths ...string) (int64, bool) {
	for _, path := range paths {
		v := gjson.GetBytes(body, path)
		switch v.Type {
		case gjson.Number:
			return v.Int(), true
		case gjson.String:
			n := gjson.Parse(strings.TrimSpace(v.String()))
			if n.Type == gjson.Number {
				return n.Int(), true
			}
		}
	}
	return 0, false
}

// IsJSON reports whether body parses as a JSON object or array.
func IsJSON(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	r := gjson.ParseBytes(body)
	return r.IsObject() || r.IsArray()
}

// JSONError reports whether a JSON body describes a failure, returning the
// server's message. Failure is signalled by `success:false`, `ok:false`,
// `status:"error"`, a non-empty `error` or a non-empty `errors` array.
func JSONError(body []byte) (string, bool) {
	if !IsJSON(body) {
		return "", false
	}
	root := gjson.ParseBytes(body)
	failed := false
	for _, flag := range []string{"success", "ok"} {
		if v := root.Get(flag); v.Exists() && v.Type == gjson.False {
			failed = true
		}
	}
	if strings.EqualFold(root.Get("status").String(), "error") {
		failed = true
	}
	if e := root.Get("error"); e.Exists() && e.Type != gjson.Null && e.Type != gjson.False && e.String() != "" {
		failed = true
	}
	if errs := root.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		failed = true
	}
	if !failed {
		return "", false
	}
	msg, _ := FirstString(body, ErrorMessagePaths...)
	return msg, true
}
