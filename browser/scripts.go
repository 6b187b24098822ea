package browser

import (
	"bytes"
	"embed"
	"encoding/json"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

// Messages posted back by the injection script.
const (
	MessageSubmitted      = "submitted"
	MessageFieldsNotFound = "fields not found"
)

var (
	EmailSelectors = []string{
		`input[type="email"]`,
		`input[name="email"]`,
		`input[autocomplete="username"]`,
		`input#email`,
		`input[name="username"]`,
		`input[name="login"]`,
		`input[type="text"]`,
	}
	PasswordSelectors = []string{
		`input[type="password"]`,
		`input[name="password"]`,
		`input#password`,
		`input[autocomplete="current-password"]`,
	}
	SubmitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button[name="login"]`,
		`form button`,
	}
	ContinueSelectors = []string{
		`[data-provider-login]`,
		`a[href*="oauth"]`,
		`button[data-action="continue"]`,
	}
	ContinueLabels = []string{"continue with", "sign in with", "log in with"}
)

//go:embed scripts/*.js.tmpl
var scriptFS embed.FS

var scripts = template.Must(template.New("scripts").Funcs(template.FuncMap{
	"json": func(v any) (string, error) {
		raw, err := json.Marshal(v)
		return string(raw), err
	},
}).ParseFS(scriptFS, "scripts/*.js.tmpl"))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := scripts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", errors.Wrapf(err, "[browser.render] %s", name)
	}
	return buf.String(), nil
}

// CredentialScript fills and submits the provider login form. Values are
// embedded as JSON string literals.
func CredentialScript(email, password string, settle time.Duration) (string, error) {
	return render("inject_credentials.js.tmpl", map[string]any{
		"EmailSelectors":    EmailSelectors,
		"PasswordSelectors": PasswordSelectors,
		"SubmitSelectors":   SubmitSelectors,
		"Email":             email,
		"Password":          password,
		"SettleDelayMS":     settle.Milliseconds(),
		"Submitted":         MessageSubmitted,
		"FieldsNotFound":    MessageFieldsNotFound,
	})
}

// ContinueScript clicks the "continue with provider" control.
func ContinueScript() (string, error) {
	return render("click_continue.js.tmpl", map[string]any{
		"ContinueSelectors": ContinueSelectors,
		"ContinueLabels":    ContinueLabels,
	})
}

// RedirectScript navigates the page to target.
func RedirectScript(target string) (string, error) {
	return render("redirect.js.tmpl", map[string]any{"Target": target})
}
