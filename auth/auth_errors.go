package auth

import (
	"net/http"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/transport"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/pkg/errors"
)

var (
	ErrMissingCredentials = apperrors.New(apperrors.KindInvalidCredentials, "email and password are required")
	ErrMissingToken       = apperrors.New(apperrors.KindInvalidCredentials, "no identity token was provided")
	ErrIdentityRejected   = apperrors.New(apperrors.KindInvalidCredentials, "identity token was rejected")
	ErrFlowTimeout        = apperrors.New(apperrors.KindTimeout, "login took too long")
)

// finish converts err into the {kind, message} shape returned to callers.
func finish(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Normalize(err)
}

// checkResponse classifies a first-party response. Rejections carry the
// server's message when it sent one; any other non-2xx is treated as the
// service being unavailable.
func checkResponse(resp *transport.Response, rejected *apperrors.Error) error {
	if msg, failed := token.JSONError(resp.Body); failed {
		return apperrors.New(rejected.Kind, serverMessage(msg, rejected))
	}
	switch {
	case resp.IsSuccess():
		return nil
	case rejectedStatus(resp.Status):
		msg, _ := token.FirstString(resp.Body, token.ErrorMessagePaths...)
		return apperrors.New(rejected.Kind, serverMessage(msg, rejected))
	default:
		return apperrors.Wrap(apperrors.KindProviderUnavailable, apperrors.ErrProviderUnavailable.Message,
			errors.Errorf("unexpected status %d", resp.Status))
	}
}

// rejectedStatus reports statuses that mean the request itself was refused.
func rejectedStatus(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func serverMessage(msg string, fallback *apperrors.Error) string {
	if msg == "" {
		return fallback.Message
	}
	return msg
}
