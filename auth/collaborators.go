package auth

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/pkg/errors"
)

// PushRegistrar removes this device's push registration on logout.
type PushRegistrar interface {
	Unregister(ctx context.Context) error
}

// ContentCache is local content that must not outlive a session.
type ContentCache interface {
	Clear(ctx context.Context) error
}

// IDTokenVerifier checks a native OAuth ID token locally. *oidc.IDTokenVerifier
// satisfies it.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

var _ IDTokenVerifier = (*oidc.IDTokenVerifier)(nil)

type noopPush struct{}

func (noopPush) Unregister(context.Context) error { return nil }

type noopCache struct{}

func (noopCache) Clear(context.Context) error { return nil }

// NewIDTokenVerifier discovers the issuer's keys. It returns nil, nil when
// no issuer is configured.
func NewIDTokenVerifier(ctx context.Context, cfg config.OAuthConfig) (IDTokenVerifier, error) {
	if cfg.Issuer == "" {
		return nil, nil
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, errors.Wrapf(err, "[NewIDTokenVerifier] discover %s", cfg.Issuer)
	}
	return provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), nil
}
