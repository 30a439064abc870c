package token

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/fin-keeper/internal/model"
)

// ErrUnknownProvider is returned for a provider the verifier does not trust.
var ErrUnknownProvider = errors.New("unknown identity provider")

type assertion struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// BrokerVerifier accepts identity assertions minted by a trusted login broker:
// HS256 JWTs whose issuer names the provider and whose email is verified.
type BrokerVerifier struct {
	key       []byte
	providers map[string]struct{}
	codec     *Codec
}

// NewBrokerVerifier trusts assertions signed with key for the listed providers.
func NewBrokerVerifier(key []byte, providers ...string) (*BrokerVerifier, error) {
	c, err := NewCodec(key)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	set := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		set[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return &BrokerVerifier{key: c.key, providers: set, codec: c}, nil
}

// Verify checks credential and returns the asserted identity.
func (v *BrokerVerifier) Verify(_ context.Context, provider, credential string) (model.ExternalIdentity, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if _, ok := v.providers[provider]; !ok {
		return model.ExternalIdentity{}, ErrUnknownProvider
	}
	var a assertion
	parsed, err := jwt.ParseWithClaims(credential, &a, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.key, nil
	},
		jwt.WithLeeway(v.codec.leeway),
		jwt.WithTimeFunc(v.codec.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(provider),
	)
	if err != nil || !parsed.Valid || a.Email == "" || !a.EmailVerified {
		return model.ExternalIdentity{}, ErrInvalid
	}
	return model.ExternalIdentity{Provider: provider, Email: strings.ToLower(a.Email), Name: a.Name}, nil
}
