package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	// DefaultCredentialTTL is the lifetime of an access credential when the
	// issuer config does not override it.
	DefaultCredentialTTL = 15 * time.Minute

	defaultIssuer = "txgate"
	roleClaim     = "role"
)

// Roles granted to authenticated wallets.
const (
	RoleReader = "reader"
	RoleAdmin  = "admin"
)

// Credential is the decoded content of a verified access token.
type Credential struct {
	// Subject is the base58 wallet public key the token was issued to.
	Subject string

	// Role is the access role granted at login.
	Role string

	// ExpiresAt is the token expiry.
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies HMAC-signed access tokens for wallets that
// completed the nonce challenge.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// TokenIssuerOption is a functional option for the token issuer.
type TokenIssuerOption func(*TokenIssuer)

// WithTokenTTL overrides the credential lifetime.
func WithTokenTTL(ttl time.Duration) TokenIssuerOption {
	return func(t *TokenIssuer) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithTokenIssuerName overrides the iss claim.
func WithTokenIssuerName(name string) TokenIssuerOption {
	return func(t *TokenIssuer) {
		if name != "" {
			t.issuer = name
		}
	}
}

// NewTokenIssuer creates a token issuer. The secret must be non-empty.
func NewTokenIssuer(secret []byte, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}

	t := &TokenIssuer{
		secret: secret,
		issuer: defaultIssuer,
		ttl:    DefaultCredentialTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// TTL returns the configured credential lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue mints a signed access token for the given wallet.
func (t *TokenIssuer) Issue(subject, role string) (string, *Credential, error) {
	now := time.Now()
	expiresAt := now.Add(t.ttl)

	token, err := jwt.NewBuilder().
		Issuer(t.issuer).
		Subject(subject).
		IssuedAt(now).
		Expiration(expiresAt).
		Claim(roleClaim, role).
		Build()
	if err != nil {
		return "", nil, fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, t.secret))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	return string(signed), &Credential{
		Subject:   subject,
		Role:      role,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify validates a signed access token and returns its credential.
func (t *TokenIssuer) Verify(raw string) (*Credential, error) {
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, t.secret),
		jwt.WithIssuer(t.issuer),
		jwt.WithValidate(true),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, ErrCredentialExpired
		}
		return nil, ErrInvalidCredential
	}

	cred := &Credential{
		Subject:   token.Subject(),
		ExpiresAt: token.Expiration(),
	}
	if role, ok := token.Get(roleClaim); ok {
		if s, ok := role.(string); ok {
			cred.Role = s
		}
	}
	if cred.Subject == "" {
		return nil, ErrInvalidCredential
	}
	return cred, nil
}
