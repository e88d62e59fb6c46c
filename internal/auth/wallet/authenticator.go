package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/chainscope/txgate/internal/observability"
)

// DefaultNonceTTL is the challenge lifetime when config does not override it.
const DefaultNonceTTL = 2 * time.Minute

// LoginRequest carries the proof a wallet presents to exchange a nonce for
// an access credential.
type LoginRequest struct {
	// PubKey is the base58 Ed25519 public key of the wallet.
	PubKey string

	// Nonce is the challenge value previously issued to this wallet.
	Nonce string

	// Signature is the Ed25519 signature over the canonical signing string,
	// encoded base58 or base64.
	Signature string

	// Method and PathWithQuery identify the login request as the wallet
	// signed it.
	Method        string
	PathWithQuery string
}

// Authenticator runs the nonce-challenge flow: issue a nonce, then verify a
// signed login and mint an access credential.
type Authenticator struct {
	store    NonceStore
	tokens   *TokenIssuer
	nonceTTL time.Duration
	role     string
	admins   map[string]struct{}
	logger   observability.Logger
}

// AuthenticatorOption is a functional option for the authenticator.
type AuthenticatorOption func(*Authenticator)

// WithNonceTTL overrides the challenge lifetime.
func WithNonceTTL(ttl time.Duration) AuthenticatorOption {
	return func(a *Authenticator) {
		if ttl > 0 {
			a.nonceTTL = ttl
		}
	}
}

// WithRole sets the role granted on successful login.
func WithRole(role string) AuthenticatorOption {
	return func(a *Authenticator) {
		if role != "" {
			a.role = role
		}
	}
}

// WithAdminWallets grants RoleAdmin to the listed public keys on login.
func WithAdminWallets(pubkeys []string) AuthenticatorOption {
	return func(a *Authenticator) {
		for _, pk := range pubkeys {
			a.admins[pk] = struct{}{}
		}
	}
}

// WithAuthLogger sets the logger for the authenticator.
func WithAuthLogger(logger observability.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthenticator creates an authenticator from a nonce store and a token
// issuer.
func NewAuthenticator(store NonceStore, tokens *TokenIssuer, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		store:    store,
		tokens:   tokens,
		nonceTTL: DefaultNonceTTL,
		role:     RoleReader,
		admins:   make(map[string]struct{}),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IssueNonce creates a fresh challenge for the wallet. The public key is
// validated before any state is written so malformed keys never occupy a
// store slot.
func (a *Authenticator) IssueNonce(ctx context.Context, pubkey string) (*Nonce, error) {
	if _, err := DecodePubKey(pubkey); err != nil {
		return nil, err
	}

	nonce, err := a.store.Issue(ctx, pubkey, a.nonceTTL)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("issued auth nonce",
		observability.String("pubkey", pubkey),
		observability.Time("expires_at", nonce.ExpiresAt))
	return nonce, nil
}

// Login verifies the signed challenge and mints an access credential. The
// nonce is checked before the signature so a stale challenge reports
// ErrNonceExpired even when the signature is valid, and consumed only after
// the signature verifies so a failed attempt does not burn the challenge.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (string, *Credential, error) {
	if err := a.store.Peek(ctx, req.PubKey, req.Nonce); err != nil {
		return "", nil, err
	}

	message := SigningString(req.Method, req.PathWithQuery, req.Nonce)
	if err := VerifySignature(req.PubKey, req.Signature, message); err != nil {
		a.logger.Warn("wallet signature verification failed",
			observability.String("pubkey", req.PubKey),
			observability.String("kind", ErrorKind(err)))
		return "", nil, err
	}

	// Exactly one concurrent login per nonce reaches this point and wins;
	// the rest fail the consume with ErrNonceConsumed.
	if err := a.store.Consume(ctx, req.PubKey, req.Nonce); err != nil {
		if errors.Is(err, ErrNonceConsumed) {
			a.logger.Warn("nonce replay attempt",
				observability.String("pubkey", req.PubKey))
		}
		return "", nil, err
	}

	role := a.role
	if _, ok := a.admins[req.PubKey]; ok {
		role = RoleAdmin
	}

	token, cred, err := a.tokens.Issue(req.PubKey, role)
	if err != nil {
		return "", nil, err
	}

	a.logger.Info("wallet authenticated",
		observability.String("pubkey", req.PubKey),
		observability.String("role", cred.Role))
	return token, cred, nil
}

// VerifyCredential validates a previously issued access token.
func (a *Authenticator) VerifyCredential(raw string) (*Credential, error) {
	return a.tokens.Verify(raw)
}

// Close releases the nonce store.
func (a *Authenticator) Close() error {
	return a.store.Close()
}
