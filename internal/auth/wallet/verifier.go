package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"

	"github.com/mr-tron/base58"
)

// SigningString builds the canonical request digest a wallet signs to prove
// ownership of its key. The method is upper-cased; the path keeps its raw
// query string so the signature covers exactly what the server received.
//
//	METHOD\npath?query\nnonce
func SigningString(method, pathWithQuery, nonce string) string {
	var b strings.Builder
	b.Grow(len(method) + len(pathWithQuery) + len(nonce) + 2)
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(pathWithQuery)
	b.WriteByte('\n')
	b.WriteString(nonce)
	return b.String()
}

// DecodePubKey parses a base58-encoded Ed25519 public key.
func DecodePubKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, ErrInvalidPubKey
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKey
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeSignature parses a 64-byte Ed25519 signature encoded as base58 or,
// failing that, standard base64. Wallet tooling emits both forms.
func DecodeSignature(encoded string) ([]byte, error) {
	if raw, err := base58.Decode(encoded); err == nil && len(raw) == ed25519.SignatureSize {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(raw) == ed25519.SignatureSize {
		return raw, nil
	}
	return nil, ErrInvalidSignature
}

// VerifySignature checks that signature is a valid Ed25519 signature over
// message by the holder of pubkey.
func VerifySignature(pubkey, signature, message string) error {
	key, err := DecodePubKey(pubkey)
	if err != nil {
		return err
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return err
	}
	if !ed25519.Verify(key, []byte(message), sig) {
		return ErrInvalidSignature
	}
	return nil
}
