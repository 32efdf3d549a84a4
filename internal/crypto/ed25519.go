package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ParsePublicKey decodes a base64 Ed25519 public key. Both SPKI (DER) and raw
// 32-byte encodings are accepted.
func ParsePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) == ed25519.PublicKeySize {
		return ed25519.PublicKey(decoded), nil
	}

	parsed, err := x509.ParsePKIXPublicKey(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: must be SPKI or %d raw bytes, got %d bytes", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: SPKI key is not Ed25519", ErrInvalidPublicKey)
	}
	return pub, nil
}

// EncodePublicKey returns the base64 SPKI encoding of an Ed25519 public key.
func EncodePublicKey(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// NormalizePublicKey re-encodes any accepted key encoding as base64 SPKI.
func NormalizePublicKey(pubkeyB64 string) (string, error) {
	pub, err := ParsePublicKey(pubkeyB64)
	if err != nil {
		return "", err
	}
	return EncodePublicKey(pub)
}

// VerifySignature verifies signatureB64 over data exactly as given.
func VerifySignature(pubkey ed25519.PublicKey, data []byte, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidSignature, ed25519.SignatureSize, len(signature))
	}

	if !ed25519.Verify(pubkey, data, signature) {
		return ErrInvalidSignature
	}

	return nil
}

// Verify reports whether signatureB64 is a valid Ed25519 signature of payload
// under publicKeyB64. The payload bytes are verified as-is: no digest step and
// no re-serialization, so any byte difference fails.
func Verify(payload []byte, signatureB64, publicKeyB64 string) bool {
	pub, err := ParsePublicKey(publicKeyB64)
	if err != nil {
		return false
	}
	return VerifySignature(pub, payload, signatureB64) == nil
}

// Sign returns the base64 Ed25519 signature of payload.
func Sign(priv ed25519.PrivateKey, payload []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload))
}

// HashCode returns the hex SHA-256 digest of a one-time code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
