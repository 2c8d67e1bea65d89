package pipeline

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	dErrors "claimgate/pkg/domainerrors"
)

// Signer authenticates event payloads with HMAC-SHA256. Both ends share the
// key; the signature rides in the record header, never inside the payload.
type Signer struct {
	key []byte
}

func NewSigner(key []byte) (*Signer, error) {
	if len(key) < 16 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "signing key must be at least 16 bytes")
	}
	return &Signer{key: key}, nil
}

// Sign returns the hex-encoded MAC of payload.
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex-encoded MAC in constant time.
// Errors: CodeUnauthorized for a missing, malformed, or wrong signature.
func (s *Signer) Verify(payload []byte, signature string) error {
	if signature == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "missing event signature")
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "malformed event signature")
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return dErrors.New(dErrors.CodeUnauthorized, "event signature mismatch")
	}
	return nil
}
