package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Header carries the hex-encoded HMAC of the request body.
const Header = "X-Promote-Signature"

// Sign computes the hex HMAC-SHA256 of payload under secret.
func Sign(secret []byte, payload []byte) string {
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Verify checks a provided signature against the expected HMAC for payload.
func Verify(secret []byte, payload []byte, provided string) error {
	if provided == "" {
		return errors.New("missing promote signature")
	}
	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return errors.New("invalid promote signature")
	}
	return nil
}
