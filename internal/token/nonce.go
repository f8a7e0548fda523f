package token

import (
	"crypto/rand"
	"encoding/base64"
)

// NewNonce genera el valor opaco por emisión. Sirve para observabilidad
// (distinguir re-emisiones), no para prevención de replay.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
