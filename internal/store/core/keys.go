package core

import "time"

// SigningKey es un par Ed25519 persistido. Nunca se borra: las claves
// revocadas se conservan para poder auditar tokens firmados antes de rotar.
// La clave "activa" (usada para firmar) es la no-revocada más reciente.
type SigningKey struct {
	ID         string
	Algorithm  string // "EdDSA"
	PublicKey  []byte
	PrivateKey []byte // puede ser nil en verificadores remotos
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// Revoked indica si la clave fue revocada.
func (k *SigningKey) Revoked() bool { return k.RevokedAt != nil }
