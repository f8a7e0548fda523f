package keys

import (
	"context"
	"encoding/base64"
	"encoding/json"
)

// JWK es el descriptor publicado de una clave pública Ed25519.
type JWK struct {
	Kty string `json:"kty"` // "OKP"
	Crv string `json:"crv"` // "Ed25519"
	X   string `json:"x"`   // base64url(pub)
	Kid string `json:"kid"`
	Use string `json:"use"` // "sig"
	Alg string `json:"alg"` // "EdDSA"
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKSJSON serializa las públicas no-revocadas. El documento sólo agrega
// claves o las deja de listar al revocar; nunca muta bytes de un descriptor,
// por eso los consumidores pueden cachearlo agresivamente (hora-scale).
func (s *Service) JWKSJSON(ctx context.Context) ([]byte, error) {
	recs, err := s.PublicKeys(ctx)
	if err != nil {
		return nil, err
	}
	doc := JWKS{Keys: make([]JWK, 0, len(recs))}
	for _, k := range recs {
		if len(k.PublicKey) == 0 {
			continue
		}
		doc.Keys = append(doc.Keys, JWK{
			Kty: "OKP",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(k.PublicKey),
			Kid: k.ID,
			Use: "sig",
			Alg: k.Algorithm,
		})
	}
	return json.Marshal(doc)
}
