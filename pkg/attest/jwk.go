package attest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Algorithm is a JWS algorithm name.
type Algorithm string

const (
	// RS256 is RSASSA-PKCS1-v1_5 with SHA-256.
	RS256 Algorithm = Algorithm(jose.RS256)
	// ES256 is ECDSA P-256 with SHA-256.
	ES256 Algorithm = Algorithm(jose.ES256)
)

// MinRSABits is the smallest RSA modulus accepted for verification.
const MinRSABits = 2048

// ParseAlgorithm accepts RS256 and ES256; empty means RS256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", RS256:
		return RS256, nil
	case ES256:
		return ES256, nil
	}
	return "", fmt.Errorf("unsupported algorithm %q", s)
}

// ExportPublicKey encodes pub as a JWK object.
func ExportPublicKey(pub crypto.PublicKey, alg Algorithm) (json.RawMessage, error) {
	jwk := jose.JSONWebKey{Key: pub, Algorithm: string(alg), Use: "sig"}
	if !jwk.Valid() || !jwk.IsPublic() {
		return nil, fmt.Errorf("cannot export %T as a public JWK", pub)
	}
	return jwk.MarshalJSON()
}

// ParsePublicKey decodes a JWK into a verification key and its algorithm.
// Private keys, unsupported key types and weak RSA moduli are refused.
func ParsePublicKey(raw json.RawMessage) (crypto.PublicKey, Algorithm, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, "", malformed("public key is not a valid JWK", err)
	}
	switch key := jwk.Key.(type) {
	case *rsa.PublicKey:
		if jwk.Algorithm != "" && Algorithm(jwk.Algorithm) != RS256 {
			return nil, "", malformed(fmt.Sprintf("algorithm %s does not match RSA key", jwk.Algorithm), nil)
		}
		if key.N.BitLen() < MinRSABits {
			return nil, "", malformed(fmt.Sprintf("RSA key is %d bits; minimum is %d", key.N.BitLen(), MinRSABits), nil)
		}
		return key, RS256, nil
	case *ecdsa.PublicKey:
		if jwk.Algorithm != "" && Algorithm(jwk.Algorithm) != ES256 {
			return nil, "", malformed(fmt.Sprintf("algorithm %s does not match EC key", jwk.Algorithm), nil)
		}
		if key.Curve != elliptic.P256() {
			return nil, "", malformed("EC key must use curve P-256", nil)
		}
		return key, ES256, nil
	}
	if !jwk.IsPublic() {
		return nil, "", malformed("JWK carries private or symmetric key material", nil)
	}
	return nil, "", malformed(fmt.Sprintf("unsupported key type %T", jwk.Key), nil)
}
