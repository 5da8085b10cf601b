// Package attest implements the signature attestation protocol for approved
// expense reports.
//
// A Signer generates a fresh key pair, signs the canonical payload of a report
// and hands back the {signature, publicKey, contentDigest} triple. The private
// key never leaves the Signer: it is not exported, not serialized and not
// needed by anything downstream. Verification runs on public data only.
package attest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nicolRB/LogWare/pkg/canonicalize"
	"github.com/nicolRB/LogWare/pkg/report"
)

// RSAKeyBits is the modulus size of generated RSA keys (public exponent 65537).
const RSAKeyBits = 2048

var errPrivateKeyExport = errors.New("attest: signer private key is not serializable")

// Signer holds a freshly generated key pair for a single signing session.
type Signer struct {
	alg Algorithm
	key crypto.Signer
}

// GenerateKey creates a Signer with a new key pair for alg.
func GenerateKey(alg Algorithm) (*Signer, error) {
	var (
		key crypto.Signer
		err error
	)
	switch alg {
	case RS256:
		key, err = rsa.GenerateKey(rand.Reader, RSAKeyBits)
	case ES256:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Signer{alg: alg, key: key}, nil
}

func (s *Signer) Algorithm() Algorithm { return s.alg }

// PublicJWK returns the public half as a JWK object.
func (s *Signer) PublicJWK() (json.RawMessage, error) {
	return ExportPublicKey(s.key.Public(), s.alg)
}

// SignPayload signs payload and returns the wire-ready attestation.
// RS256 produces a PKCS#1 v1.5 signature, ES256 an ASN.1 DER one.
func (s *Signer) SignPayload(payload []byte) (report.Attestation, error) {
	digest := canonicalize.Digest(payload)
	sig, err := s.key.Sign(rand.Reader, digest, crypto.SHA256)
	if err != nil {
		return report.Attestation{}, fmt.Errorf("signing failed: %w", err)
	}
	jwk, err := s.PublicJWK()
	if err != nil {
		return report.Attestation{}, err
	}
	return report.Attestation{
		Signature:     base64.StdEncoding.EncodeToString(sig),
		PublicKey:     jwk,
		ContentDigest: base64.StdEncoding.EncodeToString(digest),
	}, nil
}

// Attest signs the canonical payload of an approved report.
func (s *Signer) Attest(r report.Report) (report.Attestation, error) {
	if r.Status != report.StatusApproved {
		return report.Attestation{}, fmt.Errorf("report %s is %s; only approved reports can be signed", r.ID, r.Status)
	}
	payload, err := Payload(r)
	if err != nil {
		return report.Attestation{}, err
	}
	return s.SignPayload(payload)
}

// MarshalJSON refuses to serialize the signer.
func (s *Signer) MarshalJSON() ([]byte, error) {
	return nil, errPrivateKeyExport
}
