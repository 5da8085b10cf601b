package attest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/nicolRB/LogWare/pkg/canonicalize"
	"github.com/nicolRB/LogWare/pkg/report"
)

const (
	ReasonDigestMismatch    = "content digest does not match report content"
	ReasonSignatureMismatch = "signature does not match content digest"
)

// Result is the verification outcome for well-formed inputs.
type Result struct {
	ReportID      string    `json:"reportId,omitempty"`
	Valid         bool      `json:"valid"`
	Reason        string    `json:"reason,omitempty"`
	Algorithm     Algorithm `json:"algorithm,omitempty"`
	ContentDigest string    `json:"contentDigest,omitempty"`
}

// Verify checks the stored attestation of a signed report against the report
// content. It needs nothing but the report itself.
func Verify(r report.Report) (Result, error) {
	if r.Status != report.StatusSigned {
		return Result{}, incomplete(fmt.Sprintf("report %s is %s, not signed", r.ID, r.Status))
	}
	a, ok := r.Attestation()
	if !ok {
		return Result{}, incomplete(fmt.Sprintf("report %s is missing part of its attestation", r.ID))
	}
	payload, err := Payload(r)
	if err != nil {
		return Result{}, incomplete(err.Error())
	}
	res, err := VerifyPayload(payload, a)
	res.ReportID = r.ID
	return res, err
}

// VerifyPayload checks an attestation against canonical payload bytes.
func VerifyPayload(payload []byte, a report.Attestation) (Result, error) {
	if !a.Complete() {
		return Result{}, incomplete("attestation is missing signature, publicKey or contentDigest")
	}
	pub, alg, err := ParsePublicKey(a.PublicKey)
	if err != nil {
		return Result{}, err
	}
	sig, err := decodeBase64(a.Signature)
	if err != nil {
		return Result{}, malformed("signature is not base64", err)
	}
	digest, err := decodeBase64(a.ContentDigest)
	if err != nil {
		return Result{}, malformed("contentDigest is not base64", err)
	}
	if len(digest) != sha256.Size {
		return Result{}, malformed(fmt.Sprintf("contentDigest is %d bytes, want %d", len(digest), sha256.Size), nil)
	}

	res := Result{Algorithm: alg, ContentDigest: a.ContentDigest}
	if subtle.ConstantTimeCompare(canonicalize.Digest(payload), digest) != 1 {
		res.Reason = ReasonDigestMismatch
		return res, nil
	}
	if !verifyDigest(pub, digest, sig) {
		res.Reason = ReasonSignatureMismatch
		return res, nil
	}
	res.Valid = true
	return res, nil
}

func verifyDigest(pub crypto.PublicKey, digest, sig []byte) bool {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest, sig) == nil
	case *ecdsa.PublicKey:
		// Browsers emit the fixed-size r||s form, Go the ASN.1 one.
		size := (key.Curve.Params().BitSize + 7) / 8
		if len(sig) == 2*size {
			r := new(big.Int).SetBytes(sig[:size])
			s := new(big.Int).SetBytes(sig[size:])
			if ecdsa.Verify(key, digest, r, s) {
				return true
			}
		}
		return ecdsa.VerifyASN1(key, digest, sig)
	}
	return false
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	encodings := []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
