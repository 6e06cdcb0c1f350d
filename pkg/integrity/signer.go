// Package integrity adapts the teacher's RSA file-structure signing into a
// supplemental integrity layer over chunked transfers (SPEC_FULL.md
// "Integrity signing"): a sender can sign a Manifest describing what it is
// about to send, and a receiver can verify that manifest came from a holder
// of the matching private key and was not altered in transit. This sits
// above the transport's own security (spec.md §4.3's SecureStream) as a
// second, transfer-scoped integrity check — not a substitute for it.
package integrity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"fmt"
)

const keyBits = 2048

// KeyPair is an RSA key pair used to sign and verify manifests.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// GenerateKeyPair creates a fresh session key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("integrity: generate key pair: %w", err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// Manifest describes one outbound chunked transfer: its declared size and
// an identifying name (a file path for DFTR, a clipboard ID/sequence pair
// rendered as a string for DCLP). It is the thing integrity signatures are
// computed over, not the transfer's bytes themselves — spec.md's chunk
// size ceiling means the payload is never available as one slice.
type Manifest struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// SignedManifest carries a Manifest alongside the public key and signature
// needed to verify it, grounded on the teacher's SignedFileStructure.
type SignedManifest struct {
	Manifest  Manifest `json:"manifest"`
	PublicKey []byte   `json:"public_key"`
	Signature []byte   `json:"signature"`
}

// Signer signs manifests with a held key pair.
type Signer struct {
	keys *KeyPair
}

// NewSigner generates a fresh key pair and returns a Signer using it.
func NewSigner() (*Signer, error) {
	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Signer{keys: keys}, nil
}

// NewSignerFromKeyPair returns a Signer using an existing key pair, e.g.
// one persisted across sessions.
func NewSignerFromKeyPair(keys *KeyPair) *Signer { return &Signer{keys: keys} }

// Sign produces a SignedManifest for m.
func (s *Signer) Sign(m Manifest) (*SignedManifest, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("integrity: marshal manifest: %w", err)
	}
	hash := sha256.Sum256(payload)

	sig, err := rsa.SignPKCS1v15(rand.Reader, s.keys.PrivateKey, crypto.SHA256, hash[:])
	if err != nil {
		return nil, fmt.Errorf("integrity: sign manifest: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(s.keys.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("integrity: marshal public key: %w", err)
	}

	return &SignedManifest{Manifest: m, PublicKey: pubBytes, Signature: sig}, nil
}

// PublicKey returns the signer's public key.
func (s *Signer) PublicKey() *rsa.PublicKey { return s.keys.PublicKey }

// Verify checks that sm's signature was produced by the holder of the
// embedded public key over the embedded manifest, and returns an error if
// not. It does not check the manifest's content (size, name) against
// anything else — callers compare that against the assembled transfer.
func Verify(sm *SignedManifest) error {
	pubIface, err := x509.ParsePKIXPublicKey(sm.PublicKey)
	if err != nil {
		return fmt.Errorf("integrity: parse public key: %w", err)
	}
	pub, ok := pubIface.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("integrity: embedded key is not RSA")
	}

	payload, err := json.Marshal(sm.Manifest)
	if err != nil {
		return fmt.Errorf("integrity: marshal manifest: %w", err)
	}
	hash := sha256.Sum256(payload)

	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], sm.Signature); err != nil {
		return fmt.Errorf("integrity: signature verification failed: %w", err)
	}
	return nil
}
