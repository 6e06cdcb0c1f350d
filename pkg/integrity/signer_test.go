package integrity

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyManifest(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	m := Manifest{Name: "report.pdf", Size: 80000, Checksum: "deadbeef"}
	signed, err := signer.Sign(m)
	require.NoError(t, err)

	assert.Equal(t, m, signed.Manifest)
	assert.NoError(t, Verify(signed))
}

func TestVerifyRejectsTamperedManifest(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	signed, err := signer.Sign(Manifest{Name: "a.txt", Size: 10})
	require.NoError(t, err)

	signed.Manifest.Size = 99999 // tamper after signing
	assert.Error(t, Verify(signed))
}

func TestVerifyRejectsSwappedKey(t *testing.T) {
	signerA, err := NewSigner()
	require.NoError(t, err)
	signerB, err := NewSigner()
	require.NoError(t, err)

	signed, err := signerA.Sign(Manifest{Name: "a.txt", Size: 10})
	require.NoError(t, err)

	pubBytesB, err := x509.MarshalPKIXPublicKey(signerB.PublicKey())
	require.NoError(t, err)
	signed.PublicKey = pubBytesB

	assert.Error(t, Verify(signed))
}
