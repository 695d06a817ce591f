package machos

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsign/fruitsign/lib/certloader"
	"github.com/fruitsign/fruitsign/lib/csblob"
	"github.com/fruitsign/fruitsign/lib/sigerrors"
)

func testCert(t *testing.T) *certloader.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(54321),
		Subject:      pkix.Name{CommonName: "mach-o signing test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &certloader.Certificate{
		Leaf:         leaf,
		Certificates: []*x509.Certificate{leaf},
		PrivateKey:   key,
	}
}

// signFixture signs img and returns the patched binary
func signFixture(t *testing.T, img []byte, cert *certloader.Certificate, params *csblob.SignatureParams) []byte {
	t.Helper()
	dir := t.TempDir()
	inpath := filepath.Join(dir, "in")
	outpath := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(inpath, img, 0o600))

	patch, tssig, err := Sign(context.Background(), bytes.NewReader(img), cert, params)
	require.NoError(t, err)
	require.NotNil(t, tssig)

	infile, err := os.Open(inpath)
	require.NoError(t, err)
	defer infile.Close()
	require.NoError(t, patch.Apply(infile, outpath))

	signed, err := os.ReadFile(outpath)
	require.NoError(t, err)
	return signed
}

func TestMachoSignAndVerify(t *testing.T) {
	cert := testCert(t)
	img := buildFixture(t, false, 0)
	infoPlist := []byte(`<?xml version="1.0"?><plist><dict><key>CFBundleIdentifier</key><string>com.example.tool</string></dict></plist>`)

	signed := signFixture(t, img, cert, &csblob.SignatureParams{
		HashFunc:  crypto.SHA256,
		InfoPlist: infoPlist,
		Flags:     csblob.FlagRuntime,
	})
	require.Greater(t, len(signed), len(img))

	verified, err := Verify(bytes.NewReader(signed), infoPlist, nil, false)
	require.NoError(t, err)
	assert.Equal(t, crypto.SHA256, verified.HashFunc)
	assert.Equal(t, cert.Leaf.Raw, verified.Signature.Certificate.Raw)
	// code pages end where the new signature begins
	assert.EqualValues(t, testFileSize, verified.Blob.CodeSize())
}

func TestMachoVerifyTampered(t *testing.T) {
	cert := testCert(t)
	img := buildFixture(t, false, 0)
	signed := signFixture(t, img, cert, &csblob.SignatureParams{
		HashFunc:        crypto.SHA256,
		SigningIdentity: "com.example.tampered",
	})

	signed[6000] ^= 0x40 // inside __DATA
	_, err := Verify(bytes.NewReader(signed), nil, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")

	// skipDigests bypasses the page check
	signed[6000] ^= 0x40
	_, err = Verify(bytes.NewReader(signed), nil, nil, true)
	require.NoError(t, err)
}

func TestMachoResign(t *testing.T) {
	cert := testCert(t)
	img := buildFixture(t, false, 0)
	entitlement := []byte("<plist>entitlements</plist>")
	signed := signFixture(t, img, cert, &csblob.SignatureParams{
		HashFunc:        crypto.SHA256,
		SigningIdentity: "com.example.resign",
		Entitlement:     entitlement,
	})

	// sign again, inheriting the entitlement from the old signature
	resigned := signFixture(t, signed, cert, &csblob.SignatureParams{
		HashFunc: crypto.SHA256,
	})
	verified, err := Verify(bytes.NewReader(resigned), nil, nil, false)
	require.NoError(t, err)
	require.Greater(t, len(verified.Blob.Entitlement), 8)
	assert.Equal(t, entitlement, verified.Blob.Entitlement[8:])
	assert.Equal(t, "com.example.resign", verified.Blob.Directories[0].SigningIdentity)
}

func TestMachoVerifyUnsigned(t *testing.T) {
	img := buildFixture(t, false, 0)
	_, err := Verify(bytes.NewReader(img), nil, nil, false)
	var notSigned sigerrors.NotSignedError
	assert.ErrorAs(t, err, &notSigned)
}
