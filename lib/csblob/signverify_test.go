package csblob

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsign/fruitsign/lib/certloader"
)

func testCert(t *testing.T) *certloader.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(12345),
		Subject:      pkix.Name{CommonName: "signing test"},
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

func TestSignAndVerify(t *testing.T) {
	cert := testCert(t)
	code := bytes.Repeat([]byte{0x5a}, 4096*2+500)
	infoPlist := []byte(`<?xml version="1.0"?><plist><dict><key>CFBundleIdentifier</key><string>com.example.widget</string></dict></plist>`)
	resources := []byte("<plist>resources</plist>")
	entitlement := []byte("<plist>entitlements</plist>")

	blob, tssig, err := Sign(context.Background(), cert, &SignatureParams{
		Pages:       bytes.NewReader(code),
		HashFunc:    crypto.SHA256,
		InfoPlist:   infoPlist,
		Resources:   resources,
		Entitlement: entitlement,
		Flags:       FlagRuntime,
	})
	require.NoError(t, err)
	require.NotNil(t, tssig)
	assert.Nil(t, tssig.CounterSignature)

	verified, err := Verify(blob, VerifyParams{InfoPlist: infoPlist, Resources: resources})
	require.NoError(t, err)
	assert.Equal(t, crypto.SHA256, verified.HashFunc)
	assert.Equal(t, cert.Leaf.Raw, verified.Signature.Certificate.Raw)

	dir := verified.Blob.bestDir()
	require.NotNil(t, dir)
	assert.Equal(t, "com.example.widget", dir.SigningIdentity)
	assert.Equal(t, FlagRuntime, dir.Header.Flags)
	assert.EqualValues(t, len(code), verified.Blob.CodeSize())

	require.NoError(t, verified.Blob.VerifyPages(bytes.NewReader(code)))
}

func TestVerifyTamperedPage(t *testing.T) {
	cert := testCert(t)
	code := bytes.Repeat([]byte{0x5a}, 4096+100)
	blob, _, err := Sign(context.Background(), cert, &SignatureParams{
		Pages:           bytes.NewReader(code),
		HashFunc:        crypto.SHA256,
		SigningIdentity: "com.example.widget",
	})
	require.NoError(t, err)

	verified, err := Verify(blob, VerifyParams{})
	require.NoError(t, err)

	tampered := make([]byte, len(code))
	copy(tampered, code)
	tampered[4100] ^= 0xff
	err = verified.Blob.VerifyPages(bytes.NewReader(tampered))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
}

func TestVerifyTamperedEntitlement(t *testing.T) {
	cert := testCert(t)
	code := bytes.Repeat([]byte{0x5a}, 1000)
	blob, _, err := Sign(context.Background(), cert, &SignatureParams{
		Pages:           bytes.NewReader(code),
		HashFunc:        crypto.SHA256,
		SigningIdentity: "com.example.widget",
		Entitlement:     []byte("<plist>entitlements</plist>"),
	})
	require.NoError(t, err)

	// corrupt the entitlement payload without touching the code directory
	i := bytes.Index(blob, []byte("entitlements"))
	require.GreaterOrEqual(t, i, 0)
	blob[i] ^= 0xff
	_, err = Verify(blob, VerifyParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entitlements")
}

func TestVerifyTamperedDirectory(t *testing.T) {
	cert := testCert(t)
	code := bytes.Repeat([]byte{0x5a}, 1000)
	blob, _, err := Sign(context.Background(), cert, &SignatureParams{
		Pages:           bytes.NewReader(code),
		HashFunc:        crypto.SHA256,
		SigningIdentity: "com.example.tampered",
	})
	require.NoError(t, err)

	i := bytes.Index(blob, []byte("com.example.tampered"))
	require.GreaterOrEqual(t, i, 0)
	blob[i] = 'x'
	_, err = Verify(blob, VerifyParams{})
	require.Error(t, err)
}

func TestResignInheritsParams(t *testing.T) {
	cert := testCert(t)
	code := bytes.Repeat([]byte{0x5a}, 3000)
	entitlement := []byte("<plist>entitlements</plist>")
	first, _, err := Sign(context.Background(), cert, &SignatureParams{
		Pages:           bytes.NewReader(code),
		HashFunc:        crypto.SHA256,
		SigningIdentity: "com.example.widget",
		Entitlement:     entitlement,
		Flags:           FlagRuntime | FlagAdhoc,
	})
	require.NoError(t, err)

	second, _, err := Sign(context.Background(), cert, &SignatureParams{
		Pages:           bytes.NewReader(code),
		OldSignature:    bytes.NewReader(first),
		HashFunc:        crypto.SHA256,
		SigningIdentity: "com.example.widget",
	})
	require.NoError(t, err)

	verified, err := Verify(second, VerifyParams{})
	require.NoError(t, err)
	sig := verified.Blob
	require.NotNil(t, sig.Entitlement)
	assert.Equal(t, entitlement, sig.Entitlement[8:])
	dir := sig.bestDir()
	require.NotNil(t, dir)
	// adhoc is dropped on re-signing, runtime is kept
	assert.Equal(t, FlagRuntime, dir.Header.Flags)
}

func TestSignRequirementSet(t *testing.T) {
	cert := testCert(t)
	code := bytes.Repeat([]byte{0x5a}, 1000)
	reqProgram := []byte{0, 0, 0, 1, 0, 0, 0, 2}
	single := newSuperItem(csRequirement, reqProgram)
	blob, _, err := Sign(context.Background(), cert, &SignatureParams{
		Pages:           bytes.NewReader(code),
		HashFunc:        crypto.SHA256,
		SigningIdentity: "com.example.widget",
		Requirements:    single.data,
	})
	require.NoError(t, err)

	verified, err := Verify(blob, VerifyParams{})
	require.NoError(t, err)
	reqs, err := ParseRequirements(verified.Blob.RawRequirements)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, reqProgram, reqs[DesignatedRequirement])
}

func TestSpecialSlotTrimming(t *testing.T) {
	cert := testCert(t)
	code := bytes.Repeat([]byte{0x5a}, 1000)
	infoPlist := []byte(`<?xml version="1.0"?><plist><dict><key>CFBundleIdentifier</key><string>com.example.widget</string></dict></plist>`)
	resources := []byte("<plist>resources</plist>")

	// without entitlements nothing above the resources slot is populated, so
	// the directory stores slots -3 through -1 only
	blob, _, err := Sign(context.Background(), cert, &SignatureParams{
		Pages:     bytes.NewReader(code),
		HashFunc:  crypto.SHA256,
		InfoPlist: infoPlist,
		Resources: resources,
	})
	require.NoError(t, err)
	verified, err := Verify(blob, VerifyParams{InfoPlist: infoPlist, Resources: resources})
	require.NoError(t, err)
	dir := verified.Blob.bestDir()
	require.NotNil(t, dir)
	assert.EqualValues(t, 3, dir.Header.SpecialSlotCount)

	// adding an entitlement extends the stored range through slot -5
	blob, _, err = Sign(context.Background(), cert, &SignatureParams{
		Pages:       bytes.NewReader(code),
		HashFunc:    crypto.SHA256,
		InfoPlist:   infoPlist,
		Resources:   resources,
		Entitlement: []byte("<plist>entitlements</plist>"),
	})
	require.NoError(t, err)
	verified, err = Verify(blob, VerifyParams{InfoPlist: infoPlist, Resources: resources})
	require.NoError(t, err)
	dir = verified.Blob.bestDir()
	require.NotNil(t, dir)
	assert.EqualValues(t, 5, dir.Header.SpecialSlotCount)
}

func TestVerifyPagesBadPageSize(t *testing.T) {
	result, err := newCodeDirectory(codeDirParams{
		SignatureParams: &SignatureParams{SigningIdentity: "com.example.widget"},
		HashFunc:        crypto.SHA256,
	})
	require.NoError(t, err)
	raw := make([]byte, len(result.Raw))
	copy(raw, result.Raw)
	raw[39] = 0 // page size field
	dir, err := parseCodeDirectory(raw, cdCodeDirectorySlot)
	require.NoError(t, err)
	sig := &SigBlob{Directories: []*CodeDirectory{dir}}
	err = sig.VerifyPages(bytes.NewReader(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported page size")
}

func TestVerifyGarbage(t *testing.T) {
	_, err := Verify([]byte("not a signature blob"), VerifyParams{})
	require.Error(t, err)
}
