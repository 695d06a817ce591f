package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSign(t *testing.T, key crypto.Signer) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(12345),
		Subject:      pkix.Name{CommonName: "signer test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func buildSigned(t *testing.T, key crypto.Signer, cert *x509.Certificate, content []byte) *ContentInfoSignedData {
	t.Helper()
	builder := NewBuilder(key, []*x509.Certificate{cert}, crypto.SHA256)
	require.NoError(t, builder.SetContentData(content))
	require.NoError(t, builder.AddAuthenticatedAttribute(OidAttributeSigningTime, time.Now().UTC()))
	psd, err := builder.Sign()
	require.NoError(t, err)
	return psd
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSign(t, key)
	content := []byte("the content to be signed")
	psd := buildSigned(t, key, cert, content)

	blob, err := psd.Marshal()
	require.NoError(t, err)
	parsed, err := Unmarshal(blob)
	require.NoError(t, err)
	sig, err := parsed.Content.Verify(nil, false)
	require.NoError(t, err)
	assert.Equal(t, cert.SerialNumber, sig.Certificate.SerialNumber)
}

func TestSignVerifyECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert := selfSign(t, key)
	psd := buildSigned(t, key, cert, []byte("ecdsa content"))

	blob, err := psd.Marshal()
	require.NoError(t, err)
	parsed, err := Unmarshal(blob)
	require.NoError(t, err)
	_, err = parsed.Content.Verify(nil, false)
	require.NoError(t, err)
}

func TestVerifyDetached(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSign(t, key)
	content := []byte("detached content")
	psd := buildSigned(t, key, cert, content)

	detached, err := psd.Detach()
	require.NoError(t, err)
	assert.Equal(t, content, detached)
	blob, err := psd.Marshal()
	require.NoError(t, err)
	parsed, err := Unmarshal(blob)
	require.NoError(t, err)

	_, err = parsed.Content.Verify(content, false)
	require.NoError(t, err)
	// wrong external content fails with a digest mismatch, not a crash
	_, err = parsed.Content.Verify([]byte("not the content"), false)
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestVerifyTamperedAttribute(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSign(t, key)
	psd := buildSigned(t, key, cert, []byte("attribute tamper"))

	// rewrite the signing-time attribute without resigning; the signature
	// covers the whole attribute set so verification must fail
	si := &psd.Content.SignerInfos[0]
	for i, attr := range si.AuthenticatedAttributes {
		if attr.Type.Equal(OidAttributeSigningTime) {
			var fresh AttributeList
			require.NoError(t, fresh.Add(OidAttributeSigningTime, time.Now().UTC().AddDate(1, 0, 0)))
			si.AuthenticatedAttributes[i] = fresh[0]
		}
	}
	blob, err := psd.Marshal()
	require.NoError(t, err)
	parsed, err := Unmarshal(blob)
	require.NoError(t, err)
	_, err = parsed.Content.Verify(nil, false)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDigestMismatch)
}

func TestUnmarshalTrailingBytes(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSign(t, key)
	psd := buildSigned(t, key, cert, []byte("x"))
	blob, err := psd.Marshal()
	require.NoError(t, err)
	_, err = Unmarshal(append(blob, 0x00))
	require.Error(t, err)
}
