package x509tools

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECParametersRoundTrip(t *testing.T) {
	for _, def := range DefinedCurves {
		der, err := ECParameters{NamedCurve: def.Oid}.Marshal()
		require.NoError(t, err)
		params, err := UnmarshalECParameters(der)
		require.NoError(t, err)
		assert.True(t, params.NamedCurve.Equal(def.Oid))
	}
	// implicit curve encodes as NULL
	der, err := ECParameters{}.Marshal()
	require.NoError(t, err)
	params, err := UnmarshalECParameters(der)
	require.NoError(t, err)
	assert.Nil(t, params.NamedCurve)
}

func TestECParametersSpecifiedCurve(t *testing.T) {
	// SpecifiedECDomain starts with a SEQUENCE tag
	der, err := asn1.Marshal(struct{ Version int }{1})
	require.NoError(t, err)
	_, err = UnmarshalECParameters(der)
	var unimpl UnimplementedEncodingError
	require.ErrorAs(t, err, &unimpl)
}

func TestECParametersTrailingBytes(t *testing.T) {
	der, err := ECParameters{NamedCurve: DefinedCurves[0].Oid}.Marshal()
	require.NoError(t, err)
	_, err = UnmarshalECParameters(append(der, 0x00))
	require.Error(t, err)
}

func TestECPrivateKeyRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := MarshalECPrivateKey(key)
	require.NoError(t, err)
	parsed, err := ParseECPrivateKey(der, nil)
	require.NoError(t, err)
	assert.Zero(t, key.D.Cmp(parsed.D))
	assert.Zero(t, key.X.Cmp(parsed.X))
	assert.Zero(t, key.Y.Cmp(parsed.Y))
}

func TestRSAPublicKeyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	der, err := MarshalRSAPublicKey(&key.PublicKey)
	require.NoError(t, err)
	parsed, err := ParseRSAPublicKey(der)
	require.NoError(t, err)
	assert.Zero(t, key.N.Cmp(parsed.N))
	assert.Equal(t, key.E, parsed.E)
}

func TestRSAPublicKeyNonMinimalInteger(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	// re-encode the modulus with redundant leading zeros
	padded := append([]byte{0, 0}, key.N.Bytes()...)
	der, err := asn1.Marshal(rsaPublicKey{
		Modulus:  asn1.RawValue{Tag: asn1.TagInteger, Bytes: padded},
		Exponent: asn1.RawValue{Tag: asn1.TagInteger, Bytes: []byte{1, 0, 1}},
	})
	require.NoError(t, err)
	_, err = ParseRSAPublicKey(der)
	var malformed MalformedIntegerError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "modulus", malformed.Field)
}

func TestRSAPublicKeyTrailingBytes(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	der, err := MarshalRSAPublicKey(&key.PublicKey)
	require.NoError(t, err)
	_, err = ParseRSAPublicKey(append(der, 0x30))
	require.Error(t, err)
}
