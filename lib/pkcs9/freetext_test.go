package pkcs9

import (
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeTextRoundTrip(t *testing.T) {
	ft, err := NewFreeText("first message", "second message")
	require.NoError(t, err)
	der, err := ft.Marshal()
	require.NoError(t, err)
	parsed, err := UnmarshalFreeText(der)
	require.NoError(t, err)
	assert.Equal(t, []string{"first message", "second message"}, parsed.Strings())
}

func TestFreeTextEmpty(t *testing.T) {
	ft, err := NewFreeText()
	require.NoError(t, err)
	der, err := ft.Marshal()
	require.NoError(t, err)
	parsed, err := UnmarshalFreeText(der)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestFreeTextStopsAtForeignTag(t *testing.T) {
	msg, err := asn1.MarshalWithParams("only", "utf8")
	require.NoError(t, err)
	num, err := asn1.Marshal(42)
	require.NoError(t, err)
	seq, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      append(msg, num...),
	})
	require.NoError(t, err)
	parsed, err := UnmarshalFreeText(seq)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, parsed.Strings())
}

func TestFreeTextTrailingBytes(t *testing.T) {
	ft, err := NewFreeText("msg")
	require.NoError(t, err)
	der, err := ft.Marshal()
	require.NoError(t, err)
	_, err = UnmarshalFreeText(append(der, 0x00))
	require.Error(t, err)
}
