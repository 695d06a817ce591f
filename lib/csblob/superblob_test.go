package csblob

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperBlobRoundTrip(t *testing.T) {
	items := []superItem{
		newSuperItem(csRequirements, []byte("reqs")),
		newSuperItem(csEntitlement, []byte("<plist/>")),
	}
	blob := marshalSuperBlob(csEmbeddedSignature, items)
	assert.EqualValues(t, len(blob), binary.BigEndian.Uint32(blob[4:]))

	magic, parsed, err := parseSuper(blob)
	require.NoError(t, err)
	assert.Equal(t, csEmbeddedSignature, magic)
	require.Len(t, parsed, 2)
	assert.Equal(t, csRequirements, parsed[0].magic)
	assert.EqualValues(t, cdRequirementsSlot, parsed[0].itype)
	assert.Equal(t, items[0].data, parsed[0].data)
	assert.Equal(t, csEntitlement, parsed[1].magic)
	assert.EqualValues(t, cdEntitlementSlot, parsed[1].itype)
	assert.Equal(t, items[1].data, parsed[1].data)
}

func TestParseDetachedMagic(t *testing.T) {
	// detached signature files use their own magic but the same layout
	blob := marshalSuperBlob(csDetachedSignature, []superItem{
		newSuperItem(csEntitlement, []byte("<plist/>")),
	})
	magic, items, err := parseSuper(blob)
	require.NoError(t, err)
	assert.Equal(t, csDetachedSignature, magic)
	require.Len(t, items, 1)

	sig, err := Parse(blob)
	require.NoError(t, err)
	require.NotNil(t, sig.Entitlement)
	assert.Equal(t, []byte("<plist/>"), sig.Entitlement[8:])
}

func TestSuperBlobBadMagic(t *testing.T) {
	blob := marshalSuperBlob(csEmbeddedSignature, nil)
	binary.BigEndian.PutUint32(blob, 0xdeadbeef)
	_, _, err := parseSuper(blob)
	var magicErr BadMagicError
	require.ErrorAs(t, err, &magicErr)
	assert.EqualValues(t, 0xdeadbeef, magicErr.Magic)
}

func TestSuperBlobTruncated(t *testing.T) {
	blob := marshalSuperBlob(csEmbeddedSignature, []superItem{
		newSuperItem(csEntitlement, []byte("payload")),
	})
	for i := 0; i < len(blob)-1; i++ {
		_, _, err := parseSuper(blob[:i])
		assert.Error(t, err, "length %d", i)
	}
}

func TestSuperBlobBadIndex(t *testing.T) {
	blob := marshalSuperBlob(csEmbeddedSignature, []superItem{
		newSuperItem(csEntitlement, []byte("payload")),
	})
	// point the first index past the end of the blob
	binary.BigEndian.PutUint32(blob[16:], uint32(len(blob)))
	_, _, err := parseSuper(blob)
	var blobErr MalformedBlobError
	require.ErrorAs(t, err, &blobErr)
}

func TestParseSignatureUnknownSlot(t *testing.T) {
	item := newSuperItem(csEntitlement, []byte("mystery"))
	item.itype = 0x7777
	blob := marshalSuperBlob(csEmbeddedSignature, []superItem{item})
	sig, err := parseSignature(blob)
	require.NoError(t, err)
	require.Len(t, sig.Unknowns, 1)
	assert.EqualValues(t, 0x7777, sig.Unknowns[0].IType)
	assert.Equal(t, item.data, sig.Unknowns[0].Data)
}
