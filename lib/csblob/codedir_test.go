package csblob

import (
	"bytes"
	"crypto"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestDir(t *testing.T, params codeDirParams) *CodeDirectory {
	t.Helper()
	result, err := newCodeDirectory(params)
	require.NoError(t, err)
	dir, err := parseCodeDirectory(result.Raw, cdCodeDirectorySlot)
	require.NoError(t, err)
	assert.Equal(t, result.Digest, dir.CDHash)
	return dir
}

func TestCodeDirectoryRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0xcc}, 4096*3+17)
	codeSlots, slotCount, codeLimit, err := hashPages([]crypto.Hash{crypto.SHA256}, bytes.NewReader(data))
	require.NoError(t, err)
	require.EqualValues(t, 4, slotCount)

	infoPlist := []byte("<plist>info</plist>")
	resources := []byte("<plist>resources</plist>")
	dir := buildTestDir(t, codeDirParams{
		SignatureParams: &SignatureParams{
			SigningIdentity: "com.example.widget",
			TeamIdentifier:  "TEAMID1234",
			Flags:           FlagRuntime,
		},
		Specials:      [][]byte{nil, nil, resources, nil, infoPlist},
		CodeSlots:     codeSlots[0],
		CodeSlotCount: slotCount,
		CodeLimit:     codeLimit,
		HashFunc:      crypto.SHA256,
	})

	hdr := dir.Header
	assert.Equal(t, csCodeDirectory, hdr.Magic)
	assert.EqualValues(t, 0x20300, hdr.Version)
	assert.Equal(t, FlagRuntime, hdr.Flags)
	assert.Equal(t, HashSHA256, hdr.HashType)
	assert.EqualValues(t, 32, hdr.HashSize)
	assert.EqualValues(t, defaultPageSizeLog2, hdr.PageSizeLog2)
	assert.EqualValues(t, codeLimit, hdr.CodeLimit)
	assert.EqualValues(t, 5, hdr.SpecialSlotCount)
	assert.EqualValues(t, 4, hdr.CodeSlotCount)
	assert.Equal(t, "com.example.widget", dir.SigningIdentity)
	assert.Equal(t, "TEAMID1234", dir.TeamIdentifier)

	expected, err := PagedDigests(data, HashSHA256, 4096)
	require.NoError(t, err)
	assert.Equal(t, expected, dir.CodeHashes)

	infoDigest, err := HashSHA256.Digest(infoPlist)
	require.NoError(t, err)
	assert.Equal(t, infoDigest, dir.ManifestHash)
	resDigest, err := HashSHA256.Digest(resources)
	require.NoError(t, err)
	assert.Equal(t, resDigest, dir.ResourcesHash)
	// empty slots parse as nil
	assert.Nil(t, dir.RequirementsHash)
	assert.Nil(t, dir.EntitlementsHash)
}

func TestCodeDirectoryExecSegment(t *testing.T) {
	dir := buildTestDir(t, codeDirParams{
		SignatureParams: &SignatureParams{
			SigningIdentity:  "com.example.widget",
			ExecSegmentLimit: 16384,
			ExecSegmentFlags: 1,
		},
		HashFunc: crypto.SHA256,
	})
	assert.EqualValues(t, 0x20400, dir.Header.Version)
	assert.EqualValues(t, 16384, dir.Header.ExecSegmentLimit)
	assert.EqualValues(t, 1, dir.Header.ExecSegmentFlags)
}

func TestCodeDirectoryLargeCodeLimit(t *testing.T) {
	dir := buildTestDir(t, codeDirParams{
		SignatureParams: &SignatureParams{SigningIdentity: "com.example.widget"},
		HashFunc:        crypto.SHA256,
		CodeLimit:       1 << 33,
	})
	assert.EqualValues(t, 0, dir.Header.CodeLimit)
	assert.EqualValues(t, 1<<33, dir.Header.CodeLimit64)
}

func TestCodeDirectoryNoTeam(t *testing.T) {
	dir := buildTestDir(t, codeDirParams{
		SignatureParams: &SignatureParams{SigningIdentity: "com.example.widget"},
		HashFunc:        crypto.SHA256,
	})
	assert.Empty(t, dir.TeamIdentifier)
	assert.EqualValues(t, 0, dir.Header.TeamOffset)
}

func TestCodeDirectoryLegacyVersion(t *testing.T) {
	// a version 0x20001 directory ends after the page size field, well short
	// of the modern header, and must still parse with the newer fields zeroed
	ident := "a.out"
	codeHash, err := HashSHA1.Digest([]byte("page contents"))
	require.NoError(t, err)
	hashOffset := 44 + len(ident) + 1
	blob := make([]byte, hashOffset+len(codeHash))
	require.Less(t, len(blob), binary.Size(CodeDirectoryHeader{}))
	binary.BigEndian.PutUint32(blob, uint32(csCodeDirectory))
	binary.BigEndian.PutUint32(blob[4:], uint32(len(blob)))
	binary.BigEndian.PutUint32(blob[8:], 0x20001)
	binary.BigEndian.PutUint32(blob[16:], uint32(hashOffset))
	binary.BigEndian.PutUint32(blob[20:], 44)   // identOffset
	binary.BigEndian.PutUint32(blob[28:], 1)    // one code slot
	binary.BigEndian.PutUint32(blob[32:], 4096) // codeLimit
	blob[36] = 20                               // hash size
	blob[37] = uint8(HashSHA1)
	blob[39] = defaultPageSizeLog2
	copy(blob[44:], ident)
	copy(blob[hashOffset:], codeHash)

	dir, err := parseCodeDirectory(blob, cdCodeDirectorySlot)
	require.NoError(t, err)
	assert.EqualValues(t, 0x20001, dir.Header.Version)
	assert.Equal(t, ident, dir.SigningIdentity)
	assert.Empty(t, dir.TeamIdentifier)
	assert.EqualValues(t, 4096, dir.Header.CodeLimit)
	assert.Zero(t, dir.Header.CodeLimit64)
	assert.Zero(t, dir.Header.ExecSegmentLimit)
	require.Len(t, dir.CodeHashes, 1)
	assert.Equal(t, codeHash, dir.CodeHashes[0])
}

func TestCodeDirectoryTruncatedSlots(t *testing.T) {
	result, err := newCodeDirectory(codeDirParams{
		SignatureParams: &SignatureParams{SigningIdentity: "com.example.widget"},
		HashFunc:        crypto.SHA256,
		CodeSlots:       bytes.Repeat([]byte{1}, 64),
		CodeSlotCount:   2,
	})
	require.NoError(t, err)
	// claim more slots than are present
	raw := make([]byte, len(result.Raw))
	copy(raw, result.Raw)
	raw[31] = 99 // CodeSlotCount low byte
	_, err = parseCodeDirectory(raw, cdCodeDirectorySlot)
	var blobErr MalformedBlobError
	require.ErrorAs(t, err, &blobErr)
}
