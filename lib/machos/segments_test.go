package machos

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsign/fruitsign/lib/csblob"
)

const (
	testTextSize     = 5000
	testDataSize     = 3000
	testLinkEditSize = 2000
	testFileSize     = testTextSize + testDataSize + testLinkEditSize
	testSigOffset    = testTextSize + testDataSize + 1500
)

type fixtureSegment struct {
	name           string
	offset, length uint64
}

// buildFixture assembles a minimal 64-bit little-endian Mach-O image with
// __TEXT, __DATA and __LINKEDIT segments. When withSig is set, an
// LC_CODE_SIGNATURE load command covers the tail of __LINKEDIT and the
// signature region is filled with sigFill.
func buildFixture(t *testing.T, withSig bool, sigFill byte) []byte {
	t.Helper()
	segments := []fixtureSegment{
		{"__PAGEZERO", 0, 0},
		{"__TEXT", 0, testTextSize},
		{"__DATA", testTextSize, testDataSize},
		{"__LINKEDIT", testTextSize + testDataSize, testLinkEditSize},
	}
	ncmd := uint32(len(segments))
	cmdsz := uint32(72 * len(segments))
	if withSig {
		ncmd++
		cmdsz += 16
	}
	buf := make([]byte, testFileSize)
	// default segment fill, distinct per region
	for i := testTextSize; i < testTextSize+testDataSize; i++ {
		buf[i] = 0x22
	}
	for i := testTextSize + testDataSize; i < testFileSize; i++ {
		buf[i] = 0x33
	}
	if withSig {
		for i := testSigOffset; i < testFileSize; i++ {
			buf[i] = sigFill
		}
	}
	bo := binary.LittleEndian
	w := bytes.NewBuffer(buf[:0])
	// mach_header_64
	for _, v := range []uint32{
		0xfeedfacf, // magic
		0x0100000c, // cputype arm64
		0,          // cpusubtype
		2,          // filetype MH_EXECUTE
		ncmd,
		cmdsz,
		0, // flags
		0, // reserved
	} {
		require.NoError(t, binary.Write(w, bo, v))
	}
	for _, seg := range segments {
		var name [16]byte
		copy(name[:], seg.name)
		require.NoError(t, binary.Write(w, bo, uint32(0x19))) // LC_SEGMENT_64
		require.NoError(t, binary.Write(w, bo, uint32(72)))
		require.NoError(t, binary.Write(w, bo, name))
		require.NoError(t, binary.Write(w, bo, seg.offset))            // vmaddr
		require.NoError(t, binary.Write(w, bo, seg.length))            // vmsize
		require.NoError(t, binary.Write(w, bo, seg.offset))            // fileoff
		require.NoError(t, binary.Write(w, bo, seg.length))            // filesize
		require.NoError(t, binary.Write(w, bo, [4]uint32{7, 5, 0, 0})) // prot, nsect, flags
	}
	if withSig {
		for _, v := range []uint32{
			uint32(loadCmdCodeSignature),
			16,
			testSigOffset,
			testFileSize - testSigOffset,
		} {
			require.NoError(t, binary.Write(w, bo, v))
		}
	}
	return buf
}

func TestCodeSegmentsFourSlots(t *testing.T) {
	img := buildFixture(t, true, 0xaa)
	segs, err := CodeSegments(img)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, "__TEXT", segs[0].Name)
	assert.Len(t, segs[0].Data, testTextSize)
	assert.Equal(t, "__DATA", segs[1].Name)
	assert.Len(t, segs[1].Data, testDataSize)
	assert.Equal(t, "__LINKEDIT", segs[2].Name)
	// truncated at the signature boundary
	assert.Len(t, segs[2].Data, 1500)

	digests, err := SegmentDigests(segs, csblob.HashSHA256, 4096)
	require.NoError(t, err)
	require.Len(t, digests, 4)
	for i, expected := range [][]byte{
		img[0:4096],
		img[4096:testTextSize],
		img[testTextSize : testTextSize+testDataSize],
		img[testTextSize+testDataSize : testSigOffset],
	} {
		d, err := csblob.HashSHA256.Digest(expected)
		require.NoError(t, err)
		assert.Equal(t, d, digests[i], "slot %d", i)
	}
}

func TestCodeHashesIgnoreSignatureRegion(t *testing.T) {
	imgA := buildFixture(t, true, 0xaa)
	imgB := buildFixture(t, true, 0xbb)
	require.NotEqual(t, imgA, imgB)
	hashesA, err := ComputeCodeHashes(imgA, csblob.HashSHA256, 4096)
	require.NoError(t, err)
	hashesB, err := ComputeCodeHashes(imgB, csblob.HashSHA256, 4096)
	require.NoError(t, err)
	assert.Equal(t, hashesA, hashesB)
}

func TestCodeHashesUnsignedFullLinkEdit(t *testing.T) {
	img := buildFixture(t, false, 0)
	segs, err := CodeSegments(img)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Len(t, segs[2].Data, testLinkEditSize)
}

func TestCodeHashesTamperSensitive(t *testing.T) {
	img := buildFixture(t, true, 0xaa)
	hashes, err := ComputeCodeHashes(img, csblob.HashSHA256, 4096)
	require.NoError(t, err)
	img[4200] ^= 0x01 // second page of __TEXT
	tampered, err := ComputeCodeHashes(img, csblob.HashSHA256, 4096)
	require.NoError(t, err)
	assert.Equal(t, hashes[0], tampered[0])
	assert.NotEqual(t, hashes[1], tampered[1])
	assert.Equal(t, hashes[2], tampered[2])
}

func TestMissingLinkEdit(t *testing.T) {
	img := buildFixture(t, false, 0)
	// clobber the __LINKEDIT segment name in its load command
	nameOff := 32 + 3*72 + 8
	copy(img[nameOff:nameOff+16], make([]byte, 16))
	copy(img[nameOff:], "__JUNK")

	_, err := CodeSegments(img)
	assert.ErrorAs(t, err, &MissingLinkeditError{})
	_, err = scanFile(bytes.NewReader(img))
	assert.ErrorAs(t, err, &MissingLinkeditError{})
}

func TestScanFileMarkers(t *testing.T) {
	img := buildFixture(t, true, 0xaa)
	markers, err := scanFile(bytes.NewReader(img))
	require.NoError(t, err)
	assert.EqualValues(t, testSigOffset, markers.sigStart)
	assert.EqualValues(t, testFileSize-testSigOffset, markers.sigLen)
	assert.EqualValues(t, testSigOffset, markers.codeSize)

	unsigned := buildFixture(t, false, 0)
	markers, err = scanFile(bytes.NewReader(unsigned))
	require.NoError(t, err)
	assert.EqualValues(t, 0, markers.sigLen)
	assert.EqualValues(t, testFileSize, markers.codeSize)
}
