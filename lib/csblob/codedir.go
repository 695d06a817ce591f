package csblob

import (
	"bytes"
	"crypto"
	"encoding/binary"
	"errors"
	"fmt"
)

// Header versions, each adding the fields below the matching comment in
// CodeDirectoryHeader. A directory is only as long as its version requires,
// so parsing reads the prefix its version defines and leaves the rest zero.
const (
	cdVersionScatter     = 0x20100
	cdVersionTeamID      = 0x20200
	cdVersionCodeLimit64 = 0x20300
	cdVersionExecSeg     = 0x20400
)

// CodeDirectoryHeader is the fixed-size prefix of a CodeDirectory blob, in
// big-endian byte order. Indirect fields follow it: identifier and team
// strings, then special slot hashes, then code slot hashes.
type CodeDirectoryHeader struct {
	Magic   csMagic
	Length  uint32
	Version uint32
	Flags   SignatureFlags

	HashOffset       uint32
	IdentOffset      uint32
	SpecialSlotCount uint32
	CodeSlotCount    uint32
	CodeLimit        uint32

	HashSize     uint8
	HashType     HashType
	_            uint8
	PageSizeLog2 uint8
	_            uint32
	// cdVersionScatter
	ScatterOffset uint32
	// cdVersionTeamID
	TeamOffset uint32
	_          uint32
	// cdVersionCodeLimit64
	CodeLimit64 int64
	// cdVersionExecSeg
	ExecSegmentBase  int64
	ExecSegmentLimit int64
	ExecSegmentFlags int64
}

// headerLen returns how many bytes of CodeDirectoryHeader a directory of the
// given version actually stores.
func headerLen(version uint32) int {
	switch {
	case version >= cdVersionExecSeg:
		return 88
	case version >= cdVersionCodeLimit64:
		return 64
	case version >= cdVersionTeamID:
		return 52
	case version >= cdVersionScatter:
		return 48
	default:
		return 44
	}
}

type CodeDirectory struct {
	Header          CodeDirectoryHeader
	SigningIdentity string
	TeamIdentifier  string
	HashFunc        crypto.Hash

	CodeHashes          [][]byte
	ManifestHash        []byte
	RequirementsHash    []byte
	ResourcesHash       []byte
	EntitlementsHash    []byte
	EntitlementsDERHash []byte

	Raw    []byte
	CDHash []byte
	IType  uint32
}

type SignatureFlags uint32

// CSCommon.h
const (
	FlagHost              SignatureFlags = 0x000001
	FlagAdhoc             SignatureFlags = 0x000002
	FlagForceHard         SignatureFlags = 0x000100
	FlagForceKill         SignatureFlags = 0x000200
	FlagForceExpiration   SignatureFlags = 0x000400
	FlagRestrict          SignatureFlags = 0x000800
	FlagEnforcement       SignatureFlags = 0x001000
	FlagLibraryValidation SignatureFlags = 0x002000
	FlagRuntime           SignatureFlags = 0x010000
	FlagLinkerSigned      SignatureFlags = 0x020000
)

// don't propagate these to a new signature
const clearFlags = FlagAdhoc | FlagLinkerSigned

func parseCodeDirectory(blob []byte, itype uint32) (*CodeDirectory, error) {
	if len(blob) < 12 {
		return nil, errShort
	}
	version := binary.BigEndian.Uint32(blob[8:])
	stored := headerLen(version)
	if len(blob) < stored {
		return nil, MalformedBlobError{Reason: "code directory shorter than its header", Offset: stored}
	}
	// decode through a zero-padded buffer so that fields beyond what this
	// version stores come out zero
	padded := make([]byte, binary.Size(CodeDirectoryHeader{}))
	copy(padded, blob[:stored])
	var hdr CodeDirectoryHeader
	if err := binary.Read(bytes.NewReader(padded), binary.BigEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.ScatterOffset != 0 {
		return nil, errors.New("scattered code directories are not supported")
	}
	dir := &CodeDirectory{
		Header: hdr,
		Raw:    blob,
		IType:  itype,
	}
	var err error
	if hdr.IdentOffset != 0 {
		if dir.SigningIdentity, err = cstring(blob, int(hdr.IdentOffset)); err != nil {
			return nil, err
		}
	}
	if hdr.TeamOffset != 0 {
		if dir.TeamIdentifier, err = cstring(blob, int(hdr.TeamOffset)); err != nil {
			return nil, err
		}
	}
	if dir.HashFunc, err = hashFunc(hdr.HashType, hdr.HashSize); err != nil {
		return nil, err
	}
	// hash over the whole directory for the signature to use
	h := dir.HashFunc.New()
	h.Write(blob)
	dir.CDHash = h.Sum(nil)
	return dir, dir.readSlots()
}

// readSlots splits out the hash slot region. Code slots count up from
// HashOffset and special slots count down from it, indexed by the negative
// of their superblob slot type.
func (dir *CodeDirectory) readSlots() error {
	hdr := dir.Header
	base := int(hdr.HashOffset)
	size := int(hdr.HashSize)
	if base-int(hdr.SpecialSlotCount)*size < 0 || base+int(hdr.CodeSlotCount)*size > len(dir.Raw) {
		return MalformedBlobError{Reason: "hash slots exceed code directory", Offset: base}
	}
	zero := make([]byte, size)
	slot := func(i int) []byte {
		hash := dir.Raw[base+i*size : base+(i+1)*size]
		if bytes.Equal(hash, zero) {
			// an absent slot is stored as zeroes
			return nil
		}
		return hash
	}
	dir.CodeHashes = make([][]byte, hdr.CodeSlotCount)
	for i := range dir.CodeHashes {
		dir.CodeHashes[i] = slot(i)
	}
	specials := map[int]*[]byte{
		cdInfoSlot:           &dir.ManifestHash,
		cdRequirementsSlot:   &dir.RequirementsHash,
		cdResourceDirSlot:    &dir.ResourcesHash,
		cdEntitlementSlot:    &dir.EntitlementsHash,
		cdEntitlementDERSlot: &dir.EntitlementsDERHash,
	}
	for i := 1; i <= int(hdr.SpecialSlotCount); i++ {
		if dest, ok := specials[i]; ok {
			*dest = slot(-i)
		}
	}
	return nil
}

func cstring(blob []byte, i int) (string, error) {
	if i >= len(blob) {
		return "", errShort
	}
	blob = blob[i:]
	j := bytes.IndexByte(blob, 0)
	if j < 0 {
		return "", errShort
	}
	return string(blob[:j]), nil
}

type codeDirParams struct {
	*SignatureParams
	Specials      [][]byte
	CodeSlots     []byte
	CodeSlotCount uint32
	HashFunc      crypto.Hash
	CodeLimit     int64
}

type codeDirResult struct {
	Raw      []byte
	Digest   []byte
	HashFunc crypto.Hash
}

// newCodeDirectory marshals a directory over the hashed code slots, using the
// lowest header version that can carry the populated fields.
func newCodeDirectory(params codeDirParams) (codeDirResult, error) {
	ht, err := hashType(params.HashFunc)
	if err != nil {
		return codeDirResult{}, err
	}
	hdr := CodeDirectoryHeader{
		Magic:            csCodeDirectory,
		Version:          cdVersionCodeLimit64,
		Flags:            params.Flags,
		SpecialSlotCount: uint32(len(params.Specials)),
		CodeSlotCount:    params.CodeSlotCount,
		HashSize:         uint8(params.HashFunc.Size()),
		HashType:         ht,
		PageSizeLog2:     defaultPageSizeLog2,
	}
	if params.ExecSegmentBase != 0 || params.ExecSegmentLimit != 0 || params.ExecSegmentFlags != 0 {
		hdr.Version = cdVersionExecSeg
		hdr.ExecSegmentBase = params.ExecSegmentBase
		hdr.ExecSegmentLimit = params.ExecSegmentLimit
		hdr.ExecSegmentFlags = params.ExecSegmentFlags
	}
	if params.CodeLimit > (1<<31)-2 {
		hdr.CodeLimit64 = params.CodeLimit
	} else {
		hdr.CodeLimit = uint32(params.CodeLimit)
	}
	// digest the special slot contents, leaving absent ones zeroed
	h := params.HashFunc.New()
	specialSlots := make([]byte, 0, h.Size()*len(params.Specials))
	for _, special := range params.Specials {
		if special == nil {
			specialSlots = specialSlots[:len(specialSlots)+h.Size()]
			continue
		}
		h.Reset()
		h.Write(special)
		specialSlots = h.Sum(specialSlots)
	}
	// indirect data follows the header: identifier, optional team, then the
	// hash slots with the specials placed before HashOffset
	offset := binary.Size(hdr)
	hdr.IdentOffset = uint32(offset)
	offset += len(params.SigningIdentity) + 1
	if params.TeamIdentifier != "" {
		hdr.TeamOffset = uint32(offset)
		offset += len(params.TeamIdentifier) + 1
	}
	hdr.HashOffset = uint32(offset) + hdr.SpecialSlotCount*uint32(hdr.HashSize)
	offset += len(specialSlots) + len(params.CodeSlots)
	hdr.Length = uint32(offset)
	b := bytes.NewBuffer(make([]byte, 0, offset))
	if err := binary.Write(b, binary.BigEndian, hdr); err != nil {
		return codeDirResult{}, err
	}
	b.WriteString(params.SigningIdentity)
	b.WriteByte(0)
	if params.TeamIdentifier != "" {
		b.WriteString(params.TeamIdentifier)
		b.WriteByte(0)
	}
	b.Write(specialSlots)
	b.Write(params.CodeSlots)
	blob := b.Bytes()
	if len(blob) != offset {
		return codeDirResult{}, fmt.Errorf("code directory layout error: computed %d bytes, wrote %d", offset, len(blob))
	}
	h.Reset()
	h.Write(blob)
	return codeDirResult{
		Raw:      blob,
		Digest:   h.Sum(nil),
		HashFunc: params.HashFunc,
	}, nil
}
