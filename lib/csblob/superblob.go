package csblob

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

type csMagic uint32

const (
	csEmbeddedSignature csMagic = 0xfade0cc0
	csDetachedSignature csMagic = 0xfade0cc1

	csRequirement    csMagic = 0xfade0c00
	csRequirements   csMagic = 0xfade0c01
	csCodeDirectory  csMagic = 0xfade0c02
	csEntitlement    csMagic = 0xfade7171
	csEntitlementDER csMagic = 0xfade7172
	csBlobWrapper    csMagic = 0xfade0b01
)

// codedirectory.h
var csItypes = map[csMagic]uint32{
	csRequirements:   cdRequirementsSlot,
	csEntitlement:    cdEntitlementSlot,
	csEntitlementDER: cdEntitlementDERSlot,
	csBlobWrapper:    cdSignatureSlot,
}

// codedirectory.h
const (
	cdInfoSlot           = 1
	cdRequirementsSlot   = 2
	cdResourceDirSlot    = 3
	cdTopDirectorySlot   = 4
	cdEntitlementSlot    = 5
	cdRepSpecificSlot    = 6
	cdEntitlementDERSlot = 7

	cdCodeDirectorySlot           = 0
	cdAlternateCodeDirectorySlots = 0x1000
	cdSignatureSlot               = 0x10000
	cdIdentificationSlot          = 0x10001
	cdTicketSlot                  = 0x10002
)

// BadMagicError indicates a blob whose header magic matches no known type.
type BadMagicError struct {
	Magic uint32
}

func (e BadMagicError) Error() string {
	return fmt.Sprintf("unknown magic %08x in signature blob", e.Magic)
}

// MalformedBlobError indicates structural damage: truncation, an index
// offset outside the buffer, or a length field that disagrees with the data.
type MalformedBlobError struct {
	Reason string
	Offset int
}

func (e MalformedBlobError) Error() string {
	return fmt.Sprintf("malformed signature blob at offset %d: %s", e.Offset, e.Reason)
}

var errShort = errors.New("short read in signature blob")

type superItem struct {
	magic csMagic
	itype uint32
	data  []byte
}

func parseSuper(blob []byte) (magic csMagic, items []superItem, err error) {
	if len(blob) < 12 {
		return 0, nil, errShort
	}
	origLen := len(blob)
	magic = csMagic(binary.BigEndian.Uint32(blob))
	if magic != csEmbeddedSignature && magic != csDetachedSignature {
		return 0, nil, BadMagicError{Magic: uint32(magic)}
	}
	length := binary.BigEndian.Uint32(blob[4:])
	count := int(binary.BigEndian.Uint32(blob[8:]))
	if length < 12 || length > uint32(len(blob)) {
		return 0, nil, MalformedBlobError{Reason: "length field exceeds buffer", Offset: 4}
	}
	blob = blob[12:]
	// read indexes
	if len(blob) < 8*count {
		return 0, nil, errShort
	}
	indexes, blob := blob[:8*count], blob[8*count:]
	dataOffset := origLen - len(blob)
	var lastEnd int
	for i := 0; i < count; i++ {
		itype := binary.BigEndian.Uint32(indexes[8*i:])
		offset := int(binary.BigEndian.Uint32(indexes[4+8*i:]))
		offset -= dataOffset
		if offset < 0 || offset > len(blob)-8 {
			return 0, nil, MalformedBlobError{Reason: "blob index points outside buffer", Offset: dataOffset + 8*i}
		}
		length := int(binary.BigEndian.Uint32(blob[offset+4:]))
		if length < 8 || offset+length > len(blob) {
			return 0, nil, MalformedBlobError{Reason: "blob overruns buffer", Offset: dataOffset + offset}
		}
		if offset < lastEnd {
			return 0, nil, MalformedBlobError{Reason: "blobs overlap", Offset: dataOffset + offset}
		}
		lastEnd = offset + length
		items = append(items, superItem{
			magic: csMagic(binary.BigEndian.Uint32(blob[offset:])),
			itype: itype,
			data:  blob[offset : offset+length],
		})
	}
	return magic, items, nil
}

// newSuperItem wraps a payload with a blob header.
func newSuperItem(magic csMagic, payload []byte) superItem {
	packed := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(packed, uint32(magic))
	binary.BigEndian.PutUint32(packed[4:], uint32(len(payload)+8))
	copy(packed[8:], payload)
	return superItem{
		magic: magic,
		itype: csItypes[magic],
		data:  packed,
	}
}

// marshalSuperBlob lays out the index first, with offsets computed from the
// cumulative body lengths, then appends the bodies. The aggregate length
// lands in the header once everything else is accounted for.
func marshalSuperBlob(magic csMagic, items []superItem) []byte {
	ints := make([]uint32, 3+2*len(items))
	ints[0] = uint32(magic)
	length := uint32(4 * len(ints))
	ints[2] = uint32(len(items))
	for i, item := range items {
		ints[3+2*i] = item.itype
		ints[4+2*i] = length
		length += uint32(len(item.data))
	}
	ints[1] = length
	b := bytes.NewBuffer(make([]byte, 0, length))
	_ = binary.Write(b, binary.BigEndian, ints)
	for _, item := range items {
		b.Write(item.data)
	}
	return b.Bytes()
}
