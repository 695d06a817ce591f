package csblob

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type RequirementType uint32

// CSCommon.h
const (
	HostRequirement RequirementType = iota + 1
	GuestRequirement
	DesignatedRequirement
	LibraryRequirement
	PluginRequirement
)

func (t RequirementType) String() string {
	switch t {
	case HostRequirement:
		return "host"
	case GuestRequirement:
		return "guest"
	case DesignatedRequirement:
		return "designated"
	case LibraryRequirement:
		return "library"
	case PluginRequirement:
		return "plugin"
	default:
		return fmt.Sprintf("requirement(%d)", uint32(t))
	}
}

// Requirements holds the opaque compiled requirement programs from a
// requirement set, keyed by their role. The expression bytecode is not
// interpreted here.
type Requirements map[RequirementType][]byte

// ParseRequirements splits a requirement set blob, including its superblob
// header, into its member requirements.
func ParseRequirements(blob []byte) (Requirements, error) {
	if len(blob) < 12 {
		return nil, errShort
	}
	if csMagic(binary.BigEndian.Uint32(blob)) != csRequirements {
		return nil, errors.New("internal requirements: bad magic")
	}
	count := int(binary.BigEndian.Uint32(blob[8:]))
	indexes := blob[12:]
	if len(indexes) < 8*count {
		return nil, errShort
	}
	reqs := make(Requirements, count)
	for i := 0; i < count; i++ {
		itype := binary.BigEndian.Uint32(indexes[8*i:])
		offset := int(binary.BigEndian.Uint32(indexes[4+8*i:]))
		if offset < 0 || offset+8 > len(blob) {
			return nil, MalformedBlobError{Reason: "requirement index points outside buffer", Offset: 12 + 8*i}
		}
		length := int(binary.BigEndian.Uint32(blob[offset+4:]))
		if length < 8 || offset+length > len(blob) {
			return nil, MalformedBlobError{Reason: "requirement overruns buffer", Offset: offset}
		}
		if csMagic(binary.BigEndian.Uint32(blob[offset:])) != csRequirement {
			return nil, errors.New("internal requirements: member is not a requirement")
		}
		reqs[RequirementType(itype)] = blob[offset+8 : offset+length]
	}
	return reqs, nil
}
