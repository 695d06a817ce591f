package csblob

import (
	"fmt"
	"sort"

	"github.com/fruitsign/fruitsign/lib/cms"
)

// UnknownBlob is a superblob member with a slot type this package does not
// interpret. It is carried through so that re-marshalling a parsed signature
// does not shed data.
type UnknownBlob struct {
	IType uint32
	Data  []byte
}

type SigBlob struct {
	// with blob header
	Entitlement     []byte
	EntitlementDER  []byte
	RawRequirements []byte
	NotaryTicket    []byte
	Unknowns        []UnknownBlob

	Directories []*CodeDirectory
	CMS         *cms.ContentInfoSignedData
}

// Parse decodes an embedded or detached signature superblob.
func Parse(blob []byte) (*SigBlob, error) {
	return parseSignature(blob)
}

func parseSignature(blob []byte) (*SigBlob, error) {
	magic, items, err := parseSuper(blob)
	if err != nil {
		return nil, err
	}
	if magic != csEmbeddedSignature && magic != csDetachedSignature {
		return nil, fmt.Errorf("expected embedded signature but got %08x", magic)
	}
	sig := new(SigBlob)
	for _, item := range items {
		switch {
		case item.itype == cdRequirementsSlot:
			sig.RawRequirements = item.data
		case item.itype == cdEntitlementSlot:
			sig.Entitlement = item.data
		case item.itype == cdEntitlementDERSlot:
			sig.EntitlementDER = item.data
		case item.itype == cdTicketSlot:
			sig.NotaryTicket = item.data
		case item.itype == cdCodeDirectorySlot || item.itype >= cdAlternateCodeDirectorySlots && item.itype < cdAlternateCodeDirectorySlots+6:
			dir, err := parseCodeDirectory(item.data, item.itype)
			if err != nil {
				return nil, err
			}
			sig.Directories = append(sig.Directories, dir)
		case item.itype == cdSignatureSlot:
			if len(item.data) <= 8 {
				sig.CMS = nil
				continue
			}
			// Signatures are encoded with an indefinite length content, which
			// go's asn1 lib chokes on because it's not DER. UnmarshalTolerant
			// reencodes through a BER parser first.
			psd, err := cms.UnmarshalTolerant(item.data[8:])
			if err != nil {
				return nil, err
			}
			sig.CMS = psd
		default:
			sig.Unknowns = append(sig.Unknowns, UnknownBlob{IType: item.itype, Data: item.data})
		}
	}
	sort.Slice(sig.Directories, func(i, j int) bool {
		return sig.Directories[i].IType < sig.Directories[j].IType
	})
	return sig, nil
}
