package csblob

import (
	"context"
	"crypto"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fruitsign/fruitsign/lib/certloader"
	"github.com/fruitsign/fruitsign/lib/cms"
	"github.com/fruitsign/fruitsign/lib/pkcs9"
	"github.com/fruitsign/fruitsign/lib/x509tools"
)

// Sign hashes the code pages and builds a new embedded signature over them.
func Sign(ctx context.Context, cert *certloader.Certificate, params *SignatureParams) ([]byte, *pkcs9.TimestampedSignature, error) {
	hashFuncs := []crypto.Hash{params.HashFunc}
	codeSlots, slotCount, codeLimit, err := hashPages(hashFuncs, params.Pages)
	if err != nil {
		return nil, nil, fmt.Errorf("hashing code pages: %w", err)
	}
	// read the old signature to extract entitlements etc.
	if err := params.DefaultsFromSignature(); err != nil {
		return nil, nil, fmt.Errorf("parsing old signature: %w", err)
	}
	if err := params.DefaultsFromBundle(cert); err != nil {
		return nil, nil, fmt.Errorf("setting signature params: %w", err)
	}
	specials, embedded, err := params.specialItems()
	if err != nil {
		return nil, nil, err
	}
	// build one code directory per digest algorithm, collecting their hashes
	// for the authenticated attributes
	var plistHashes cdHashPlist
	var attrHashes []cdHashAttrib
	var firstCD []byte
	var items []superItem
	for i, hashFunc := range hashFuncs {
		result, err := newCodeDirectory(codeDirParams{
			SignatureParams: params,
			Specials:        specials,
			CodeSlots:       codeSlots[i],
			CodeSlotCount:   slotCount,
			CodeLimit:       codeLimit,
			HashFunc:        hashFunc,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("populating code directory: %w", err)
		}
		alg, ok := x509tools.PkixDigestAlgorithm(hashFunc)
		if !ok {
			return nil, nil, fmt.Errorf("unsupported algorithm %s", hashFunc)
		}
		attrHashes = append(attrHashes, cdHashAttrib{
			Algorithm: alg.Algorithm,
			Digest:    result.Digest,
		})
		plistHashes.CDHashes = append(plistHashes.CDHashes, result.Digest[:20])
		item := superItem{magic: csCodeDirectory, data: result.Raw}
		if i == 0 {
			firstCD = item.data
			item.itype = cdCodeDirectorySlot
		} else {
			item.itype = uint32(cdAlternateCodeDirectorySlots + i - 1)
		}
		items = append(items, item)
	}
	items = append(items, embedded...)
	// sign over the primary code directory
	builder := cms.NewBuilder(cert.Signer(), cert.Chain(), params.HashFunc)
	if err := builder.SetContentData(firstCD); err != nil {
		return nil, nil, err
	}
	if err := addCSHashes(builder, attrHashes); err != nil {
		return nil, nil, fmt.Errorf("adding cdhashes: %w", err)
	}
	if err := addPlistHashes(builder, plistHashes); err != nil {
		return nil, nil, fmt.Errorf("adding cdhash plist: %w", err)
	}
	if err := builder.AddAuthenticatedAttribute(cms.OidAttributeSigningTime, time.Now().UTC()); err != nil {
		return nil, nil, err
	}
	psd, err := builder.Sign()
	if err != nil {
		return nil, nil, err
	}
	tssig, err := pkcs9.TimestampAndMarshal(ctx, psd, cert.Timestamper, false)
	if err != nil {
		return nil, nil, err
	}
	// marshal
	if _, err := psd.Detach(); err != nil {
		return nil, nil, err
	}
	tssig.Raw, err = psd.Marshal()
	if err != nil {
		return nil, nil, err
	}
	items = append(items, newSuperItem(csBlobWrapper, tssig.Raw))
	blob := marshalSuperBlob(csEmbeddedSignature, items)
	return blob, tssig, err
}

// specialItems lays out the special slot contents, slots -7 through -1, and
// collects the blobs that also get embedded in the superblob. Embedded blobs
// are hashed with their headers on. Leading unused slots are dropped so the
// directory only stores the occupied range.
func (p *SignatureParams) specialItems() ([][]byte, []superItem, error) {
	specials := make([][]byte, cdEntitlementDERSlot)
	var embedded []superItem
	embed := func(slot int, magic csMagic, payload []byte) {
		item := newSuperItem(magic, payload)
		specials[cdEntitlementDERSlot-slot] = item.data
		embedded = append(embedded, item)
	}
	if p.Requirements != nil {
		payload, err := requirementSetPayload(p.Requirements)
		if err != nil {
			return nil, nil, err
		}
		embed(cdRequirementsSlot, csRequirements, payload)
	}
	if p.Entitlement != nil {
		embed(cdEntitlementSlot, csEntitlement, p.Entitlement)
	}
	if p.EntitlementDER != nil {
		embed(cdEntitlementDERSlot, csEntitlementDER, p.EntitlementDER)
	}
	specials[cdEntitlementDERSlot-cdResourceDirSlot] = p.Resources
	specials[cdEntitlementDERSlot-cdInfoSlot] = p.InfoPlist
	for len(specials) > 0 && specials[0] == nil {
		specials = specials[1:]
	}
	return specials, embedded, nil
}

// requirementSetPayload accepts a compiled requirement set, or a single
// requirement which becomes the designated requirement of a new set, and
// returns the payload of the set blob.
func requirementSetPayload(v []byte) ([]byte, error) {
	if len(v) < 8 {
		return nil, errors.New("requirements blob must be a binary requirement or requirement set")
	}
	switch csMagic(binary.BigEndian.Uint32(v)) {
	case csRequirements:
		return v[8:], nil
	case csRequirement:
		item := newSuperItem(csRequirement, v[8:])
		item.itype = uint32(DesignatedRequirement)
		return marshalSuperBlob(csRequirements, []superItem{item})[8:], nil
	default:
		return nil, errors.New("requirements blob must be a binary requirement or requirement set")
	}
}
