package csblob

import (
	"crypto"
	"fmt"
	"io"

	"howett.net/plist"

	"github.com/fruitsign/fruitsign/lib/certloader"
)

type SignatureParams struct {
	Pages        io.Reader // stream of code pages to hash
	OldSignature io.Reader // existing signature, read after the pages, if any
	HashFunc     crypto.Hash
	InfoPlist    []byte // manifest to bind to the signature
	Resources    []byte // CodeResources to bind to the signature

	// the following are copied from the old signature if empty
	Flags            SignatureFlags
	Requirements     []byte // compiled requirements to embed
	Entitlement      []byte // entitlement plist to embed
	EntitlementDER   []byte // entitlement in DER form
	SigningIdentity  string // bundle ID
	TeamIdentifier   string // team ID, defaults to the signing cert's
	ExecSegmentBase  int64
	ExecSegmentLimit int64
	ExecSegmentFlags int64
}

// DefaultsFromSignature fills in params that were not set explicitly by
// copying them from the binary's existing signature.
func (p *SignatureParams) DefaultsFromSignature() error {
	if p.OldSignature == nil {
		return nil
	}
	blob, err := io.ReadAll(p.OldSignature)
	if err != nil {
		return err
	}
	old, err := parseSignature(blob)
	if err != nil {
		return err
	}
	p.inheritBlobs(old)
	if dir := old.bestDir(); dir != nil {
		p.inheritDirectory(dir)
	}
	return nil
}

// inheritBlobs keeps embedded blobs from the previous signature that the
// caller didn't replace. The stored blobs carry their 8-byte headers, which
// get stripped here and put back on during marshalling.
func (p *SignatureParams) inheritBlobs(old *SigBlob) {
	if p.Requirements == nil && old.RawRequirements != nil {
		p.Requirements = old.RawRequirements
	}
	if p.Entitlement != nil || old.Entitlement == nil {
		return
	}
	p.Entitlement = old.Entitlement[8:]
	// the DER form mirrors the xml form, so it only carries over alongside it
	if p.EntitlementDER == nil && old.EntitlementDER != nil {
		p.EntitlementDER = old.EntitlementDER[8:]
	}
}

func (p *SignatureParams) inheritDirectory(dir *CodeDirectory) {
	if p.SigningIdentity == "" {
		p.SigningIdentity = dir.SigningIdentity
	}
	if p.TeamIdentifier == "" {
		p.TeamIdentifier = dir.TeamIdentifier
	}
	if p.Flags == 0 {
		p.Flags = dir.Header.Flags &^ clearFlags
	}
	if p.ExecSegmentBase == 0 && p.ExecSegmentLimit == 0 && p.ExecSegmentFlags == 0 {
		p.ExecSegmentBase = dir.Header.ExecSegmentBase
		p.ExecSegmentLimit = dir.Header.ExecSegmentLimit
		p.ExecSegmentFlags = dir.Header.ExecSegmentFlags
	}
}

// DefaultsFromBundle fills in the signing identity from the Info.plist and
// the team identifier from the signing certificate.
func (p *SignatureParams) DefaultsFromBundle(cert *certloader.Certificate) error {
	if p.TeamIdentifier == "" {
		p.TeamIdentifier = TeamID(cert.Leaf)
	}
	if p.SigningIdentity != "" || len(p.InfoPlist) == 0 {
		return nil
	}
	var bundle struct {
		BundleID string `plist:"CFBundleIdentifier"`
	}
	if _, err := plist.Unmarshal(p.InfoPlist, &bundle); err != nil {
		return fmt.Errorf("info.plist: %w", err)
	}
	p.SigningIdentity = bundle.BundleID
	return nil
}
