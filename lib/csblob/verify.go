package csblob

import (
	"crypto"
	"crypto/hmac"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/fruitsign/fruitsign/lib/pkcs9"
)

type VerifiedBlob struct {
	Blob      *SigBlob
	Signature *pkcs9.TimestampedSignature
	HashFunc  crypto.Hash
}

type VerifyParams struct {
	InfoPlist []byte
	Resources []byte
}

// Verify checks the integrity of an embedded signature: the special slot
// hashes in each code directory, the CMS signature over the primary code
// directory, the proprietary attributes binding the alternate directories,
// and the optional timestamp token. Code page hashes are checked separately
// with VerifyPages.
func Verify(blob []byte, params VerifyParams) (*VerifiedBlob, error) {
	sig, err := parseSignature(blob)
	if err != nil {
		return nil, err
	}
	if len(sig.Directories) == 0 {
		return nil, errors.New("no code directory found in signature")
	}
	computedHashes := make(map[crypto.Hash][]byte)
	var hashFunc crypto.Hash
	for _, dir := range sig.Directories {
		hashFunc = dir.HashFunc
		h := dir.HashFunc.New()
		h.Write(dir.Raw)
		computedHashes[dir.HashFunc] = h.Sum(nil)
		if err := checkSpecialSlots(h, dir, sig, params); err != nil {
			return nil, err
		}
	}
	// the CMS wrapper signs the primary code directory
	if sig.CMS == nil {
		return nil, errors.New("signature wrapper not found, possibly an adhoc signature")
	}
	pksig, err := sig.CMS.Content.Verify(sig.Directories[0].Raw, false)
	if err != nil {
		return nil, err
	}
	// the alternate directories are bound by authenticated attributes
	if err := checkCDHashes(pksig.SignerInfo, computedHashes); err != nil {
		return nil, fmt.Errorf("verifying cd hashes: %w", err)
	}
	if err := checkPlistHashes(sig.Directories, pksig.SignerInfo, computedHashes); err != nil {
		return nil, fmt.Errorf("verifying cd hashes: plist: %w", err)
	}
	// clear the issuer's critical capability extensions before any chain walk
	for _, cert := range pksig.Intermediates {
		MarkHandledExtensions(cert)
	}
	ts, err := pkcs9.VerifyOptionalTimestamp(pksig)
	if err != nil {
		return nil, err
	}
	return &VerifiedBlob{
		Blob:      sig,
		Signature: &ts,
		HashFunc:  hashFunc,
	}, nil
}

// checkSpecialSlots verifies each populated special slot hash in a directory
// against the corresponding blob. The manifest and resource contents live
// outside the signature, so those are only checked when the caller supplied
// them.
func checkSpecialSlots(h hash.Hash, dir *CodeDirectory, sig *SigBlob, params VerifyParams) error {
	checks := []struct {
		name     string
		expected []byte
		content  []byte
		optional bool
	}{
		{"entitlementsDER", dir.EntitlementsDERHash, sig.EntitlementDER, false},
		{"entitlements", dir.EntitlementsHash, sig.Entitlement, false},
		{"requirements", dir.RequirementsHash, sig.RawRequirements, false},
		{"info_plist", dir.ManifestHash, params.InfoPlist, true},
		{"resources", dir.ResourcesHash, params.Resources, true},
	}
	for _, c := range checks {
		if c.expected == nil || (c.optional && c.content == nil) {
			continue
		}
		h.Reset()
		h.Write(c.content)
		actual := h.Sum(nil)
		if !hmac.Equal(actual, c.expected) {
			return fmt.Errorf("%s: digest mismatch: expected %x but got %x", c.name, c.expected, actual)
		}
	}
	return nil
}

// bestDir picks the directory with the strongest digest algorithm.
func (s *SigBlob) bestDir() *CodeDirectory {
	var best *CodeDirectory
	for _, dir := range s.Directories {
		if best == nil || dir.Header.HashType > best.Header.HashType {
			best = dir
		}
	}
	return best
}

// CodeSize returns the number of bytes of the file covered by page hashes.
func (s *SigBlob) CodeSize() int64 {
	dir := s.bestDir()
	if dir == nil {
		return 0
	}
	if dir.Header.CodeLimit64 != 0 {
		return dir.Header.CodeLimit64
	}
	return int64(dir.Header.CodeLimit)
}

// VerifyPages checks the code page hashes in the strongest code directory
// against the file contents.
func (s *SigBlob) VerifyPages(r io.Reader) error {
	dir := s.bestDir()
	if dir == nil {
		return errors.New("no valid code dir found")
	}
	if dir.Header.PageSizeLog2 == 0 {
		return errors.New("unsupported page size in code directory")
	}
	pageSize := int64(1 << dir.Header.PageSizeLog2)
	buf := make([]byte, pageSize)
	h := dir.HashFunc.New()
	left := s.CodeSize()
	for i, expected := range dir.CodeHashes {
		if left <= 0 {
			return errors.New("not enough hash slots to cover indicated size")
		}
		if left < pageSize {
			buf = buf[:left]
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		h.Reset()
		h.Write(buf)
		computed := h.Sum(nil)
		if !hmac.Equal(computed, expected) {
			return fmt.Errorf("digest mismatch: page %d: expected %x, got %x", i, expected, computed)
		}
		left -= int64(len(buf))
	}
	return nil
}
