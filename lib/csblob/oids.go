package csblob

import (
	"crypto/x509"
	"encoding/asn1"
)

// Object identifiers under Apple's private arc 1.2.840.113635.100. Leaf
// certificates carry a capability extension under the 6.1 sub-arc, and the
// CMS wrapper binds its code directories with authenticated attributes from
// the 9 sub-arc.
var (
	// capability extensions on a signing certificate
	oidCodeSigningArc = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 1}
	// plist of truncated code directory digests
	oidAttrCodeDirHashPlist = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 9, 1}
	// code directory digests paired with their algorithm identifier
	oidAttrCodeDirHashes = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 9, 2}
)

func underArc(id, arc asn1.ObjectIdentifier) bool {
	return len(id) >= len(arc) && id[:len(arc)].Equal(arc)
}

// MarkHandledExtensions clears the code signing capability extensions from a
// certificate's unhandled critical list. The issuer marks them critical, so
// chain validation would otherwise reject every code signing certificate.
func MarkHandledExtensions(cert *x509.Certificate) {
	unhandled := cert.UnhandledCriticalExtensions[:0]
	for _, ext := range cert.UnhandledCriticalExtensions {
		if !underArc(ext, oidCodeSigningArc) {
			unhandled = append(unhandled, ext)
		}
	}
	cert.UnhandledCriticalExtensions = unhandled
}

// TeamID returns the team identifier from a signing certificate, or "" if the
// certificate doesn't look like one. The issuer places the team in the OU
// field of any certificate carrying a capability extension.
func TeamID(cert *x509.Certificate) string {
	for _, ext := range cert.Extensions {
		if !underArc(ext.Id, oidCodeSigningArc) {
			continue
		}
		if ou := cert.Subject.OrganizationalUnit; len(ou) == 1 {
			return ou[0]
		}
	}
	return ""
}
