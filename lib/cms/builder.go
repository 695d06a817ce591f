/*
 * Copyright (c) SAS Institute Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cms

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/fruitsign/fruitsign/lib/x509tools"
)

// UnsupportedKeyAlgorithmError indicates a signing key whose algorithm has no
// CMS mapping here.
type UnsupportedKeyAlgorithmError struct {
	Key crypto.PublicKey
}

func (e UnsupportedKeyAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported public key algorithm %T", e.Key)
}

// SignatureBuilder accumulates content and authenticated attributes, then
// produces a SignedData with a single SignerInfo. The signature covers the
// DER encoding of the authenticated attributes, per the detached-attributes
// mode used by code signing.
type SignatureBuilder struct {
	signer    crypto.Signer
	certs     []*x509.Certificate
	hash      crypto.Hash
	cinfo     ContentInfo
	digest    []byte
	authAttrs AttributeList
}

// NewBuilder prepares a signature using the given key handle and certificate
// chain. The first certificate must hold the public half of privKey.
func NewBuilder(privKey crypto.Signer, certs []*x509.Certificate, hash crypto.Hash) *SignatureBuilder {
	return &SignatureBuilder{
		signer: privKey,
		certs:  certs,
		hash:   hash,
	}
}

// SetContentData embeds content into the signature and digests it for the
// message-digest attribute.
func (sb *SignatureBuilder) SetContentData(data []byte) error {
	cinfo, err := NewContentInfo(OidData, data)
	if err != nil {
		return err
	}
	d := sb.hash.New()
	d.Write(data)
	sb.cinfo = cinfo
	sb.digest = d.Sum(nil)
	return nil
}

// SetDetachedContent signs a digest of content kept outside the signature.
func (sb *SignatureBuilder) SetDetachedContent(contentType asn1.ObjectIdentifier, digest []byte) error {
	if len(digest) != sb.hash.Size() {
		return errors.New("cms: digest size mismatch")
	}
	cinfo, _ := NewContentInfo(contentType, nil)
	sb.cinfo = cinfo
	sb.digest = digest
	return nil
}

func (sb *SignatureBuilder) AddAuthenticatedAttribute(oid asn1.ObjectIdentifier, obj interface{}) error {
	return sb.authAttrs.Add(oid, obj)
}

func (sb *SignatureBuilder) Sign() (*ContentInfoSignedData, error) {
	if sb.digest == nil {
		return nil, errors.New("cms: content not set")
	}
	digestAlg, ok := x509tools.PkixDigestAlgorithm(sb.hash)
	if !ok {
		return nil, errors.New("cms: unsupported digest algorithm")
	}
	pubKey := sb.signer.Public()
	pkeyAlg, ok := x509tools.PkixPublicKeyAlgorithm(pubKey)
	if !ok {
		return nil, UnsupportedKeyAlgorithmError{Key: pubKey}
	}
	if len(sb.certs) < 1 || !x509tools.SameKey(pubKey, sb.certs[0].PublicKey) {
		return nil, errors.New("cms: first certificate must match the signing key")
	}
	authAttrs := sb.authAttrs
	if err := authAttrs.Add(OidAttributeContentType, sb.cinfo.ContentType); err != nil {
		return nil, err
	}
	if err := authAttrs.Add(OidAttributeMessageDigest, sb.digest); err != nil {
		return nil, err
	}
	// the signature covers the attribute SET, not the content itself
	attrBytes, err := authAttrs.Bytes()
	if err != nil {
		return nil, err
	}
	d := sb.hash.New()
	d.Write(attrBytes)
	sig, err := sb.signer.Sign(rand.Reader, d.Sum(nil), sb.hash)
	if err != nil {
		return nil, err
	}
	return &ContentInfoSignedData{
		ContentType: OidSignedData,
		Content: SignedData{
			Version:                    1,
			DigestAlgorithmIdentifiers: []pkix.AlgorithmIdentifier{digestAlg},
			ContentInfo:                sb.cinfo,
			Certificates:               MarshalCertificates(sb.certs),
			SignerInfos: []SignerInfo{{
				Version: 1,
				IssuerAndSerialNumber: IssuerAndSerial{
					IssuerName:   asn1.RawValue{FullBytes: sb.certs[0].RawIssuer},
					SerialNumber: sb.certs[0].SerialNumber,
				},
				DigestAlgorithm:           digestAlg,
				AuthenticatedAttributes:   authAttrs,
				DigestEncryptionAlgorithm: pkeyAlg,
				EncryptedDigest:           sig,
			}},
		},
	}, nil
}
