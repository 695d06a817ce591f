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
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// NewContentInfo wraps data as an OCTET STRING under the given content type.
// A nil data produces a detached (content-less) ContentInfo.
func NewContentInfo(contentType asn1.ObjectIdentifier, data []byte) (ContentInfo, error) {
	if data == nil {
		return ContentInfo{ContentType: contentType}, nil
	}
	encoded, err := asn1.Marshal(data)
	if err != nil {
		return ContentInfo{}, err
	}
	return ContentInfo{
		ContentType: contentType,
		Value:       asn1.RawValue{FullBytes: encoded},
	}, nil
}

// Bytes returns the embedded content, or nil if the content is detached.
func (ci ContentInfo) Bytes() ([]byte, error) {
	if len(ci.Value.FullBytes) == 0 {
		return nil, nil
	}
	var data []byte
	if rest, err := asn1.Unmarshal(ci.Value.FullBytes, &data); err != nil {
		return nil, fmt.Errorf("cms: unwrapping content: %w", err)
	} else if len(rest) != 0 {
		return nil, errors.New("cms: trailing bytes after content")
	}
	return data, nil
}

// Detach removes the embedded content, returning it. Used to convert an
// attached signature to the detached form stored in signature blobs.
func (psd *ContentInfoSignedData) Detach() ([]byte, error) {
	content, err := psd.Content.ContentInfo.Bytes()
	if err != nil {
		return nil, err
	}
	psd.Content.ContentInfo, _ = NewContentInfo(psd.Content.ContentInfo.ContentType, nil)
	return content, nil
}

func (psd *ContentInfoSignedData) Marshal() ([]byte, error) {
	return asn1.Marshal(*psd)
}

// Unmarshal parses a DER encoded SignedData, rejecting trailing bytes.
func Unmarshal(der []byte) (*ContentInfoSignedData, error) {
	psd := new(ContentInfoSignedData)
	rest, err := asn1.Unmarshal(der, psd)
	if err != nil {
		return nil, fmt.Errorf("cms: %w", err)
	} else if len(rest) != 0 {
		return nil, errors.New("cms: trailing bytes after SignedData")
	}
	if !psd.ContentType.Equal(OidSignedData) {
		return nil, fmt.Errorf("cms: expected SignedData but got content type %s", psd.ContentType)
	}
	return psd, nil
}

// UnmarshalTolerant re-encodes BER deviations, notably indefinite lengths,
// to DER before parsing. Some signers emit signatures with indefinite length
// content which the strict decoder chokes on.
func UnmarshalTolerant(blob []byte) (*ContentInfoSignedData, error) {
	pkt, err := ber.DecodePacketErr(blob)
	if err != nil {
		return nil, fmt.Errorf("cms: %w", err)
	}
	return Unmarshal(pkt.Bytes())
}

func MarshalCertificates(certs []*x509.Certificate) RawCertificates {
	var buf bytes.Buffer
	for _, cert := range certs {
		buf.Write(cert.Raw)
	}
	val := asn1.RawValue{Bytes: buf.Bytes(), Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true}
	b, _ := asn1.Marshal(val)
	return RawCertificates{Raw: b}
}

// ParseCertificates extracts the certificate list from a DER encoded
// SignedData, e.g. a p7b certificate bundle.
func ParseCertificates(der []byte) ([]*x509.Certificate, error) {
	psd, err := Unmarshal(der)
	if err != nil {
		return nil, err
	}
	return psd.Content.Certificates.Parse()
}

func (raw RawCertificates) Parse() ([]*x509.Certificate, error) {
	if len(raw.Raw) == 0 {
		return nil, nil
	}
	var val asn1.RawValue
	if _, err := asn1.Unmarshal(raw.Raw, &val); err != nil {
		return nil, err
	}
	return x509.ParseCertificates(val.Bytes)
}
