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

// Package certloader loads signing keys and certificate chains from PEM, DER,
// p7b and PKCS#12 files.
package certloader

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/fruitsign/fruitsign/lib/cms"
	"github.com/fruitsign/fruitsign/lib/pkcs9"
	"github.com/fruitsign/fruitsign/lib/x509tools"
)

// leading byte of any DER-encoded SEQUENCE
const asn1Tag = 0x30

// OID 1.2.840.113549.1.7.2, found near the start of a p7b file
var oidSignedData = []byte{0x06, 0x09, 0x2A, 0x86, 0x48, 0x86, 0xF7, 0x0D, 0x01, 0x07, 0x02}

var ErrNoCerts = errors.New("failed to find any certificates")

type Certificate struct {
	Leaf         *x509.Certificate
	Certificates []*x509.Certificate
	PrivateKey   crypto.PrivateKey
	Timestamper  pkcs9.Timestamper
}

// Chain returns the certificates in signing order, omitting any self-signed
// root.
func (s *Certificate) Chain() []*x509.Certificate {
	var chain []*x509.Certificate
	for i, cert := range s.Certificates {
		if i > 0 && bytes.Equal(cert.RawIssuer, cert.RawSubject) {
			// omit root CA
			continue
		}
		chain = append(chain, cert)
	}
	return chain
}

func (s *Certificate) Signer() crypto.Signer {
	return s.PrivateKey.(crypto.Signer)
}

// ParsePrivateKey parses a private key from PEM or DER data
func ParsePrivateKey(blob []byte) (crypto.PrivateKey, error) {
	if len(blob) > 0 && blob[0] == asn1Tag {
		return parseKeyDER(blob)
	}
	for block, rest := pem.Decode(blob); block != nil; block, rest = pem.Decode(rest) {
		if block.Type == "PRIVATE KEY" || strings.HasSuffix(block.Type, " PRIVATE KEY") {
			return parseKeyDER(block.Bytes)
		}
	}
	return nil, errors.New("failed to find any private keys in PEM data")
}

// try each of the DER key encodings in turn
func parseKeyDER(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch key := key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey:
			return key, nil
		}
		return nil, errors.New("found unknown private key type in PKCS#8 wrapping")
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("failed to parse private key")
}

// ParseCertificates parses a list of certificates, PEM or DER, X509 or PKCS#7
func ParseCertificates(blob []byte) (*Certificate, error) {
	if len(blob) > 0 && blob[0] == asn1Tag {
		certs, err := parseCertsDER(blob)
		if err != nil {
			return nil, err
		}
		return fromCertList(certs)
	}
	var certs []*x509.Certificate
	for block, rest := pem.Decode(blob); block != nil; block, rest = pem.Decode(rest) {
		if block.Type != "CERTIFICATE" && block.Type != "PKCS7" {
			continue
		}
		more, err := parseCertsDER(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, more...)
	}
	return fromCertList(certs)
}

func parseCertsDER(der []byte) ([]*x509.Certificate, error) {
	if len(der) >= 32 && bytes.Contains(der[:32], oidSignedData) {
		return cms.ParseCertificates(der)
	}
	return x509.ParseCertificates(der)
}

func fromCertList(certs []*x509.Certificate) (*Certificate, error) {
	if len(certs) == 0 {
		return nil, ErrNoCerts
	}
	return &Certificate{Leaf: certs[0], Certificates: certs}, nil
}

// LoadX509KeyPair reads a key file and a certificate file, checking that they
// belong together.
func LoadX509KeyPair(certFile, keyFile string) (*Certificate, error) {
	keyblob, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	certblob, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}
	key, err := ParsePrivateKey(keyblob)
	if err != nil {
		return nil, err
	}
	cert, err := ParseCertificates(certblob)
	if err != nil {
		return nil, err
	}
	if !x509tools.SameKey(cert.Leaf.PublicKey, key) {
		return nil, errors.New("private key does not match certificate")
	}
	cert.PrivateKey = key
	return cert, nil
}
