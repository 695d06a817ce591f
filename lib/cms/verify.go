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
	"crypto/hmac"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/fruitsign/fruitsign/lib/x509tools"
)

// ErrDigestMismatch is returned when the content does not match the signed
// message-digest attribute, i.e. the content was tampered with. It is
// distinct from signature verification failures, which indicate a wrong key
// or a corrupted signature.
var ErrDigestMismatch = errors.New("cms: content digest does not match")

// Signature is the result of a successful structural verification.
type Signature struct {
	SignerInfo    *SignerInfo
	Certificate   *x509.Certificate
	Intermediates []*x509.Certificate
}

// Verify checks the integrity of each SignerInfo: the message-digest
// attribute against the content (embedded, or externalContent for detached
// signatures) and the public-key signature over the attribute DER. It does
// not validate certificate chain trust; see VerifyChain.
func (sd *SignedData) Verify(externalContent []byte, skipDigests bool) (Signature, error) {
	var content []byte
	if !skipDigests {
		var err error
		content, err = sd.ContentInfo.Bytes()
		if err != nil {
			return Signature{}, err
		} else if content == nil {
			if externalContent == nil {
				return Signature{}, errors.New("cms: missing content")
			}
			content = externalContent
		}
	}
	certs, err := sd.Certificates.Parse()
	if err != nil {
		return Signature{}, fmt.Errorf("cms: %w", err)
	} else if len(certs) == 0 {
		return Signature{}, errors.New("cms: certificate missing from SignedData")
	}
	var sig Signature
	for i := range sd.SignerInfos {
		si := &sd.SignerInfos[i]
		cert, err := si.Verify(content, skipDigests, certs)
		if err != nil {
			return Signature{}, err
		}
		sig = Signature{SignerInfo: si, Certificate: cert, Intermediates: certs}
	}
	if sig.SignerInfo == nil {
		return Signature{}, errors.New("cms: no signers in SignedData")
	}
	return sig, nil
}

// FindCertificate locates the signer's certificate by issuer and serial.
func (si *SignerInfo) FindCertificate(certs []*x509.Certificate) (*x509.Certificate, error) {
	is := si.IssuerAndSerialNumber
	for _, cert := range certs {
		if bytes.Equal(cert.RawIssuer, is.IssuerName.FullBytes) && cert.SerialNumber.Cmp(is.SerialNumber) == 0 {
			return cert, nil
		}
	}
	return nil, errors.New("cms: certificate missing from SignedData")
}

// Verify checks a single SignerInfo against the given content.
func (si *SignerInfo) Verify(content []byte, skipDigests bool, certs []*x509.Certificate) (*x509.Certificate, error) {
	hash, err := x509tools.PkixDigestToHashE(si.DigestAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("cms: %w", err)
	}
	var digest []byte
	if !skipDigests {
		w := hash.New()
		w.Write(content)
		digest = w.Sum(nil)
	}
	if len(si.AuthenticatedAttributes) != 0 {
		// check the content digest against the messageDigest attribute
		var md []byte
		if err := si.AuthenticatedAttributes.GetOne(OidAttributeMessageDigest, &md); err != nil {
			return nil, err
		} else if digest != nil && !hmac.Equal(md, digest) {
			return nil, ErrDigestMismatch
		}
		// now pivot to verifying the signature over the authenticated
		// attributes
		attrBytes, err := si.AuthenticatedAttributes.Bytes()
		if err != nil {
			return nil, err
		}
		w := hash.New()
		w.Write(attrBytes)
		digest = w.Sum(nil)
	} // otherwise the content hash is verified directly
	cert, err := si.FindCertificate(certs)
	if err != nil {
		return nil, err
	}
	if digest != nil {
		if err := x509tools.Verify(cert.PublicKey, hash, digest, si.EncryptedDigest); err != nil {
			return nil, fmt.Errorf("cms: signature verification failed: %w", err)
		}
	}
	return cert, nil
}

// SigningTime returns the signing-time attribute, or the zero time if the
// signer did not include one.
func (si *SignerInfo) SigningTime() (time.Time, error) {
	var t time.Time
	err := si.AuthenticatedAttributes.GetOne(OidAttributeSigningTime, &t)
	if _, ok := err.(ErrNoAttribute); ok {
		return time.Time{}, nil
	}
	return t, err
}

// VerifyChain builds a trust chain for the signer certificate. Roots defaults
// to the system pool when nil.
func (info Signature) VerifyChain(roots *x509.CertPool, extraCerts []*x509.Certificate, usage x509.ExtKeyUsage, currentTime time.Time) error {
	pool := x509.NewCertPool()
	for _, cert := range extraCerts {
		pool.AddCert(cert)
	}
	for _, cert := range info.Intermediates {
		pool.AddCert(cert)
	}
	opts := x509.VerifyOptions{
		Intermediates: pool,
		Roots:         roots,
		CurrentTime:   currentTime,
		KeyUsages:     []x509.ExtKeyUsage{usage},
	}
	_, err := info.Certificate.Verify(opts)
	return err
}
