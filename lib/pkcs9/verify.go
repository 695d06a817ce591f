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

package pkcs9

import (
	"crypto/hmac"
	"encoding/asn1"
	"errors"
	"time"

	"github.com/fruitsign/fruitsign/lib/cms"
	"github.com/fruitsign/fruitsign/lib/x509tools"
)

// CounterSignature is a validated timestamp token.
type CounterSignature struct {
	cms.Signature
	SigningTime time.Time
}

// TimestampedSignature is a validated signature whose optional timestamp
// token, when present, was also validated.
type TimestampedSignature struct {
	cms.Signature
	CounterSignature *CounterSignature
	Raw              []byte
}

// Verify checks a hashed message against the imprint.
func (i MessageImprint) Verify(data []byte) error {
	hash, err := x509tools.PkixDigestToHashE(i.HashAlgorithm)
	if err != nil {
		return err
	}
	w := hash.New()
	w.Write(data)
	if !hmac.Equal(w.Sum(nil), i.HashedMessage) {
		return errors.New("pkcs9: digest check failed")
	}
	return nil
}

// VerifyTimestamp looks for a timestamp token in the unauthenticated
// attributes of an already-validated signature and checks its integrity.
// Certificate chains are not checked.
func VerifyTimestamp(sig cms.Signature) (CounterSignature, error) {
	var tst cms.ContentInfoSignedData
	if err := sig.SignerInfo.UnauthenticatedAttributes.GetOne(OidAttributeTimeStampToken, &tst); err != nil {
		return CounterSignature{}, err
	}
	if len(tst.Content.SignerInfos) != 1 {
		return CounterSignature{}, errors.New("pkcs9: counter-signature should have exactly one SignerInfo")
	}
	tsi := tst.Content.SignerInfos[0]
	certs := sig.Intermediates
	if tsicerts, err := tst.Content.Certificates.Parse(); err != nil {
		return CounterSignature{}, err
	} else if len(tsicerts) != 0 {
		// keep both sets of certs just in case
		certs = append(certs, tsicerts...)
	}
	// the token's content is a TSTInfo that imprints the signature data
	content, err := tst.Content.ContentInfo.Bytes()
	if err != nil {
		return CounterSignature{}, err
	}
	var info TSTInfo
	if rest, err := asn1.Unmarshal(content, &info); err != nil {
		return CounterSignature{}, err
	} else if len(rest) != 0 {
		return CounterSignature{}, errors.New("pkcs9: trailing bytes after TSTInfo")
	}
	if err := info.MessageImprint.Verify(sig.SignerInfo.EncryptedDigest); err != nil {
		return CounterSignature{}, err
	}
	cert, err := tsi.Verify(content, false, certs)
	if err != nil {
		return CounterSignature{}, err
	}
	signingTime, err := info.SigningTime()
	if err != nil {
		return CounterSignature{}, err
	}
	return CounterSignature{
		Signature: cms.Signature{
			SignerInfo:    &tst.Content.SignerInfos[0],
			Certificate:   cert,
			Intermediates: certs,
		},
		SigningTime: signingTime,
	}, nil
}

// VerifyOptionalTimestamp validates the timestamp token if one is present;
// its absence is not an error.
func VerifyOptionalTimestamp(sig cms.Signature) (TimestampedSignature, error) {
	tsig := TimestampedSignature{Signature: sig}
	ts, err := VerifyTimestamp(sig)
	if _, ok := err.(cms.ErrNoAttribute); ok {
		return tsig, nil
	} else if err != nil {
		return tsig, err
	}
	tsig.CounterSignature = &ts
	return tsig, nil
}
