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

// Package pkcs9 implements RFC 3161 trusted timestamp structures used for
// countersigning, plus the PKIX free-text status messages they carry.
package pkcs9

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"time"

	"github.com/fruitsign/fruitsign/lib/cms"
)

var (
	OidAttributeTimeStampToken = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
	OidAttributeCounterSign    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 6}
	OidTSTInfo                 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
)

const (
	StatusGranted = iota
	StatusGrantedWithMods
	StatusRejection
	StatusWaiting
	StatusRevocationWarning
	StatusRevocationNotification

	FailureBadAlg              = 0
	FailureBadRequest          = 2
	FailureBadDataFormat       = 5
	FailureTimeNotAvailable    = 14
	FailureUnacceptedPolicy    = 15
	FailureUnacceptedExtension = 16
	FailureAddInfoNotAvailable = 17
	FailureSystemFailure       = 25
)

type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []pkix.Extension      `asn1:"optional,implicit,tag:0"`
}

type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

type PKIStatusInfo struct {
	Status       int
	StatusString PKIFreeText    `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// PKIFreeText is a sequence of UTF8String values. Elements are kept as raw
// values so the exact encoding survives a round trip.
type PKIFreeText []asn1.RawValue

type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken cms.ContentInfoSignedData `asn1:"optional"`
}

type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        asn1.RawValue
	Accuracy       asn1.RawValue    `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            GeneralName      `asn1:"optional,implicit,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,implicit,tag:1"`
}

type GeneralName struct {
	// GeneralName is a CHOICE that encoding/asn1 can't express; keep the raw
	// value and decode on demand
	Value asn1.RawValue
}

// SigningTime decodes the token's generalized timestamp.
func (i TSTInfo) SigningTime() (time.Time, error) {
	return ParseGeneralizedTime(i.GenTime.FullBytes)
}

func ParseGeneralizedTime(der []byte) (time.Time, error) {
	var t time.Time
	rest, err := asn1.UnmarshalWithParams(der, &t, "generalized")
	if err != nil {
		return time.Time{}, err
	} else if len(rest) != 0 {
		return time.Time{}, errors.New("pkcs9: trailing bytes after timestamp")
	}
	return t, nil
}

func (g GeneralName) RDNSequence() pkix.RDNSequence {
	if g.Value.Tag != 4 {
		return nil
	}
	var seq pkix.RDNSequence
	if _, err := asn1.Unmarshal(g.Value.Bytes, &seq); err != nil {
		return nil
	}
	return seq
}
