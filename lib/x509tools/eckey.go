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

package x509tools

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

// UnimplementedEncodingError indicates a structure that is valid ASN.1 but
// uses an encoding choice this library does not implement.
type UnimplementedEncodingError struct {
	What string
}

func (e UnimplementedEncodingError) Error() string {
	return "unimplemented encoding: " + e.What
}

// ECParameters is the RFC 5480 ECParameters CHOICE. Only the namedCurve and
// implicitCurve alternatives are implemented; specifiedCurve is rejected.
type ECParameters struct {
	NamedCurve asn1.ObjectIdentifier // nil for implicitCurve
}

// Marshal encodes the parameters in DER: a curve OID, or NULL when the curve
// is implicit.
func (p ECParameters) Marshal() ([]byte, error) {
	if p.NamedCurve != nil {
		return asn1.Marshal(p.NamedCurve)
	}
	return asn1.Marshal(asn1.RawValue{Tag: asn1.TagNull})
}

// UnmarshalECParameters decodes an ECParameters value, consuming the whole
// input.
func UnmarshalECParameters(der []byte) (ECParameters, error) {
	if len(der) == 0 {
		return ECParameters{}, errors.New("empty EC parameters")
	}
	switch der[0] {
	case 0x06: // OBJECT IDENTIFIER
		var oid asn1.ObjectIdentifier
		rest, err := asn1.Unmarshal(der, &oid)
		if err != nil {
			return ECParameters{}, err
		} else if len(rest) != 0 {
			return ECParameters{}, errors.New("trailing bytes after EC parameters")
		}
		return ECParameters{NamedCurve: oid}, nil
	case 0x05: // NULL, implicitCurve
		var null asn1.RawValue
		rest, err := asn1.Unmarshal(der, &null)
		if err != nil {
			return ECParameters{}, err
		} else if len(rest) != 0 {
			return ECParameters{}, errors.New("trailing bytes after EC parameters")
		}
		return ECParameters{}, nil
	case 0x30: // SEQUENCE, specifiedCurve
		return ECParameters{}, UnimplementedEncodingError{What: "specifiedCurve EC domain parameters"}
	default:
		return ECParameters{}, fmt.Errorf("invalid EC parameters with tag 0x%02x", der[0])
	}
}

// ecPrivateKey is the RFC 5915 ECPrivateKey structure.
type ecPrivateKey struct {
	Version    int
	PrivateKey []byte
	Parameters asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey  asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

// MarshalECPrivateKey encodes a private key per RFC 5915 with the named curve
// and public point included.
func MarshalECPrivateKey(key *ecdsa.PrivateKey) ([]byte, error) {
	curve, err := CurveByCurve(key.Curve)
	if err != nil {
		return nil, err
	}
	byteLen := (key.Curve.Params().BitSize + 7) / 8
	priv := make([]byte, byteLen)
	key.D.FillBytes(priv)
	pub := elliptic.Marshal(key.Curve, key.X, key.Y)
	return asn1.Marshal(ecPrivateKey{
		Version:    1,
		PrivateKey: priv,
		Parameters: curve.Oid,
		PublicKey:  asn1.BitString{Bytes: pub, BitLength: 8 * len(pub)},
	})
}

// ParseECPrivateKey decodes a RFC 5915 ECPrivateKey. The curve may come from
// the embedded parameters or be supplied by the caller when the encoding
// omits them.
func ParseECPrivateKey(der []byte, curve elliptic.Curve) (*ecdsa.PrivateKey, error) {
	var ec ecPrivateKey
	rest, err := asn1.Unmarshal(der, &ec)
	if err != nil {
		return nil, fmt.Errorf("parsing EC private key: %w", err)
	} else if len(rest) != 0 {
		return nil, errors.New("trailing bytes after EC private key")
	}
	if ec.Version != 1 {
		return nil, fmt.Errorf("unsupported EC private key version %d", ec.Version)
	}
	if ec.Parameters != nil {
		def, err := CurveByOid(ec.Parameters)
		if err != nil {
			return nil, err
		}
		curve = def.Curve
	}
	if curve == nil {
		return nil, errors.New("EC private key does not name a curve")
	}
	d := new(big.Int).SetBytes(ec.PrivateKey)
	if d.Cmp(curve.Params().N) >= 0 || d.Sign() <= 0 {
		return nil, errors.New("EC private key is out of range for its curve")
	}
	key := &ecdsa.PrivateKey{D: d}
	key.Curve = curve
	key.X, key.Y = curve.ScalarBaseMult(ec.PrivateKey)
	return key, nil
}
