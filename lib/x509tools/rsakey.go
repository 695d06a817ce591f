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
	"crypto/rsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

// MalformedIntegerError indicates an INTEGER whose encoding violates DER
// minimality, e.g. redundant leading zero octets.
type MalformedIntegerError struct {
	Field string
}

func (e MalformedIntegerError) Error() string {
	return "malformed integer in " + e.Field
}

// rsaPublicKey is the RFC 8017 RSAPublicKey structure.
type rsaPublicKey struct {
	Modulus  asn1.RawValue
	Exponent asn1.RawValue
}

// MarshalRSAPublicKey encodes a PKCS#1 RSAPublicKey in DER.
func MarshalRSAPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	type pkcs1Key struct {
		N *big.Int
		E int
	}
	return asn1.Marshal(pkcs1Key{N: pub.N, E: pub.E})
}

// ParseRSAPublicKey decodes a PKCS#1 RSAPublicKey, enforcing minimal integer
// encoding on both fields.
func ParseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	var raw rsaPublicKey
	rest, err := asn1.Unmarshal(der, &raw)
	if err != nil {
		return nil, fmt.Errorf("parsing RSA public key: %w", err)
	} else if len(rest) != 0 {
		return nil, errors.New("trailing bytes after RSA public key")
	}
	n, err := parseDERInteger(raw.Modulus, "modulus")
	if err != nil {
		return nil, err
	}
	e, err := parseDERInteger(raw.Exponent, "exponent")
	if err != nil {
		return nil, err
	}
	if n.Sign() <= 0 || e.Sign() <= 0 {
		return nil, errors.New("RSA public key values must be positive")
	}
	if !e.IsInt64() || e.Int64() > 1<<31-1 {
		return nil, errors.New("RSA public exponent is out of range")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func parseDERInteger(v asn1.RawValue, field string) (*big.Int, error) {
	if v.Tag != asn1.TagInteger || v.Class != asn1.ClassUniversal || v.IsCompound {
		return nil, fmt.Errorf("expected INTEGER for %s", field)
	}
	b := v.Bytes
	if len(b) == 0 {
		return nil, MalformedIntegerError{Field: field}
	}
	// DER requires the shortest possible encoding: a zero octet may only lead
	// when needed to keep the value positive
	if len(b) > 1 && b[0] == 0 && b[1]&0x80 == 0 {
		return nil, MalformedIntegerError{Field: field}
	}
	if b[0]&0x80 != 0 {
		return nil, fmt.Errorf("negative value for %s", field)
	}
	return new(big.Int).SetBytes(b), nil
}
