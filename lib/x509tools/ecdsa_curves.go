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
	"crypto/elliptic"
	"encoding/asn1"
	"fmt"
	"strconv"
	"strings"
)

type CurveDefinition struct {
	Bits  uint
	Curve elliptic.Curve
	Oid   asn1.ObjectIdentifier
}

var DefinedCurves = []CurveDefinition{
	{256, elliptic.P256(), asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}},
	{384, elliptic.P384(), asn1.ObjectIdentifier{1, 3, 132, 0, 34}},
	{521, elliptic.P521(), asn1.ObjectIdentifier{1, 3, 132, 0, 35}},
}

func (def *CurveDefinition) ToDer() []byte {
	der, err := asn1.Marshal(def.Oid)
	if err != nil {
		panic(err)
	}
	return der
}

func SupportedCurves() string {
	curves := make([]string, len(DefinedCurves))
	for i, def := range DefinedCurves {
		curves[i] = strconv.FormatUint(uint64(def.Bits), 10)
	}
	return strings.Join(curves, ", ")
}

func CurveByOid(oid asn1.ObjectIdentifier) (*CurveDefinition, error) {
	for i, def := range DefinedCurves {
		if oid.Equal(def.Oid) {
			return &DefinedCurves[i], nil
		}
	}
	return nil, fmt.Errorf("unsupported ECDSA curve with OID %s (supported curves: %s)", oid, SupportedCurves())
}

func CurveByCurve(curve elliptic.Curve) (*CurveDefinition, error) {
	for i, def := range DefinedCurves {
		if curve == def.Curve {
			return &DefinedCurves[i], nil
		}
	}
	return nil, fmt.Errorf("unsupported ECDSA curve %v (supported curves: %s)", curve, SupportedCurves())
}

func CurveByBits(bits uint) (*CurveDefinition, error) {
	for i, def := range DefinedCurves {
		if bits == def.Bits {
			return &DefinedCurves[i], nil
		}
	}
	return nil, fmt.Errorf("unsupported ECDSA curve %d (supported curves: %s)", bits, SupportedCurves())
}
