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
	"encoding/asn1"
	"errors"
	"strings"
)

// NewFreeText builds a PKIFreeText from plain strings.
func NewFreeText(messages ...string) (PKIFreeText, error) {
	var ft PKIFreeText
	for _, msg := range messages {
		der, err := asn1.MarshalWithParams(msg, "utf8")
		if err != nil {
			return nil, err
		}
		var raw asn1.RawValue
		if _, err := asn1.Unmarshal(der, &raw); err != nil {
			return nil, err
		}
		ft = append(ft, raw)
	}
	return ft, nil
}

// Marshal encodes the text as SEQUENCE OF UTF8String.
func (ft PKIFreeText) Marshal() ([]byte, error) {
	return asn1.Marshal([]asn1.RawValue(ft))
}

// UnmarshalFreeText decodes a SEQUENCE OF UTF8String, stopping at the first
// element that is not a UTF8String and rejecting trailing bytes within the
// sequence.
func UnmarshalFreeText(der []byte) (PKIFreeText, error) {
	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(der, &seq)
	if err != nil {
		return nil, err
	} else if len(rest) != 0 {
		return nil, errors.New("pkcs9: trailing bytes after free text")
	}
	if seq.Class != asn1.ClassUniversal || seq.Tag != asn1.TagSequence || !seq.IsCompound {
		return nil, errors.New("pkcs9: free text is not a sequence")
	}
	var ft PKIFreeText
	inner := seq.Bytes
	for len(inner) > 0 {
		var raw asn1.RawValue
		inner, err = asn1.Unmarshal(inner, &raw)
		if err != nil {
			return nil, err
		}
		if raw.Class != asn1.ClassUniversal || raw.Tag != asn1.TagUTF8String {
			break
		}
		ft = append(ft, raw)
	}
	return ft, nil
}

// Strings returns the decoded messages.
func (ft PKIFreeText) Strings() []string {
	msgs := make([]string, len(ft))
	for i, raw := range ft {
		msgs[i] = string(raw.Bytes)
	}
	return msgs
}

func (ft PKIFreeText) String() string {
	return strings.Join(ft.Strings(), "; ")
}
