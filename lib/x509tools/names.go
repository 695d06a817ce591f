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
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
)

func FormatRDNSequence(seq pkix.RDNSequence) string {
	formatted := make([]string, 0, len(seq))
	for _, rdn := range seq {
		elems := make([]string, 0, len(rdn))
		for _, att := range rdn {
			val, ok := att.Value.(string)
			if !ok {
				continue
			}
			var attname string
			t := att.Type
			if len(t) == 4 && t[0] == 2 && t[1] == 5 && t[2] == 4 {
				switch t[3] {
				case 3:
					attname = "CN"
				case 5:
					attname = "serialNumber"
				case 6:
					attname = "C"
				case 7:
					attname = "L"
				case 8:
					attname = "ST"
				case 10:
					attname = "O"
				case 11:
					attname = "OU"
				}
			}
			if attname == "" {
				elems = append(elems, fmt.Sprintf("%s=%s", att.Type, val))
			} else {
				elems = append(elems, fmt.Sprintf("%s=%s", attname, val))
			}
		}
		formatted = append(formatted, strings.Join(elems, "+"))
	}
	if len(formatted) == 0 {
		return ""
	}
	return "/" + strings.Join(formatted, "/") + "/"
}

func FormatSubject(cert *x509.Certificate) string {
	var seq pkix.RDNSequence
	if _, err := asn1.Unmarshal(cert.RawSubject, &seq); err != nil {
		return ""
	}
	return FormatRDNSequence(seq)
}

func FormatIssuer(cert *x509.Certificate) string {
	var seq pkix.RDNSequence
	if _, err := asn1.Unmarshal(cert.RawIssuer, &seq); err != nil {
		return ""
	}
	return FormatRDNSequence(seq)
}
