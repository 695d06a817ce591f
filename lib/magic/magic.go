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

// Package magic sniffs file types from their leading bytes.
package magic

import (
	"bytes"
	"io"
)

type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeMachO
	FileTypeMachOFat
	FileTypeSignatureBlob
	FileTypePKCS7
)

var pkcs7SignedData = []byte{0x06, 0x09, 0x2A, 0x86, 0x48, 0x86, 0xF7, 0x0D, 0x01, 0x07, 0x02}

func Detect(r io.Reader) FileType {
	var buf [64]byte
	n, _ := io.ReadFull(r, buf[:])
	return DetectBytes(buf[:n])
}

func DetectBytes(blob []byte) FileType {
	switch {
	case bytes.HasPrefix(blob, []byte{0xfe, 0xed, 0xfa, 0xce}),
		bytes.HasPrefix(blob, []byte{0xfe, 0xed, 0xfa, 0xcf}),
		bytes.HasPrefix(blob, []byte{0xce, 0xfa, 0xed, 0xfe}),
		bytes.HasPrefix(blob, []byte{0xcf, 0xfa, 0xed, 0xfe}):
		return FileTypeMachO
	case bytes.HasPrefix(blob, []byte{0xca, 0xfe, 0xba, 0xbe}),
		bytes.HasPrefix(blob, []byte{0xca, 0xfe, 0xba, 0xbf}):
		return FileTypeMachOFat
	case bytes.HasPrefix(blob, []byte{0xfa, 0xde, 0x0c, 0xc0}),
		bytes.HasPrefix(blob, []byte{0xfa, 0xde, 0x0c, 0xc1}):
		return FileTypeSignatureBlob
	case bytes.Contains(blob, pkcs7SignedData):
		return FileTypePKCS7
	}
	return FileTypeUnknown
}
