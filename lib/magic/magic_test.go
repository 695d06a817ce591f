package magic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBytes(t *testing.T) {
	tests := []struct {
		name     string
		blob     []byte
		expected FileType
	}{
		{"macho64le", []byte{0xcf, 0xfa, 0xed, 0xfe, 0x0c, 0x00}, FileTypeMachO},
		{"macho64be", []byte{0xfe, 0xed, 0xfa, 0xcf, 0x00, 0x00}, FileTypeMachO},
		{"macho32", []byte{0xfe, 0xed, 0xfa, 0xce}, FileTypeMachO},
		{"fat", []byte{0xca, 0xfe, 0xba, 0xbe, 0x00, 0x00, 0x00, 0x02}, FileTypeMachOFat},
		{"embedded sig", []byte{0xfa, 0xde, 0x0c, 0xc0, 0x00, 0x00, 0x01, 0x00}, FileTypeSignatureBlob},
		{"detached sig", []byte{0xfa, 0xde, 0x0c, 0xc1}, FileTypeSignatureBlob},
		{"pkcs7", append([]byte{0x30, 0x80}, pkcs7SignedData...), FileTypePKCS7},
		{"empty", nil, FileTypeUnknown},
		{"text", []byte("#!/bin/sh\n"), FileTypeUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DetectBytes(tc.blob))
			assert.Equal(t, tc.expected, Detect(bytes.NewReader(tc.blob)))
		})
	}
}
