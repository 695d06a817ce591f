package csblob

import (
	"crypto"
	"fmt"
	"hash"
	"io"

	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// HashType is the digest algorithm selector stored in the CodeDirectory
// header. Values are from CSCommon.h.
type HashType uint8

const (
	HashNone HashType = iota
	HashSHA1
	HashSHA256
	HashSHA256Truncated
	HashSHA384
	HashSHA512
)

const defaultPageSizeLog2 = 12

// UnsupportedAlgorithmError indicates a hash type with no implementation
// linked in.
type UnsupportedAlgorithmError struct {
	HashType HashType
}

func (e UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported hash type %d", e.HashType)
}

func (t HashType) String() string {
	switch t {
	case HashNone:
		return "none"
	case HashSHA1:
		return "sha1"
	case HashSHA256:
		return "sha256"
	case HashSHA256Truncated:
		return "sha256-truncated"
	case HashSHA384:
		return "sha384"
	case HashSHA512:
		return "sha512"
	}
	return fmt.Sprintf("hashType(%d)", uint8(t))
}

// Size returns the number of digest bytes recorded per slot.
func (t HashType) Size() int {
	switch t {
	case HashNone:
		return 0
	case HashSHA1, HashSHA256Truncated:
		return 20
	case HashSHA256:
		return 32
	case HashSHA384:
		return 48
	case HashSHA512:
		return 64
	}
	return 0
}

// New returns a hasher producing exactly Size() bytes per sum.
func (t HashType) New() (hash.Hash, error) {
	switch t {
	case HashSHA1:
		return crypto.SHA1.New(), nil
	case HashSHA256:
		return crypto.SHA256.New(), nil
	case HashSHA256Truncated:
		return &truncatedHash{Hash: crypto.SHA256.New(), size: 20}, nil
	case HashSHA384:
		return crypto.SHA384.New(), nil
	case HashSHA512:
		return crypto.SHA512.New(), nil
	}
	return nil, UnsupportedAlgorithmError{HashType: t}
}

// Digest hashes data in one shot.
func (t HashType) Digest(data []byte) ([]byte, error) {
	h, err := t.New()
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// truncatedHash trims sums to a fixed prefix, for the truncated SHA-256 slot
// format.
type truncatedHash struct {
	hash.Hash
	size int
}

func (t *truncatedHash) Sum(b []byte) []byte {
	sum := t.Hash.Sum(nil)
	return append(b, sum[:t.size]...)
}

func (t *truncatedHash) Size() int {
	return t.size
}

func hashFunc(hashType HashType, hashLen uint8) (crypto.Hash, error) {
	var h crypto.Hash
	switch hashType {
	case HashSHA1:
		h = crypto.SHA1
	case HashSHA256:
		h = crypto.SHA256
	case HashSHA384:
		h = crypto.SHA384
	case HashSHA512:
		h = crypto.SHA512
	}
	if h == 0 {
		return 0, UnsupportedAlgorithmError{HashType: hashType}
	} else if h.Size() != int(hashLen) {
		return 0, fmt.Errorf("expected size %d for hash %s but got %d", h.Size(), hashType, hashLen)
	}
	return h, nil
}

func hashType(h crypto.Hash) (HashType, error) {
	switch h {
	case crypto.SHA1:
		return HashSHA1, nil
	case crypto.SHA256:
		return HashSHA256, nil
	case crypto.SHA384:
		return HashSHA384, nil
	case crypto.SHA512:
		return HashSHA512, nil
	default:
		return 0, fmt.Errorf("unsupported hash type %s", h)
	}
}

// PagedDigests splits data into pageSize chunks, digesting each one
// independently in order. The final chunk is hashed at its true length. The
// result holds ceil(len(data)/pageSize) digests.
func PagedDigests(data []byte, hashType HashType, pageSize int) ([][]byte, error) {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", pageSize)
	}
	h, err := hashType.New()
	if err != nil {
		return nil, err
	}
	digests := make([][]byte, 0, (len(data)+pageSize-1)/pageSize)
	for len(data) > 0 {
		n := pageSize
		if n > len(data) {
			n = len(data)
		}
		h.Reset()
		h.Write(data[:n])
		digests = append(digests, h.Sum(nil))
		data = data[n:]
	}
	return digests, nil
}

// hashPages digests a stream one page at a time for each of the given hash
// functions in parallel, returning the packed slot bytes per function.
func hashPages(hashFuncs []crypto.Hash, pages io.Reader) (slots [][]byte, slotCount uint32, codeLimit int64, err error) {
	hashers := make([]hash.Hash, len(hashFuncs))
	slots = make([][]byte, len(hashFuncs))
	for i, f := range hashFuncs {
		hashers[i] = f.New()
	}
	buf := make([]byte, 1<<defaultPageSizeLog2)
	for {
		var n int
		n, err = io.ReadFull(pages, buf)
		if n <= 0 {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = nil
			}
			return
		}
		for i, h := range hashers {
			h.Reset()
			h.Write(buf[:n])
			slots[i] = h.Sum(slots[i])
		}
		codeLimit += int64(n)
		slotCount++
	}
}
