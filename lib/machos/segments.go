package machos

import (
	"bytes"
	"debug/macho"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fruitsign/fruitsign/lib/csblob"
)

// Segment is a view of a named region of a Mach-O file. It references the
// caller's buffer rather than owning a copy.
type Segment struct {
	Name   string
	Offset int64
	Data   []byte
}

// CodeSegments returns the hashable segments of a Mach-O image in file order.
// __PAGEZERO is skipped since it has no file contents worth covering, and
// __LINKEDIT is truncated at the start of an existing signature so that
// hashes computed before and after signing agree.
func CodeSegments(data []byte) ([]Segment, error) {
	hdr, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	sigStart := signatureStart(hdr)
	var segs []Segment
	var sawLinkEdit bool
	for _, load := range hdr.Loads {
		seg, ok := load.(*macho.Segment)
		if !ok {
			continue
		}
		if seg.Name == segPageZero || seg.Filesz == 0 {
			continue
		}
		start, length := int64(seg.Offset), int64(seg.Filesz)
		if seg.Name == segLinkEdit {
			sawLinkEdit = true
			if sigStart > start && sigStart < start+length {
				length = sigStart - start
			}
		}
		if start < 0 || start+length > int64(len(data)) {
			return nil, fmt.Errorf("segment %s extends past end of file", seg.Name)
		}
		segs = append(segs, Segment{Name: seg.Name, Offset: start, Data: data[start : start+length]})
	}
	if !sawLinkEdit {
		return nil, MissingLinkeditError{}
	}
	return segs, nil
}

// SegmentDigests hashes each segment's pages, fanning out across segments and
// joining the results back in segment order so that slot numbering is
// deterministic.
func SegmentDigests(segments []Segment, hashType csblob.HashType, pageSize int) ([][]byte, error) {
	results := make([][][]byte, len(segments))
	var eg errgroup.Group
	for i, seg := range segments {
		i, seg := i, seg
		eg.Go(func() error {
			digests, err := csblob.PagedDigests(seg.Data, hashType, pageSize)
			if err != nil {
				return fmt.Errorf("segment %s: %w", seg.Name, err)
			}
			results[i] = digests
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	var flat [][]byte
	for _, digests := range results {
		flat = append(flat, digests...)
	}
	return flat, nil
}

// ComputeCodeHashes walks the segments of a Mach-O image and produces the
// ordered code slot digests.
func ComputeCodeHashes(data []byte, hashType csblob.HashType, pageSize int) ([][]byte, error) {
	segs, err := CodeSegments(data)
	if err != nil {
		return nil, err
	}
	return SegmentDigests(segs, hashType, pageSize)
}

func signatureStart(hdr *macho.File) int64 {
	for _, load := range hdr.Loads {
		raw := load.Raw()
		if macho.LoadCmd(hdr.ByteOrder.Uint32(raw)) != loadCmdCodeSignature || len(raw) != 16 {
			continue
		}
		return int64(hdr.ByteOrder.Uint32(raw[8:]))
	}
	return 0
}
