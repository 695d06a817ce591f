// Package machos signs and verifies Mach-O executables by splicing an
// embedded signature superblob into the __LINKEDIT segment.
package machos

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"errors"
	"io"

	"github.com/fruitsign/fruitsign/lib/binpatch"
)

const (
	loadCmdCodeSignature macho.LoadCmd = 0x1d

	segPageZero      = "__PAGEZERO"
	segLinkEdit      = "__LINKEDIT"
	alignSegmentFile = 8
	alignSegmentMem  = 4096
)

// MissingLinkeditError indicates the binary lacks the __LINKEDIT segment
// that holds signature data.
type MissingLinkeditError struct{}

func (MissingLinkeditError) Error() string {
	return "mach-O binary has no __LINKEDIT segment"
}

// machoMarkers records the file offsets a signing pass needs to rewrite: the
// signature load command, the __LINKEDIT bounds, and where new load commands
// can be appended.
type machoMarkers struct {
	ByteOrder binary.ByteOrder
	Magic     uint32

	// start and length of the existing signature region
	sigStart int64
	sigLen   int64
	// position of the signature load command, 0 if unsigned
	sigCmdPos int64
	// position and contents of the __LINKEDIT segment header
	linkEditPos int64
	linkEditSeg macho.SegmentHeader
	// end of the load command area
	loadCmdsEnd int64
	// lowest section offset, which caps load command growth
	firstSection int64
	// bytes of the image not covered by the signature
	codeSize int64
}

// scanFile walks the load commands of a Mach-O image, recording the offsets
// needed to patch a signature in.
func scanFile(r io.Reader) (*machoMarkers, error) {
	f := new(machoMarkers)
	var ident [4]byte
	if _, err := io.ReadFull(r, ident[:]); err != nil {
		return nil, err
	}
	// Magic32 and Magic64 differ only in the low bit
	switch {
	case binary.LittleEndian.Uint32(ident[:])&^1 == macho.Magic32&^1:
		f.ByteOrder = binary.LittleEndian
	case binary.BigEndian.Uint32(ident[:])&^1 == macho.Magic32&^1:
		f.ByteOrder = binary.BigEndian
	default:
		return nil, errors.New("not a mach-O binary")
	}
	f.Magic = f.ByteOrder.Uint32(ident[:])
	var hdr struct {
		Cpu    uint32
		SubCpu uint32
		Type   uint32
		Ncmd   uint32
		Cmdsz  uint32
		Flags  uint32
	}
	if err := binary.Read(r, f.ByteOrder, &hdr); err != nil {
		return nil, err
	}
	headerSize := int64(28)
	if f.Magic == macho.Magic64 {
		// reserved field
		if _, err := io.ReadFull(r, ident[:]); err != nil {
			return nil, err
		}
		headerSize += 4
	}
	cmds := make([]byte, hdr.Cmdsz)
	if _, err := io.ReadFull(r, cmds); err != nil {
		return nil, err
	}
	f.loadCmdsEnd = headerSize + int64(len(cmds))
	f.firstSection = 1<<63 - 1
	pos := headerSize
	for i := 0; i < int(hdr.Ncmd); i++ {
		if len(cmds) < 8 {
			return nil, errors.New("truncated load command")
		}
		cmd := macho.LoadCmd(f.ByteOrder.Uint32(cmds))
		size := f.ByteOrder.Uint32(cmds[4:])
		if size < 8 || size > uint32(len(cmds)) {
			return nil, errors.New("invalid load command size")
		}
		var body []byte
		body, cmds = cmds[:size], cmds[size:]
		var err error
		switch cmd {
		case macho.LoadCmdSegment:
			err = f.noteSegment32(pos, body)
		case macho.LoadCmdSegment64:
			err = f.noteSegment64(pos, body)
		case loadCmdCodeSignature:
			err = f.noteSignature(pos, body)
		}
		if err != nil {
			return nil, err
		}
		pos += int64(size)
	}
	if f.linkEditPos == 0 {
		return nil, MissingLinkeditError{}
	}
	linkEditEnd := int64(f.linkEditSeg.Offset + f.linkEditSeg.Filesz)
	if f.sigLen == 0 {
		f.codeSize = linkEditEnd
		return f, nil
	}
	f.codeSize = f.sigStart
	if sigEnd := f.sigStart + f.sigLen; sigEnd > linkEditEnd || sigEnd < linkEditEnd-16 {
		return nil, errors.New("old signature is not coterminous with __LINKEDIT segment")
	}
	return f, nil
}

func (f *machoMarkers) noteSegment32(pos int64, body []byte) error {
	var seg macho.Segment32
	b := bytes.NewReader(body)
	if err := binary.Read(b, f.ByteOrder, &seg); err != nil {
		return err
	}
	if cstring(seg.Name[:]) == segLinkEdit {
		f.linkEditPos = pos
		f.linkEditSeg = macho.SegmentHeader{
			Addr:   uint64(seg.Addr),
			Memsz:  uint64(seg.Memsz),
			Offset: uint64(seg.Offset),
			Filesz: uint64(seg.Filesz),
		}
	}
	for i := 0; i < int(seg.Nsect); i++ {
		var sh macho.Section32
		if err := binary.Read(b, f.ByteOrder, &sh); err != nil {
			return err
		}
		f.noteSection(int64(sh.Offset), int64(sh.Size))
	}
	return nil
}

func (f *machoMarkers) noteSegment64(pos int64, body []byte) error {
	var seg macho.Segment64
	b := bytes.NewReader(body)
	if err := binary.Read(b, f.ByteOrder, &seg); err != nil {
		return err
	}
	if cstring(seg.Name[:]) == segLinkEdit {
		f.linkEditPos = pos
		f.linkEditSeg = macho.SegmentHeader{
			Addr:   seg.Addr,
			Memsz:  seg.Memsz,
			Offset: seg.Offset,
			Filesz: seg.Filesz,
		}
	}
	for i := 0; i < int(seg.Nsect); i++ {
		var sh macho.Section64
		if err := binary.Read(b, f.ByteOrder, &sh); err != nil {
			return err
		}
		f.noteSection(int64(sh.Offset), int64(sh.Size))
	}
	return nil
}

func (f *machoMarkers) noteSection(offset, size int64) {
	if size != 0 && offset != 0 && offset < f.firstSection {
		f.firstSection = offset
	}
}

func (f *machoMarkers) noteSignature(pos int64, body []byte) error {
	if len(body) < 16 {
		return errors.New("truncated signature load command")
	}
	f.sigCmdPos = pos
	f.sigStart = int64(f.ByteOrder.Uint32(body[8:]))
	f.sigLen = int64(f.ByteOrder.Uint32(body[12:]))
	return nil
}

// PatchSignature builds the patch set that makes room for a signature of
// sigSize bytes. The returned sigBuf is the reserved region inside the patch,
// to be filled by the caller once the signature is built.
func (f *machoMarkers) PatchSignature(oldHeader []byte, sigSize int64) (newHeader, sigBuf []byte, sigStart int64, patch *binpatch.PatchSet, padding int64, err error) {
	patch = binpatch.New()
	newHeader = oldHeader
	sigStart = f.sigStart
	if f.sigLen >= sigSize {
		// the existing region is big enough, just overwrite it
		sigBuf = make([]byte, f.sigLen)
		patch.Add(f.sigStart, f.sigLen, sigBuf)
		return
	}
	sigSize = align(sigSize, alignSegmentFile)
	if sigStart == 0 {
		// unsigned binary, append after the current end of __LINKEDIT
		sigStart = align(f.codeSize, alignSegmentFile)
	}
	padding = sigStart - f.codeSize
	padded := make([]byte, padding+sigSize)
	sigBuf = padded[padding:]
	if newHeader, err = f.reserveLoadCmd(newHeader, patch); err != nil {
		return
	}
	f.growLinkEdit(newHeader, patch, sigStart, sigSize)
	f.writeLoadCmd(newHeader, patch, sigStart, sigSize)
	patch.Add(f.codeSize, f.sigLen, padded)
	return
}

// reserveLoadCmd extends the load command area by one 16-byte command if the
// binary doesn't already have a signature command.
func (f *machoMarkers) reserveLoadCmd(newHeader []byte, patch *binpatch.PatchSet) ([]byte, error) {
	if f.sigCmdPos != 0 {
		return newHeader, nil
	}
	f.sigCmdPos = f.loadCmdsEnd
	if f.sigCmdPos+16 > f.firstSection {
		return nil, errors.New("no room for a signature load command before the first section")
	}
	if int64(len(newHeader)) < f.sigCmdPos+16 {
		buf := make([]byte, f.sigCmdPos+16)
		copy(buf, newHeader)
		newHeader = buf
	}
	// ncmd and cmdsz live at fixed offsets 16 and 20
	f.ByteOrder.PutUint32(newHeader[16:], f.ByteOrder.Uint32(newHeader[16:])+1)
	f.ByteOrder.PutUint32(newHeader[20:], f.ByteOrder.Uint32(newHeader[20:])+16)
	patch.Add(16, 8, newHeader[16:24])
	return newHeader, nil
}

func (f *machoMarkers) writeLoadCmd(newHeader []byte, patch *binpatch.PatchSet, sigStart, sigSize int64) {
	cmd := newHeader[f.sigCmdPos : f.sigCmdPos+16]
	f.ByteOrder.PutUint32(cmd, uint32(loadCmdCodeSignature))
	f.ByteOrder.PutUint32(cmd[4:], 16)
	f.ByteOrder.PutUint32(cmd[8:], uint32(sigStart))
	f.ByteOrder.PutUint32(cmd[12:], uint32(sigSize))
	patch.Add(f.sigCmdPos, 16, cmd)
}

// growLinkEdit stretches __LINKEDIT to cover the new signature region, with
// the in-memory size rounded up to a page.
func (f *machoMarkers) growLinkEdit(newHeader []byte, patch *binpatch.PatchSet, sigStart, sigSize int64) {
	end := uint64(sigStart + sigSize)
	filesz := end - f.linkEditSeg.Offset
	memsz := uint64(align(int64(filesz), alignSegmentMem))
	var start, size int64
	if f.Magic == macho.Magic64 {
		f.ByteOrder.PutUint64(newHeader[f.linkEditPos+32:], memsz)
		f.ByteOrder.PutUint64(newHeader[f.linkEditPos+48:], filesz)
		start, size = f.linkEditPos+32, 24
	} else {
		f.ByteOrder.PutUint32(newHeader[f.linkEditPos+28:], uint32(memsz))
		f.ByteOrder.PutUint32(newHeader[f.linkEditPos+36:], uint32(filesz))
		start, size = f.linkEditPos+28, 12
	}
	patch.Add(start, size, newHeader[start:start+size])
}

func cstring(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[0:i])
}

func align(addr, align int64) int64 {
	n := addr % align
	if n != 0 {
		addr += align - n
	}
	return addr
}
