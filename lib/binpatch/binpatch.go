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

// Package binpatch applies sparse binary patches to files. Signing a file
// usually only changes a few regions, so a patch set records just the changed
// regions and can either overwrite them in place or stream a rewritten copy.
package binpatch

import (
	"errors"
	"io"
	"os"
	"sort"

	"github.com/fruitsign/fruitsign/lib/atomicfile"
)

type PatchSet struct {
	Patches []PatchHeader
	Blobs   [][]byte
}

type PatchHeader struct {
	Offset  int64
	OldSize int64
}

func New() *PatchSet {
	return new(PatchSet)
}

// Add appends a patch replacing oldSize bytes at offset with blob. The blob
// may be resized by the caller up until Apply is invoked.
func (p *PatchSet) Add(offset, oldSize int64, blob []byte) {
	p.Patches = append(p.Patches, PatchHeader{Offset: offset, OldSize: oldSize})
	p.Blobs = append(p.Blobs, blob)
}

// Apply writes the patched result of infile to outpath. If outpath is the
// same file as infile and no region changes size then the file is updated in
// place, otherwise a full copy is streamed out and renamed into place.
func (p *PatchSet) Apply(infile *os.File, outpath string) error {
	sort.Stable(byOffset{p})
	var last int64
	for _, hdr := range p.Patches {
		if hdr.Offset < last {
			return errors.New("patches out of order or overlapping")
		}
		last = hdr.Offset + hdr.OldSize
	}
	if p.sameSize() && canOverwrite(infile, outpath) {
		return p.applyInPlace(infile)
	}
	return p.applyRewrite(infile, outpath)
}

// byOffset sorts the patch headers and their blobs in tandem.
type byOffset struct {
	p *PatchSet
}

func (s byOffset) Len() int { return len(s.p.Patches) }

func (s byOffset) Less(i, j int) bool {
	return s.p.Patches[i].Offset < s.p.Patches[j].Offset
}

func (s byOffset) Swap(i, j int) {
	s.p.Patches[i], s.p.Patches[j] = s.p.Patches[j], s.p.Patches[i]
	s.p.Blobs[i], s.p.Blobs[j] = s.p.Blobs[j], s.p.Blobs[i]
}

func (p *PatchSet) sameSize() bool {
	for i, hdr := range p.Patches {
		if hdr.OldSize != int64(len(p.Blobs[i])) {
			return false
		}
	}
	return true
}

func canOverwrite(infile *os.File, outpath string) bool {
	ininfo, err := infile.Stat()
	if err != nil {
		return false
	}
	outinfo, err := os.Lstat(outpath)
	if err != nil || !outinfo.Mode().IsRegular() {
		return false
	}
	return os.SameFile(ininfo, outinfo)
}

func (p *PatchSet) applyInPlace(outfile *os.File) error {
	for i, hdr := range p.Patches {
		if _, err := outfile.WriteAt(p.Blobs[i], hdr.Offset); err != nil {
			return err
		}
	}
	return nil
}

func (p *PatchSet) applyRewrite(infile *os.File, outpath string) error {
	if _, err := infile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	out, err := atomicfile.WriteAny(outpath)
	if err != nil {
		return err
	}
	defer out.Close()
	var pos int64
	for i, hdr := range p.Patches {
		if hdr.Offset > pos {
			if _, err := io.CopyN(out, infile, hdr.Offset-pos); err != nil {
				return err
			}
		}
		if _, err := out.Write(p.Blobs[i]); err != nil {
			return err
		}
		pos = hdr.Offset + hdr.OldSize
		if _, err := infile.Seek(pos, io.SeekStart); err != nil {
			return err
		}
	}
	if _, err := io.Copy(out, infile); err != nil {
		return err
	}
	return out.Commit()
}
