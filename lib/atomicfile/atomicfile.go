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

// Package atomicfile writes files via a temporary sibling so that a partially
// written output never lands at the destination path.
package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// AtomicFile accumulates writes that only become visible at the destination
// when Commit is called. Close without Commit discards them.
type AtomicFile interface {
	io.WriteCloser
	Commit() error
}

type replaceFile struct {
	target string
	tmp    *os.File
}

// New stages writes to path in a temporary file in the same directory,
// renaming it over path on Commit.
func New(path string) (AtomicFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return nil, err
	}
	return &replaceFile{target: path, tmp: tmp}, nil
}

func (f *replaceFile) Write(d []byte) (int, error) {
	return f.tmp.Write(d)
}

func (f *replaceFile) Close() error {
	if f.tmp == nil {
		return nil
	}
	f.tmp.Close()
	err := os.Remove(f.tmp.Name())
	f.tmp = nil
	return err
}

func (f *replaceFile) Commit() error {
	if f.tmp == nil {
		return errors.New("atomic file is already closed")
	}
	// CreateTemp uses 0600, the destination should get normal permissions
	_ = f.tmp.Chmod(0644)
	if err := f.tmp.Close(); err != nil {
		return err
	}
	// windows can't rename over an existing file
	if err := os.Remove(f.target); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(f.tmp.Name(), f.target); err != nil {
		return err
	}
	f.tmp = nil
	return nil
}

// directFile satisfies AtomicFile for destinations that can't be renamed
// into, writing straight through.
type directFile struct {
	*os.File
	ownsFile bool
}

func (f directFile) Commit() error {
	if f.ownsFile {
		return f.File.Close()
	}
	return nil
}

func (f directFile) Close() error {
	if f.ownsFile {
		return f.File.Close()
	}
	return nil
}

// WriteAny returns a writer for path using write-rename when possible. "-"
// selects stdout, and pipes or devices are opened directly since a rename
// would replace the node rather than feed it.
func WriteAny(path string) (AtomicFile, error) {
	if path == "-" {
		return directFile{File: os.Stdout}, nil
	}
	if stat, err := os.Stat(path); err == nil && !stat.Mode().IsRegular() {
		f, err := os.Create(path)
		return directFile{File: f, ownsFile: true}, err
	}
	return New(path)
}
