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

package cmdline

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fruitsign/fruitsign/cmdline/shared"
	"github.com/fruitsign/fruitsign/lib/csblob"
	"github.com/fruitsign/fruitsign/lib/machos"
	"github.com/fruitsign/fruitsign/lib/magic"
	"github.com/fruitsign/fruitsign/lib/x509tools"
)

var ShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Dump the signature of a Mach-O binary or a detached signature blob",
	Args:  cobra.ExactArgs(1),
	RunE:  showCmd,
}

func init() {
	shared.RootCmd.AddCommand(ShowCmd)
}

type dirInfo struct {
	Identity     string `json:"identity"`
	TeamID       string `json:"team_id,omitempty"`
	Flags        string `json:"flags"`
	Digest       string `json:"digest"`
	CDHash       string `json:"cdhash"`
	CodeLimit    int64  `json:"code_limit"`
	PageSize     int    `json:"page_size"`
	CodeSlots    int    `json:"code_slots"`
	SpecialSlots int    `json:"special_slots"`
}

type sigInfo struct {
	Directories  []dirInfo `json:"directories"`
	Requirements []string  `json:"requirements,omitempty"`
	Entitlements string    `json:"entitlements,omitempty"`
	Certificates []string  `json:"certificates,omitempty"`
	NotaryTicket bool      `json:"notary_ticket,omitempty"`
}

func showCmd(cmd *cobra.Command, args []string) error {
	f, err := shared.OpenFile(args[0])
	if err != nil {
		return shared.Fail(err)
	}
	defer f.Close()
	var blob []byte
	switch magic.Detect(f) {
	case magic.FileTypeMachO:
		blob, err = machos.ExtractSignature(f)
	case magic.FileTypeSignatureBlob:
		if _, err = f.Seek(0, io.SeekStart); err == nil {
			blob, err = io.ReadAll(f)
		}
	case magic.FileTypeMachOFat:
		err = errors.New("universal binaries must be split into single-architecture slices first")
	default:
		err = errors.New("not a Mach-O binary or signature blob")
	}
	if err != nil {
		return shared.Fail(err)
	}
	sig, err := csblob.Parse(blob)
	if err != nil {
		return shared.Fail(err)
	}
	info := &sigInfo{NotaryTicket: sig.NotaryTicket != nil}
	for _, dir := range sig.Directories {
		pageSize := 0
		if dir.Header.PageSizeLog2 != 0 {
			pageSize = 1 << dir.Header.PageSizeLog2
		}
		codeLimit := int64(dir.Header.CodeLimit)
		if dir.Header.CodeLimit64 != 0 {
			codeLimit = dir.Header.CodeLimit64
		}
		info.Directories = append(info.Directories, dirInfo{
			Identity:     dir.SigningIdentity,
			TeamID:       dir.TeamIdentifier,
			Flags:        fmt.Sprintf("0x%x", uint32(dir.Header.Flags)),
			Digest:       dir.HashFunc.String(),
			CDHash:       hex.EncodeToString(dir.CDHash),
			CodeLimit:    codeLimit,
			PageSize:     pageSize,
			CodeSlots:    len(dir.CodeHashes),
			SpecialSlots: int(dir.Header.SpecialSlotCount),
		})
	}
	if sig.RawRequirements != nil {
		reqs, err := csblob.ParseRequirements(sig.RawRequirements)
		if err != nil {
			return shared.Fail(err)
		}
		for rtype := range reqs {
			info.Requirements = append(info.Requirements, rtype.String())
		}
	}
	if len(sig.Entitlement) > 8 {
		info.Entitlements = string(sig.Entitlement[8:])
	}
	if sig.CMS != nil {
		certs, err := sig.CMS.Content.Certificates.Parse()
		if err != nil {
			return shared.Fail(err)
		}
		for _, cert := range certs {
			info.Certificates = append(info.Certificates, x509tools.FormatSubject(cert))
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
