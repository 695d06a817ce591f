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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fruitsign/fruitsign/cmdline/shared"
	"github.com/fruitsign/fruitsign/lib/binpatch"
	"github.com/fruitsign/fruitsign/lib/csblob"
	"github.com/fruitsign/fruitsign/lib/machos"
	"github.com/fruitsign/fruitsign/lib/magic"
	"github.com/fruitsign/fruitsign/lib/x509tools"
)

var SignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a Mach-O executable",
	RunE:  signCmd,
}

var (
	argFile            string
	argOutput          string
	argInfoPlist       string
	argResources       string
	argEntitlements    string
	argRequirements    string
	argHash            string
	argBundleID        string
	argHardenedRuntime bool
)

func init() {
	shared.RootCmd.AddCommand(SignCmd)
	addKeyFlags(SignCmd)
	SignCmd.Flags().StringVarP(&argFile, "file", "f", "", "Input file to sign")
	SignCmd.Flags().StringVarP(&argOutput, "output", "o", "", "Output file. Defaults to same as input")
	SignCmd.Flags().StringVar(&argInfoPlist, "info-plist", "", "Path to bundle Info.plist to bind to the signature")
	SignCmd.Flags().StringVar(&argResources, "resources", "", "Path to bundle CodeResources to bind to the signature")
	SignCmd.Flags().StringVar(&argEntitlements, "entitlements", "", "Path to entitlements plist to embed")
	SignCmd.Flags().StringVar(&argRequirements, "requirements", "", "Path to compiled requirement set to embed")
	SignCmd.Flags().StringVar(&argHash, "digest", "sha256", "Digest algorithm for code pages (sha1, sha256, sha384)")
	SignCmd.Flags().StringVar(&argBundleID, "bundle-id", "", "Signing identity. Defaults to the bundle ID from Info.plist")
	SignCmd.Flags().BoolVar(&argHardenedRuntime, "hardened-runtime", false, "Enable the hardened runtime flag")
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func signCmd(cmd *cobra.Command, args []string) error {
	if argFile == "" {
		return errors.New("--file is required")
	}
	hashFunc := x509tools.HashByName(strings.ToUpper(argHash))
	if hashFunc == 0 {
		return shared.Fail(fmt.Errorf("unsupported digest %q", argHash))
	}
	cert, err := loadKey()
	if err != nil {
		return shared.Fail(err)
	}
	params := &csblob.SignatureParams{
		HashFunc:        hashFunc,
		SigningIdentity: argBundleID,
	}
	if argHardenedRuntime {
		params.Flags |= csblob.FlagRuntime
	}
	if params.InfoPlist, err = readOptional(argInfoPlist); err != nil {
		return shared.Fail(err)
	}
	if params.Resources, err = readOptional(argResources); err != nil {
		return shared.Fail(err)
	}
	if params.Entitlement, err = readOptional(argEntitlements); err != nil {
		return shared.Fail(err)
	}
	if params.Requirements, err = readOptional(argRequirements); err != nil {
		return shared.Fail(err)
	}
	infile, closeFile, err := binpatch.OpenFile(argFile)
	if err != nil {
		return shared.Fail(err)
	}
	defer closeFile()
	if fileType := magic.Detect(infile); fileType != magic.FileTypeMachO {
		if fileType == magic.FileTypeMachOFat {
			return shared.Fail(errors.New("universal binaries must be split into single-architecture slices first"))
		}
		return shared.Fail(errors.New("not a Mach-O binary"))
	}
	if _, err := infile.Seek(0, 0); err != nil {
		return shared.Fail(err)
	}
	patch, tssig, err := machos.Sign(cmd.Context(), infile, cert, params)
	if err != nil {
		return shared.Fail(err)
	}
	output := argOutput
	if output == "" {
		output = argFile
	}
	if err := patch.Apply(infile, output); err != nil {
		return shared.Fail(err)
	}
	ev := log.Info().
		Str("file", argFile).
		Str("identity", params.SigningIdentity).
		Stringer("digest", hashFunc)
	if tssig.CounterSignature != nil {
		ev = ev.Time("timestamp", tssig.CounterSignature.SigningTime)
	}
	ev.Msg("signed Mach-O binary")
	return nil
}
