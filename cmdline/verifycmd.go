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

	"github.com/spf13/cobra"

	"github.com/fruitsign/fruitsign/cmdline/shared"
	"github.com/fruitsign/fruitsign/lib/machos"
	"github.com/fruitsign/fruitsign/lib/magic"
	"github.com/fruitsign/fruitsign/lib/x509tools"
)

var VerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify signed Mach-O executables",
	RunE:  verifyCmd,
}

var argNoIntegrityCheck bool

func init() {
	shared.RootCmd.AddCommand(VerifyCmd)
	VerifyCmd.Flags().BoolVar(&argNoIntegrityCheck, "no-integrity-check", false, "Bypass the code page hashes and only inspect the signature itself")
	VerifyCmd.Flags().StringVar(&argInfoPlist, "info-plist", "", "Path to bundle Info.plist bound to the signature")
	VerifyCmd.Flags().StringVar(&argResources, "resources", "", "Path to bundle CodeResources bound to the signature")
}

func verifyCmd(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("expected 1 or more files")
	}
	rc := 0
	for _, path := range args {
		if err := verifyOne(path); err != nil {
			fmt.Printf("%s ERROR: %s\n", path, err)
			rc = 1
		}
	}
	if rc != 0 {
		fmt.Fprintln(os.Stderr, "ERROR: 1 or more files did not validate")
		os.Exit(rc)
	}
	return nil
}

func verifyOne(path string) error {
	f, err := shared.OpenFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	switch magic.Detect(f) {
	case magic.FileTypeMachO:
	case magic.FileTypeMachOFat:
		return errors.New("universal binaries must be split into single-architecture slices first")
	default:
		return errors.New("not a Mach-O binary")
	}
	infoPlist, err := readOptional(argInfoPlist)
	if err != nil {
		return err
	}
	resources, err := readOptional(argResources)
	if err != nil {
		return err
	}
	sig, err := machos.Verify(f, infoPlist, resources, argNoIntegrityCheck)
	if err != nil {
		return err
	}
	dir := sig.Blob.Directories[0]
	fmt.Printf("%s OK - identity=%q team=%q digest=%s cert=%q\n",
		path, dir.SigningIdentity, dir.TeamIdentifier, sig.HashFunc,
		x509tools.FormatSubject(sig.Signature.Certificate))
	if ts := sig.Signature.CounterSignature; ts != nil {
		fmt.Printf("  timestamped at %s by %q\n",
			ts.SigningTime, x509tools.FormatSubject(ts.Certificate))
	}
	return nil
}
