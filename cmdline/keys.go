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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsign/fruitsign/lib/certloader"
	"github.com/fruitsign/fruitsign/lib/passprompt"
	"github.com/fruitsign/fruitsign/lib/pkcs9"
)

var (
	argKeyFile          string
	argCertFile         string
	argPKCS12File       string
	argTimestampURL     string
	argTimestampTimeout uint
	argTimestampCaFile  string
)

func addKeyFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&argKeyFile, "key", "k", "", "Private key file (PEM or DER)")
	cmd.Flags().StringVarP(&argCertFile, "cert", "c", "", "Certificate chain file (PEM, DER or PKCS#7)")
	cmd.Flags().StringVar(&argPKCS12File, "pkcs12", "", "PKCS#12 file holding the key and certificate chain")
	cmd.Flags().StringVarP(&argTimestampURL, "timestamp-url", "t", "", "URL of a RFC 3161 timestamp server")
	cmd.Flags().UintVar(&argTimestampTimeout, "timestamp-timeout", 60, "Timeout for timestamp requests, in seconds")
	cmd.Flags().StringVar(&argTimestampCaFile, "timestamp-cacert", "", "CA certificates to trust for the timestamp server")
}

func loadKey() (*certloader.Certificate, error) {
	var cert *certloader.Certificate
	var err error
	switch {
	case argPKCS12File != "":
		blob, err2 := os.ReadFile(argPKCS12File)
		if err2 != nil {
			return nil, err2
		}
		cert, err = certloader.ParsePKCS12(blob, passprompt.PasswordPrompt{})
	case argKeyFile != "" && argCertFile != "":
		cert, err = certloader.LoadX509KeyPair(argCertFile, argKeyFile)
	default:
		return nil, errors.New("--pkcs12 or both --key and --cert are required")
	}
	if err != nil {
		return nil, err
	}
	if argTimestampURL != "" {
		cert.Timestamper = pkcs9.TimestampClient{
			URL:     argTimestampURL,
			Timeout: time.Duration(argTimestampTimeout) * time.Second,
			CaFile:  argTimestampCaFile,
		}
	}
	return cert, nil
}
