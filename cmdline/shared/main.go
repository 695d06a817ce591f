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

package shared

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var argDebug bool

var RootCmd = &cobra.Command{
	Use:              "fruitsign",
	Short:            "Sign and verify Mach-O executables",
	PersistentPreRun: setupLogging,
	SilenceUsage:     true,
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&argDebug, "debug", false, "Show debug output")
}

func setupLogging(cmd *cobra.Command, args []string) {
	level := zerolog.InfoLevel
	if argDebug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// OpenFile opens a file for reading, with "-" meaning stdin
func OpenFile(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

func Fail(err error) error {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(70)
	}
	return err
}

func Main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
