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

// Package passprompt obtains key passwords from a terminal or a fixed source.
package passprompt

import (
	"errors"
	"os"

	"github.com/howeyc/gopass"
)

type PasswordGetter interface {
	GetPasswd(prompt string) (string, error)
}

// PasswordPrompt reads a password from the controlling terminal without echo.
type PasswordPrompt struct{}

func (PasswordPrompt) GetPasswd(prompt string) (string, error) {
	passwd, err := gopass.GetPasswdPrompt(prompt, false, os.Stdin, os.Stderr)
	if err == gopass.ErrInterrupted {
		return "", errors.New("aborted")
	} else if err != nil {
		return "", err
	}
	return string(passwd), nil
}

// Static returns a fixed password once, then fails. Prevents retry loops from
// spinning when the supplied password is wrong.
type Static struct {
	Password string
	used     bool
}

func (s *Static) GetPasswd(string) (string, error) {
	if s.used {
		return "", errors.New("incorrect password")
	}
	s.used = true
	return s.Password, nil
}
