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

package x509tools

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

type ecdsaSignature struct {
	R, S *big.Int
}

// Verify a signature made over a digest. If hash is 0 then for RSA keys the
// digest is assumed to be packed into a DigestInfo structure already,
// otherwise it is wrapped before the padding check.
func Verify(pub crypto.PublicKey, hash crypto.Hash, digest, sig []byte) error {
	switch pubk := pub.(type) {
	case *rsa.PublicKey:
		if hash == 0 {
			return rsa.VerifyPKCS1v15(pubk, 0, digest, sig)
		}
		return rsa.VerifyPKCS1v15(pubk, hash, digest, sig)
	case *ecdsa.PublicKey:
		esig := new(ecdsaSignature)
		if rest, err := asn1.Unmarshal(sig, esig); err != nil {
			return fmt.Errorf("unmarshalling ECDSA signature: %w", err)
		} else if len(rest) != 0 {
			return errors.New("trailing bytes after ECDSA signature")
		}
		if !ecdsa.Verify(pubk, digest, esig.R, esig.S) {
			return errors.New("ECDSA verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}

// SameKey returns true if the two public or private keys refer to the same
// key pair.
func SameKey(a, b interface{}) bool {
	type publicKeyed interface {
		Public() crypto.PublicKey
	}
	if priv, ok := a.(publicKeyed); ok {
		a = priv.Public()
	}
	if priv, ok := b.(publicKeyed); ok {
		b = priv.Public()
	}
	switch ak := a.(type) {
	case *rsa.PublicKey:
		bk, ok := b.(*rsa.PublicKey)
		return ok && ak.E == bk.E && ak.N.Cmp(bk.N) == 0
	case *ecdsa.PublicKey:
		bk, ok := b.(*ecdsa.PublicKey)
		return ok && ak.X.Cmp(bk.X) == 0 && ak.Y.Cmp(bk.Y) == 0
	default:
		return false
	}
}
