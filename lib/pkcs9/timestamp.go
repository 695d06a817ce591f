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

package pkcs9

import (
	"bytes"
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/tls"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fruitsign/fruitsign/lib/cms"
	"github.com/fruitsign/fruitsign/lib/x509tools"
)

// Request identifies a signature to be countersigned.
type Request struct {
	EncryptedDigest []byte
	Hash            crypto.Hash
}

// Timestamper obtains a RFC 3161 token over a signature.
type Timestamper interface {
	Timestamp(ctx context.Context, req *Request) (*cms.ContentInfoSignedData, error)
}

// TimestampClient requests tokens from a RFC 3161 responder over HTTP.
type TimestampClient struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
	CaFile    string
}

func (t TimestampClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	tconf := &tls.Config{}
	if err := x509tools.LoadCertPool(t.CaFile, tconf); err != nil {
		return nil, err
	}
	client := &http.Client{
		Timeout: t.Timeout,
		Transport: &http.Transport{
			TLSClientConfig:   tconf,
			DisableKeepAlives: true,
		},
	}
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %s\n%s", t.URL, resp.Status, body)
	}
	return body, nil
}

// Timestamp requests a token from the server and returns it after a sanity
// check against the request nonce and imprint.
func (t TimestampClient) Timestamp(ctx context.Context, req *Request) (*cms.ContentInfoSignedData, error) {
	imprint := req.Hash.New()
	imprint.Write(req.EncryptedDigest)
	msg, hreq, err := MakeHTTPRequest(t.URL, req.Hash, imprint.Sum(nil))
	if err != nil {
		return nil, err
	}
	body, err := t.do(ctx, hreq)
	if err != nil {
		return nil, err
	}
	return ParseHTTPResponse(msg, body)
}

// NewRequest creates a timestamp request for the given digest.
func NewRequest(hash crypto.Hash, hashValue []byte) (*TimeStampReq, error) {
	alg, ok := x509tools.PkixDigestAlgorithm(hash)
	if !ok {
		return nil, errors.New("pkcs9: unknown digest algorithm")
	}
	return &TimeStampReq{
		Version: 1,
		MessageImprint: MessageImprint{
			HashAlgorithm: alg,
			HashedMessage: hashValue,
		},
		Nonce:   x509tools.MakeSerial(),
		CertReq: true,
	}, nil
}

// MakeHTTPRequest creates a HTTP request to get a token from the given URL.
func MakeHTTPRequest(url string, hash crypto.Hash, hashValue []byte) (msg *TimeStampReq, req *http.Request, err error) {
	msg, err = NewRequest(hash, hashValue)
	if err != nil {
		return
	}
	reqbytes, err := asn1.Marshal(*msg)
	if err != nil {
		return
	}
	req, err = http.NewRequest(http.MethodPost, url, bytes.NewReader(reqbytes))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/timestamp-query")
	return
}

// ParseHTTPResponse decodes a token from a HTTP response body, checking it
// against the original request nonce.
func ParseHTTPResponse(msg *TimeStampReq, body []byte) (*cms.ContentInfoSignedData, error) {
	respmsg := new(TimeStampResp)
	if rest, err := asn1.Unmarshal(body, respmsg); err != nil {
		return nil, fmt.Errorf("pkcs9: unmarshalling response: %w", err)
	} else if len(rest) != 0 {
		return nil, errors.New("pkcs9: trailing bytes in response")
	} else if respmsg.Status.Status > StatusGrantedWithMods {
		return nil, fmt.Errorf("pkcs9: request denied: status=%d failureInfo=%x", respmsg.Status.Status, respmsg.Status.FailInfo.Bytes)
	}
	if err := SanityCheckToken(msg, &respmsg.TimeStampToken); err != nil {
		return nil, fmt.Errorf("pkcs9: token sanity check failed: %w", err)
	}
	return &respmsg.TimeStampToken, nil
}

// SanityCheckToken checks a timestamp token against the nonce in the original
// request.
func SanityCheckToken(req *TimeStampReq, psd *cms.ContentInfoSignedData) error {
	if _, err := psd.Content.Verify(nil, false); err != nil {
		return err
	}
	info, err := UnpackTokenInfo(psd)
	if err != nil {
		return err
	}
	if req.Nonce.Cmp(info.Nonce) != 0 {
		return errors.New("request nonce mismatch")
	}
	if !hmac.Equal(info.MessageImprint.HashedMessage, req.MessageImprint.HashedMessage) {
		return errors.New("message imprint mismatch")
	}
	return nil
}

// UnpackTokenInfo unpacks the TSTInfo from a timestamp token.
func UnpackTokenInfo(psd *cms.ContentInfoSignedData) (*TSTInfo, error) {
	infobytes, err := psd.Content.ContentInfo.Bytes()
	if err != nil {
		return nil, fmt.Errorf("unpack TSTInfo: %w", err)
	} else if len(infobytes) != 0 && infobytes[0] == 0x04 {
		// unwrap dummy OCTET STRING
		_, err = asn1.Unmarshal(infobytes, &infobytes)
		if err != nil {
			return nil, fmt.Errorf("unpack TSTInfo: %w", err)
		}
	}
	info := new(TSTInfo)
	if _, err := asn1.Unmarshal(infobytes, info); err != nil {
		return nil, fmt.Errorf("unpack TSTInfo: %w", err)
	}
	return info, nil
}

// AddStampToSignedData attaches a token to a signature as an unauthenticated
// attribute.
func AddStampToSignedData(signerInfo *cms.SignerInfo, token cms.ContentInfoSignedData) error {
	return signerInfo.UnauthenticatedAttributes.Add(OidAttributeTimeStampToken, token)
}

// TimestampAndMarshal countersigns a signature using the given timestamper,
// if any, then verifies and marshals the result.
func TimestampAndMarshal(ctx context.Context, psd *cms.ContentInfoSignedData, timestamper Timestamper, skipDigests bool) (*TimestampedSignature, error) {
	if timestamper != nil {
		if len(psd.Content.SignerInfos) != 1 {
			return nil, errors.New("pkcs9: expected exactly one SignerInfo")
		}
		signerInfo := &psd.Content.SignerInfos[0]
		hash, err := x509tools.PkixDigestToHashE(signerInfo.DigestAlgorithm)
		if err != nil {
			return nil, err
		}
		token, err := timestamper.Timestamp(ctx, &Request{
			EncryptedDigest: signerInfo.EncryptedDigest,
			Hash:            hash,
		})
		if err != nil {
			return nil, fmt.Errorf("timestamping: %w", err)
		}
		if err := AddStampToSignedData(signerInfo, *token); err != nil {
			return nil, err
		}
	}
	verified, err := psd.Content.Verify(nil, skipDigests)
	if err != nil {
		return nil, err
	}
	tssig, err := VerifyOptionalTimestamp(verified)
	if err != nil {
		return nil, err
	}
	tssig.Raw, err = psd.Marshal()
	if err != nil {
		return nil, err
	}
	return &tssig, nil
}
