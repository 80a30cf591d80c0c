// Package sigv4 builds the SigV4-authenticated PutEC2HostKeys request
// HostKeyPublisher sends, using the instance-identity credentials the
// metadata service hands out. Grounded on the teacher's use of
// github.com/aws/aws-sdk-go-v2, generalized from request-signing-for-a-
// managed-API-call to this system's fixed ec2-instance-connect target.
package sigv4

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const service = "ec2-instance-connect"

// Credentials holds instance-identity temporary credentials. Secret
// material is kept in byte slices rather than strings so Zero can
// overwrite it in place; Go string immutability would otherwise leave
// copies alive in the heap for the garbage collector's schedule.
type Credentials struct {
	AccessKeyID     []byte
	SecretAccessKey []byte
	SessionToken    []byte
}

// Zero overwrites every credential field in place. Callers defer this
// immediately after building a Credentials so it runs on every exit path,
// including panics.
func (c *Credentials) Zero() {
	if c == nil {
		return
	}
	zero(c.AccessKeyID)
	zero(c.SecretAccessKey)
	zero(c.SessionToken)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// HostKeysPayload is the JSON body spec.md §4.6 requires.
type HostKeysPayload struct {
	AccountID        string   `json:"AccountID"`
	AvailabilityZone string   `json:"AvailabilityZone"`
	HostKeys         []string `json:"HostKeys"`
	InstanceId       string   `json:"InstanceId"`
}

// BuildRequest constructs and signs the POST to
// https://ec2-instance-connect.<region>.<domain>/PutEC2HostKeys/, per
// spec.md §4.6's canonicalization: signed headers host, x-amz-date,
// x-amz-security-token, in that order, payload hash as the lowercase hex
// SHA-256 of the JSON body.
func BuildRequest(ctx context.Context, region, domain string, creds Credentials, payload HostKeysPayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("sigv4: marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("https://ec2-instance-connect.%s.%s/PutEC2HostKeys/", region, domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sigv4: build request: %w", err)
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	// Only host, x-amz-date, and x-amz-security-token may end up in
	// SignedHeaders: the v4 signer signs every header present on the
	// request (minus a small blacklist) at the moment SignHTTP is called.
	// Host is derived from req.URL/req.Host automatically and x-amz-date
	// is added by the signer itself, so x-amz-security-token is the only
	// one that needs to be set before signing. Every other transmitted
	// header is added afterward so it never enters the canonical request.
	// The signer also signs content-length whenever req.ContentLength > 0,
	// so the length is cleared for the SignHTTP call and restored after it.
	req.Header.Set("x-amz-security-token", string(creds.SessionToken))

	awsCreds := aws.Credentials{
		AccessKeyID:     string(creds.AccessKeyID),
		SecretAccessKey: string(creds.SecretAccessKey),
		SessionToken:    string(creds.SessionToken),
	}

	signer := v4.NewSigner()
	contentLength := req.ContentLength
	req.ContentLength = 0
	err = signer.SignHTTP(ctx, awsCreds, req, payloadHash, service, region, time.Now())
	req.ContentLength = contentLength
	if err != nil {
		return nil, fmt.Errorf("sigv4: sign request: %w", err)
	}

	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "amz-1.0")
	req.Header.Set("x-amz-target", "com.amazon.aws.sshaccessproxyservice.AWSEC2InstanceConnectService.PutEC2HostKeys")

	return req, nil
}
