// Package authorizer implements the acceptance predicate over attested-key
// records and the ordered emission of accepted key lines, grounded on
// other_examples/commiterate-amazon-ec2-ssh-utils__implementation.go's
// per-key verification loop.
package authorizer

import (
	"crypto/rsa"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/attestedkey"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/cryptoutil"
)

// Decision is the per-record verdict: whether the record passed every
// acceptance check, and whether it is actually emitted. The two are
// distinct: a record can be Accepted yet not Emitted when an expected
// fingerprint was supplied and did not match — the acceptance logic still
// ran in full, it just gates output, not processing.
type Decision struct {
	Record      attestedkey.Record
	Accepted    bool
	Emitted     bool
	Fingerprint string
	Reason      string
}

// Authorizer evaluates AttestedKeyRecords against a fixed instance identity,
// signer public key, and an optional expected fingerprint filter.
type Authorizer struct {
	SignerPublicKey     *rsa.PublicKey
	InstanceID          string
	ExpectedFingerprint string
	Now                 int64
}

// Evaluate runs every record through spec.md §4.5's acceptance predicate in
// input order, returning one Decision per record in the same order.
// Emission is never partial for a successful run: callers should only
// write Emitted key lines to stdout after Evaluate has returned for the
// entire record set, matching the fail-closed, all-or-nothing emission
// policy.
func (a *Authorizer) Evaluate(records []attestedkey.Record) []Decision {
	decisions := make([]Decision, len(records))
	for i, rec := range records {
		decisions[i] = a.evaluateOne(rec)
	}
	return decisions
}

func (a *Authorizer) evaluateOne(rec attestedkey.Record) Decision {
	d := Decision{Record: rec}

	if !rec.HasInstance || rec.InstanceID != a.InstanceID {
		d.Reason = "instance binding mismatch"
		return d
	}

	if !rec.HasTimestamp || rec.Timestamp <= a.Now {
		d.Reason = "timestamp is not a valid future expiry"
		return d
	}

	if rec.SignatureErr != nil {
		d.Reason = fmt.Sprintf("signature does not decode: %v", rec.SignatureErr)
		return d
	}

	fingerprint, err := keyFingerprint(rec.KeyLine)
	if err != nil {
		d.Reason = fmt.Sprintf("key line does not parse: %v", err)
		return d
	}
	d.Fingerprint = fingerprint

	if err := cryptoutil.VerifyRSAPSS(a.SignerPublicKey, rec.SignedData, rec.Signature); err != nil {
		d.Reason = fmt.Sprintf("signature verification failed: %v", err)
		return d
	}

	d.Accepted = true

	if a.ExpectedFingerprint != "" && fingerprint != a.ExpectedFingerprint {
		d.Reason = "fingerprint does not match requested filter"
		return d
	}

	d.Emitted = true
	return d
}

// keyFingerprint parses an OpenSSH authorized_keys line and returns its
// standard SSH fingerprint (SHA256:base64, per golang.org/x/crypto/ssh).
func keyFingerprint(keyLine string) (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(keyLine))
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(pub), nil
}
