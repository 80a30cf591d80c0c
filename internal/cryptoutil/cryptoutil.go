// Package cryptoutil holds the handful of crypto primitives shared by the
// chain verifier and the key authorizer: RSA-PSS verification over the
// attested-key signed-data buffer, and SHA-1 fingerprinting of certificates
// for OCSP staple lookup.
package cryptoutil

import (
	"crypto"
	"crypto/md5"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// PSSSaltLength32Opts is the RSA-PSS verification parameter set spec.md
// invariant (i) requires for every attested-key signature: SHA-256 digest,
// 32-byte salt.
var PSSSaltLength32Opts = &rsa.PSSOptions{
	SaltLength: 32,
	Hash:       crypto.SHA256,
}

// VerifyRSAPSS checks sig against signed under pub using RSA-PSS/SHA-256
// with a 32-byte salt, the scheme every attested-key signature in this
// system uses.
func VerifyRSAPSS(pub *rsa.PublicKey, signed, sig []byte) error {
	digest := sha256.Sum256(signed)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, PSSSaltLength32Opts); err != nil {
		return fmt.Errorf("rsa-pss verification failed: %w", err)
	}
	return nil
}

// CertSHA1Fingerprint returns the lowercase hex SHA-1 fingerprint of a
// certificate's raw DER bytes, the key OCSPStapleSet is indexed by.
func CertSHA1Fingerprint(der []byte) string {
	sum := sha1.Sum(der)
	return hex.EncodeToString(sum[:])
}

// SubjectHash approximates OpenSSL's legacy X509_NAME_hash: an 8 hex
// character, little-endian rendering of the first 4 bytes of an MD5 digest
// of the certificate's raw subject. OpenSSL additionally canonicalizes
// string encodings (case folding, whitespace collapse) before hashing;
// that canonicalization step is not reproduced here, so this only matches
// OpenSSL's own `c_rehash` naming for subjects that are already in
// canonical form. See DESIGN.md Open Question 5.
func SubjectHash(cert *x509.Certificate) string {
	sum := md5.Sum(cert.RawSubject)
	// OpenSSL renders the hash as the first 4 bytes interpreted as a
	// little-endian uint32, then lowercase hex.
	return hex.EncodeToString([]byte{sum[3], sum[2], sum[1], sum[0]})
}
