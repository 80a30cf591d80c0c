package chainverifier

import (
	"bufio"
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/cryptoutil"
)

// TrustStore is the set of locally trusted CA certificates, addressed
// either as a directory of hashed PEM files or as a single concatenated
// bundle with subject-CN comments, per spec.md §3's LocalTrustStore entry.
type TrustStore interface {
	// Contains reports whether cert is already present in the store,
	// decided by tuple equality of subject hash, SHA-1 fingerprint, and
	// public key, per spec.md §4.3 step 3.
	Contains(cert *x509.Certificate) bool
	// Pool returns every certificate in the store as an *x509.CertPool,
	// used as the root set for path validation.
	Pool() *x509.CertPool
}

// DirTrustStore is a directory of CA certificates, one PEM file per
// subject, named by the certificate's OpenSSL-style subject hash
// (see cryptoutil.SubjectHash).
type DirTrustStore struct {
	Dir string
}

func (d *DirTrustStore) Contains(cert *x509.Certificate) bool {
	hash := cryptoutil.SubjectHash(cert)
	for suffix := 0; suffix < 10; suffix++ {
		path := filepath.Join(d.Dir, fmt.Sprintf("%s.%d", hash, suffix))
		data, err := os.ReadFile(path)
		if err != nil {
			break
		}
		if certEqual(cert, data) {
			return true
		}
	}
	return false
}

func (d *DirTrustStore) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return pool
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.Dir, entry.Name()))
		if err != nil {
			continue
		}
		pool.AppendCertsFromPEM(data)
	}
	return pool
}

// BundleTrustStore is a single file concatenating every trusted CA
// certificate's PEM block, each preceded by a comment line naming the
// certificate's subject CN (e.g. "# Example Root CA").
type BundleTrustStore struct {
	Path string
}

func (b *BundleTrustStore) Contains(cert *x509.Certificate) bool {
	data, err := b.lookupByCN(cert.Subject.CommonName)
	if err != nil {
		return false
	}
	return certEqual(cert, data)
}

func (b *BundleTrustStore) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return pool
	}
	pool.AppendCertsFromPEM(data)
	return pool
}

// lookupByCN scans the bundle for a comment line matching cn and extracts
// the PEM block between that comment and the following END CERTIFICATE
// marker, per spec.md §4.3 step 3.
func (b *BundleTrustStore) lookupByCN(cn string) ([]byte, error) {
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var inBlock bool
	var buf bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()

		if !inBlock {
			trimmed := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if strings.TrimPrefix(line, "#") != line && trimmed == cn {
				inBlock = true
			}
			continue
		}

		buf.WriteString(line)
		buf.WriteByte('\n')
		if strings.Contains(line, "END CERTIFICATE") {
			return buf.Bytes(), nil
		}
	}

	return nil, fmt.Errorf("truststore: no bundle entry for subject %q", cn)
}

// certEqual decides tuple equality of subject hash, SHA-1 fingerprint, and
// public key between cert and a candidate PEM-encoded certificate, per
// spec.md §4.3 step 3.
func certEqual(cert *x509.Certificate, candidatePEM []byte) bool {
	block, _ := pem.Decode(candidatePEM)
	if block == nil {
		return false
	}
	candidate, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false
	}

	if cryptoutil.SubjectHash(cert) != cryptoutil.SubjectHash(candidate) {
		return false
	}
	if cryptoutil.CertSHA1Fingerprint(cert.Raw) != cryptoutil.CertSHA1Fingerprint(candidate.Raw) {
		return false
	}
	return bytes.Equal(cert.RawSubjectPublicKeyInfo, candidate.RawSubjectPublicKeyInfo)
}
