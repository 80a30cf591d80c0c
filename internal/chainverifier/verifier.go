// Package chainverifier validates the signer certificate chain EC2 Instance
// Connect publishes: leaf CN match, strict X.509 path validation against a
// local trust store, and an OCSP-good staple for every non-implicitly-trusted
// certificate in the chain. Grounded on
// other_examples/commiterate-amazon-ec2-ssh-utils__implementation.go's
// getEc2InstanceConnectSignerCertificate.
package chainverifier

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/ocsp"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/cryptoutil"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/scratch"
)

// ErrTrustFailure covers every way spec.md §4.3 can reject a signer chain:
// CN mismatch, path validation failure, missing or non-good OCSP staple.
var ErrTrustFailure = errors.New("chainverifier: signer chain is not trusted")

// OCSPStapleSet maps the lowercase hex SHA-1 fingerprint of a chain
// certificate to its DER-encoded OCSP response, per spec.md §3.
type OCSPStapleSet map[string][]byte

// Verifier validates signer certificate chains against a TrustStore.
type Verifier struct {
	TrustStore TrustStore
	// Scratch, if non-nil, receives a copy of the split chain, each
	// decoded OCSP response, and the extracted signer public key, per
	// SPEC_FULL.md §5's ownership note. Verification itself never reads
	// these back; they exist purely so the scratch area's lifecycle
	// matches spec.md §3.
	Scratch *scratch.Dir
}

// Verify runs spec.md §4.3's full algorithm and returns the signer's RSA
// public key on success.
func (v *Verifier) Verify(chainPEM []byte, staples OCSPStapleSet, expectedCN string) (*rsa.PublicKey, error) {
	chain, err := splitChain(chainPEM)
	if err != nil {
		return nil, fmt.Errorf("chainverifier: %w: %w", ErrTrustFailure, err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("chainverifier: empty signer chain: %w", ErrTrustFailure)
	}

	v.persistChain(chain)

	leaf := chain[0]
	if leaf.Subject.CommonName != expectedCN {
		return nil, fmt.Errorf("chainverifier: leaf CN %q does not match expected %q: %w", leaf.Subject.CommonName, expectedCN, ErrTrustFailure)
	}

	if err := v.validatePath(chain); err != nil {
		return nil, fmt.Errorf("chainverifier: %w: %w", ErrTrustFailure, err)
	}

	if err := v.validateOCSP(chain, staples); err != nil {
		return nil, fmt.Errorf("chainverifier: %w: %w", ErrTrustFailure, err)
	}

	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("chainverifier: signer leaf public key is not RSA: %w", ErrTrustFailure)
	}

	v.persistSignerPublicKey(pub)

	return pub, nil
}

// ParseChain exposes splitChain to callers (the entry points) that need to
// inspect the chain's certificates directly, e.g. to match an OCSP
// response's serial number against a chain certificate before calling
// Verify.
func ParseChain(chainPEM []byte) ([]*x509.Certificate, error) {
	return splitChain(chainPEM)
}

// splitChain decodes a concatenated PEM blob into certificates in on-wire
// order: the first is the leaf, the last is the chain-provided root
// candidate, per spec.md §4.3 step 1.
func splitChain(chainPEM []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	rest := chainPEM
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse chain certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// validatePath performs strict X.509 path validation of the leaf against
// a combined trust input built from the chain's intermediates plus the
// local trust store's roots, per spec.md §4.3 step 4.
func (v *Verifier) validatePath(chain []*x509.Certificate) error {
	leaf := chain[0]

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1 : len(chain)-1] {
		intermediates.AddCert(cert)
	}
	// The chain-provided root candidate is also offered as an
	// intermediate: path validation only succeeds if it (or an ancestor
	// of it) is actually present in the trust store's root pool.
	if len(chain) > 1 {
		intermediates.AddCert(chain[len(chain)-1])
	}

	roots := v.TrustStore.Pool()

	_, err := leaf.Verify(x509.VerifyOptions{
		Intermediates: intermediates,
		Roots:         roots,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("path validation: %w", err)
	}
	return nil
}

// validateOCSP implements spec.md §4.3 step 5: walk the chain from the
// leaf, stopping at (and not requiring a staple for) the first certificate
// already present in the trust store — implicit trust — and otherwise
// requiring a good OCSP staple signed by the next certificate up the
// chain.
func (v *Verifier) validateOCSP(chain []*x509.Certificate, staples OCSPStapleSet) error {
	for i, cert := range chain {
		if v.TrustStore.Contains(cert) {
			return nil
		}
		if i+1 >= len(chain) {
			return fmt.Errorf("ocsp: no issuer above %q to validate staple", cert.Subject.CommonName)
		}
		issuer := chain[i+1]

		fingerprint := cryptoutil.CertSHA1Fingerprint(cert.Raw)
		staple, ok := staples[fingerprint]
		if !ok {
			return fmt.Errorf("ocsp: missing staple for %q (fingerprint %s)", cert.Subject.CommonName, fingerprint)
		}

		resp, err := ocsp.ParseResponseForCert(staple, cert, issuer)
		if err != nil {
			return fmt.Errorf("ocsp: parse staple for %q: %w", cert.Subject.CommonName, err)
		}
		v.persistOCSPResponse(fingerprint, staple)

		if resp.Status != ocsp.Good {
			return fmt.Errorf("ocsp: %q status is not good (status=%d)", cert.Subject.CommonName, resp.Status)
		}
	}
	return nil
}

func (v *Verifier) persistChain(chain []*x509.Certificate) {
	if v.Scratch == nil {
		return
	}
	var buf []byte
	for _, cert := range chain {
		buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	_ = v.Scratch.WriteFile("signer-chain.pem", buf, 0400)
}

func (v *Verifier) persistOCSPResponse(fingerprint string, der []byte) {
	if v.Scratch == nil {
		return
	}
	_ = v.Scratch.WriteFile(fmt.Sprintf("ocsp-%s.der", fingerprint), der, 0400)
}

func (v *Verifier) persistSignerPublicKey(pub *rsa.PublicKey) {
	if v.Scratch == nil {
		return
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	_ = v.Scratch.WriteFile("signer-public-key.pem", pemBytes, 0400)
}
