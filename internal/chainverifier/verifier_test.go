package chainverifier_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/chainverifier"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/cryptoutil"
)

type testCA struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

func makeCA(t *testing.T, cn string, parent *testCA, serial int64) *testCA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	signerCert := tmpl
	signerKey := key
	if parent != nil {
		signerCert = parent.cert
		signerKey = parent.key
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return &testCA{cert: cert, key: key}
}

func makeLeaf(t *testing.T, cn string, issuer *testCA, serial int64) *testCA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer.cert, &key.PublicKey, issuer.key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return &testCA{cert: cert, key: key}
}

func makeOCSPStaple(t *testing.T, subject, issuer *testCA, status int) []byte {
	t.Helper()
	der, err := ocsp.CreateResponse(issuer.cert, issuer.cert, ocsp.Response{
		Status:       status,
		SerialNumber: subject.cert.SerialNumber,
		ThisUpdate:   time.Now().Add(-time.Minute),
		NextUpdate:   time.Now().Add(time.Hour),
	}, issuer.key)
	if err != nil {
		t.Fatalf("create ocsp response: %v", err)
	}
	return der
}

func pemOf(certs ...*testCA) []byte {
	var buf []byte
	for _, c := range certs {
		buf = append(buf, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.cert.Raw})...)
	}
	return buf
}

// bundleTrustStoreFixture writes a concatenated bundle file trusting root
// and returns a BundleTrustStore pointed at it.
func bundleTrustStoreFixture(t *testing.T, root *testCA) *chainverifier.BundleTrustStore {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/bundle.pem"
	content := "# " + root.cert.Subject.CommonName + "\n" + string(pemOf(root))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return &chainverifier.BundleTrustStore{Path: path}
}

func TestVerifyHappyPath(t *testing.T) {
	root := makeCA(t, "Example Root CA", nil, 1)
	intermediate := makeCA(t, "Example Intermediate CA", root, 2)
	leaf := makeLeaf(t, "managed-ssh-signer.us-east-1.amazonaws.com", intermediate, 3)

	trustStore := bundleTrustStoreFixture(t, root)

	staples := chainverifier.OCSPStapleSet{}
	leafFP := fingerprintOf(leaf)
	intermediateFP := fingerprintOf(intermediate)
	staples[leafFP] = makeOCSPStaple(t, leaf, intermediate, ocsp.Good)
	staples[intermediateFP] = makeOCSPStaple(t, intermediate, root, ocsp.Good)

	v := &chainverifier.Verifier{TrustStore: trustStore}
	pub, err := v.Verify(pemOf(leaf, intermediate, root), staples, "managed-ssh-signer.us-east-1.amazonaws.com")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if pub == nil {
		t.Fatal("expected a public key")
	}
}

func TestVerifyCNMismatch(t *testing.T) {
	root := makeCA(t, "Example Root CA", nil, 1)
	leaf := makeLeaf(t, "wrong-cn.example.com", root, 2)
	trustStore := bundleTrustStoreFixture(t, root)

	v := &chainverifier.Verifier{TrustStore: trustStore}
	_, err := v.Verify(pemOf(leaf, root), chainverifier.OCSPStapleSet{}, "managed-ssh-signer.us-east-1.amazonaws.com")
	if err == nil {
		t.Fatal("expected a CN mismatch error")
	}
}

func TestVerifyRevokedIntermediate(t *testing.T) {
	root := makeCA(t, "Example Root CA", nil, 1)
	intermediate := makeCA(t, "Example Intermediate CA", root, 2)
	leaf := makeLeaf(t, "managed-ssh-signer.us-east-1.amazonaws.com", intermediate, 3)

	trustStore := bundleTrustStoreFixture(t, root)

	staples := chainverifier.OCSPStapleSet{}
	staples[fingerprintOf(leaf)] = makeOCSPStaple(t, leaf, intermediate, ocsp.Good)
	staples[fingerprintOf(intermediate)] = makeOCSPStaple(t, intermediate, root, ocsp.Revoked)

	v := &chainverifier.Verifier{TrustStore: trustStore}
	_, err := v.Verify(pemOf(leaf, intermediate, root), staples, "managed-ssh-signer.us-east-1.amazonaws.com")
	if err == nil {
		t.Fatal("expected a revoked-intermediate error")
	}
}

func TestVerifyMissingStaple(t *testing.T) {
	root := makeCA(t, "Example Root CA", nil, 1)
	intermediate := makeCA(t, "Example Intermediate CA", root, 2)
	leaf := makeLeaf(t, "managed-ssh-signer.us-east-1.amazonaws.com", intermediate, 3)

	trustStore := bundleTrustStoreFixture(t, root)

	v := &chainverifier.Verifier{TrustStore: trustStore}
	_, err := v.Verify(pemOf(leaf, intermediate, root), chainverifier.OCSPStapleSet{}, "managed-ssh-signer.us-east-1.amazonaws.com")
	if err == nil {
		t.Fatal("expected a missing-staple error")
	}
}

func fingerprintOf(c *testCA) string {
	return cryptoutil.CertSHA1Fingerprint(c.cert.Raw)
}
