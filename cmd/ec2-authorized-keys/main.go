// Command ec2-authorized-keys is AuthorizedKeysAgent: invoked by sshd as an
// AuthorizedKeysCommand, it resolves a local user's currently active,
// cryptographically attested SSH public keys from the instance metadata
// service and prints the accepted ones to standard output.
package main

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/attestedkey"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/authorizer"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/chainverifier"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/config"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/cryptoutil"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/instanceguard"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/logger"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/metadataclient"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/scratch"
)

const (
	exitOK           = 0
	exitInputError   = 1
	exitHardFailure  = 255
	invocationBudget = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], config.Load()))
}

// run implements AuthorizedKeysAgent against an injected config.Config, so
// tests can point every path and endpoint at fixtures without touching the
// real filesystem or metadata service.
func run(args []string, cfg config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), invocationBudget)
	defer cancel()

	if len(args) < 1 || args[0] == "" {
		logger.Error(ctx, "missing required user argument")
		return exitInputError
	}
	targetUser := args[0]
	var expectedFingerprint string
	if len(args) > 1 {
		expectedFingerprint = args[1]
	}
	ctx = context.WithValue(ctx, logger.UserKey, targetUser)

	if _, err := user.Lookup(targetUser); err != nil {
		logger.Info(ctx, "target user does not exist locally")
		return exitOK
	}

	metadata := metadataclient.New(cfg.MetadataBaseURL)

	guard := instanceguard.New(metadata)
	guard.HypervisorUUIDPath = cfg.HypervisorUUIDPath
	guard.DMIAssetTagPath = cfg.DMIAssetTagPath

	identity, err := guard.Resolve(ctx)
	if err != nil {
		if errors.Is(err, instanceguard.ErrNotAnInstance) {
			logger.Info(ctx, "invoked on a non-instance")
			return exitOK
		}
		logger.Error(ctx, "metadata error while resolving instance identity", "error", err)
		return exitHardFailure
	}
	ctx = context.WithValue(ctx, logger.InstanceIDKey, identity.InstanceID)

	activeKeysPath := fmt.Sprintf("/meta-data/managed-ssh-keys/active-keys/%s/", targetUser)

	status, err := metadata.HeadStatus(ctx, activeKeysPath)
	if err != nil {
		logger.Error(ctx, "metadata error checking active keys", "error", err)
		return exitHardFailure
	}
	if status == 404 {
		logger.Info(ctx, "no active keys for user")
		return exitOK
	}
	if status != 200 {
		logger.Error(ctx, "unexpected status checking active keys", "status", status)
		return exitHardFailure
	}

	blob, found, err := metadata.Fetch(ctx, activeKeysPath)
	if err != nil || !found {
		logger.Error(ctx, "metadata error fetching active keys", "error", err)
		return exitHardFailure
	}

	scratchDir, err := scratch.NewIn(cfg.ScratchBase)
	if err != nil {
		logger.Error(ctx, "failed to allocate scratch directory", "error", err)
		return exitHardFailure
	}
	defer scratchDir.Close()

	signerPublicKey, err := verifySignerChain(ctx, metadata, scratchDir, identity, cfg)
	if err != nil {
		logger.Error(ctx, "signer chain is not trusted; no keys have been trusted", "error", err)
		return exitHardFailure
	}

	records := attestedkey.Parse(blob)

	az := &authorizer.Authorizer{
		SignerPublicKey:     signerPublicKey,
		InstanceID:          identity.InstanceID,
		ExpectedFingerprint: expectedFingerprint,
		Now:                 time.Now().Unix(),
	}
	decisions := az.Evaluate(records)

	var out bytes.Buffer
	emitted := 0
	for _, d := range decisions {
		if !d.Emitted {
			continue
		}
		out.WriteString(d.Record.KeyLine)
		out.WriteByte('\n')
		emitted++
		logger.Info(ctx, "accepted key",
			"fingerprint", d.Fingerprint,
			"caller", d.Record.Caller,
			"request_id", d.Record.RequestID,
		)
	}

	if emitted == 0 {
		logger.Error(ctx, "no valid key produced")
		return exitHardFailure
	}

	if _, err := os.Stdout.Write(out.Bytes()); err != nil {
		logger.Error(ctx, "failed writing accepted keys to stdout", "error", err)
		return exitHardFailure
	}
	return exitOK
}

// verifySignerChain fetches the signer certificate chain and its OCSP
// staples from the metadata service and validates them via chainverifier.
func verifySignerChain(ctx context.Context, metadata *metadataclient.Client, scratchDir *scratch.Dir, identity *instanceguard.Identity, cfg config.Config) (*rsa.PublicKey, error) {
	chainPEM, found, err := metadata.Fetch(ctx, "/meta-data/managed-ssh-keys/signer-cert/")
	if err != nil || !found {
		return nil, fmt.Errorf("fetch signer cert: %w", err)
	}

	staples, err := fetchOCSPStaples(ctx, metadata, chainPEM)
	if err != nil {
		return nil, fmt.Errorf("fetch ocsp staples: %w", err)
	}

	var trustStore chainverifier.TrustStore
	if cfg.TrustStoreIsBundle {
		trustStore = &chainverifier.BundleTrustStore{Path: cfg.TrustStorePath}
	} else {
		trustStore = &chainverifier.DirTrustStore{Dir: cfg.TrustStorePath}
	}

	verifier := &chainverifier.Verifier{TrustStore: trustStore, Scratch: scratchDir}
	expectedCN := fmt.Sprintf("managed-ssh-signer.%s.%s", identity.Region, identity.Domain)
	return verifier.Verify(chainPEM, staples, expectedCN)
}

// fetchOCSPStaples retrieves the signer-ocsp index and every token it
// lists, matching each decoded OCSP response to a chain certificate by
// serial number so it can be keyed by that certificate's SHA-1
// fingerprint — the key chainverifier.OCSPStapleSet requires.
func fetchOCSPStaples(ctx context.Context, metadata *metadataclient.Client, chainPEM []byte) (chainverifier.OCSPStapleSet, error) {
	chain, err := chainverifier.ParseChain(chainPEM)
	if err != nil {
		return nil, err
	}

	index, found, err := metadata.Fetch(ctx, "/meta-data/managed-ssh-keys/signer-ocsp/")
	if err != nil {
		return nil, err
	}
	staples := chainverifier.OCSPStapleSet{}
	if !found {
		return staples, nil
	}

	for _, token := range strings.Fields(string(index)) {
		encoded, found, err := metadata.Fetch(ctx, "/meta-data/managed-ssh-keys/signer-ocsp/"+token)
		if err != nil || !found {
			continue
		}
		der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
		if err != nil {
			continue
		}
		resp, err := ocsp.ParseResponse(der, nil)
		if err != nil {
			continue
		}
		for _, cert := range chain {
			if cert.SerialNumber.Cmp(resp.SerialNumber) == 0 {
				staples[cryptoutil.CertSHA1Fingerprint(cert.Raw)] = der
				break
			}
		}
	}
	return staples, nil
}
