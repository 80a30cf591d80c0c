// Package hostkeys implements HostKeyPublisher: read the instance's SSH
// host public keys, sign a PutEC2HostKeys request with instance-identity
// credentials, and POST it to the regional endpoint. Grounded on the
// teacher's client.AegisClient request-orchestration shape, generalized
// from a token-refresh HTTP client to this system's fixed boot-time flow.
package hostkeys

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/instanceguard"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/logger"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/metadataclient"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/sigv4"
)

const (
	securityCredentialsPath = "/meta-data/identity-credentials/ec2/security-credentials/ec2-instance/"
	identityDocumentPath    = "/dynamic/instance-identity/document"
)

// securityCredentials mirrors the JSON shape the instance-identity
// security-credentials endpoint returns.
type securityCredentials struct {
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	Token           string `json:"Token"`
}

// Publisher orchestrates the boot-time host-key publish flow.
type Publisher struct {
	Guard      *instanceguard.Guard
	Metadata   *metadataclient.Client
	HTTPClient *http.Client

	// HostKeyDir is the directory of *.pub files to read and publish;
	// New sets it to /etc/ssh. Publish uses it as is, with no default of
	// its own for an empty value.
	HostKeyDir string
}

// New builds a Publisher wired to the given metadata client.
func New(metadata *metadataclient.Client) *Publisher {
	return &Publisher{
		Guard:      instanceguard.New(metadata),
		Metadata:   metadata,
		HTTPClient: &http.Client{},
		HostKeyDir: "/etc/ssh",
	}
}

// Publish runs the full HostKeyPublisher flow: resolve identity, collect
// host keys, fetch instance-identity credentials, sign, and POST. The
// returned error is nil only on a successful (2xx) publish.
func (p *Publisher) Publish(ctx context.Context) error {
	identity, err := p.Guard.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("hostkeys: resolve instance identity: %w", err)
	}

	hostKeys, err := ReadHostPublicKeys(p.HostKeyDir)
	if err != nil {
		return fmt.Errorf("hostkeys: read host public keys: %w", err)
	}

	accountID, err := p.fetchAccountID(ctx)
	if err != nil {
		return fmt.Errorf("hostkeys: fetch account id: %w", err)
	}

	creds, err := p.fetchCredentials(ctx)
	if err != nil {
		return fmt.Errorf("hostkeys: fetch instance-identity credentials: %w", err)
	}
	defer creds.Zero()

	payload := sigv4.HostKeysPayload{
		AccountID:        accountID,
		AvailabilityZone: identity.Zone,
		HostKeys:         hostKeys,
		InstanceId:       identity.InstanceID,
	}

	req, err := sigv4.BuildRequest(ctx, identity.Region, identity.Domain, creds, payload)
	if err != nil {
		return fmt.Errorf("hostkeys: build signed request: %w", err)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("hostkeys: publish request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("hostkeys: publish request returned %s: %s", resp.Status, string(body))
	}

	logger.Info(ctx, "published host keys", "instance_id", identity.InstanceID, "count", len(hostKeys))
	return nil
}

func (p *Publisher) fetchAccountID(ctx context.Context) (string, error) {
	body, found, err := p.Metadata.Fetch(ctx, identityDocumentPath)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("instance-identity document not published")
	}

	var doc imds.InstanceIdentityDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parse instance-identity document: %w", err)
	}
	return doc.AccountID, nil
}

func (p *Publisher) fetchCredentials(ctx context.Context) (sigv4.Credentials, error) {
	body, found, err := p.Metadata.Fetch(ctx, securityCredentialsPath)
	if err != nil {
		return sigv4.Credentials{}, err
	}
	if !found {
		return sigv4.Credentials{}, fmt.Errorf("instance-identity credentials not published")
	}

	var sc securityCredentials
	if err := json.Unmarshal(body, &sc); err != nil {
		return sigv4.Credentials{}, fmt.Errorf("parse instance-identity credentials: %w", err)
	}

	return sigv4.Credentials{
		AccessKeyID:     []byte(sc.AccessKeyID),
		SecretAccessKey: []byte(sc.SecretAccessKey),
		SessionToken:    []byte(sc.Token),
	}, nil
}

// ReadHostPublicKeys reads every *.pub file under dir in lexicographic
// filename order, returning each file's content with internal whitespace
// collapsed to single spaces and surrounding whitespace trimmed, per
// spec.md §4.6 / testable property 10.
func ReadHostPublicKeys(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pub") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	keys := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		keys = append(keys, normalizeWhitespace(string(data)))
	}
	return keys, nil
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
