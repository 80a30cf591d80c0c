// Package instanceguard decides whether the local host is a genuine cloud
// instance and resolves its identity: instance ID, availability zone,
// region, and service domain.
package instanceguard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/metadataclient"
)

// ErrNotAnInstance is returned when the host fails the hypervisor-identity
// gating check. Callers must treat this as a no-op success for
// AuthorizedKeysAgent and as a hard failure for HostKeyPublisher — see
// spec.md §4.2 and §7.
var ErrNotAnInstance = errors.New("instanceguard: host is not a managed cloud instance")

var (
	instanceIDPattern = regexp.MustCompile(`^i-[0-9a-f]{8,32}$`)
	azPattern         = regexp.MustCompile(`^([a-z]+-){2,3}[0-9][a-z]$`)
)

// Identity is the resolved instance identity spec.md §3 names.
type Identity struct {
	InstanceID string
	Zone       string
	Region     string
	Domain     string
}

// Guard resolves Identity, gated on hypervisor evidence that the host is a
// real instance of the targeted cloud provider.
type Guard struct {
	Metadata *metadataclient.Client

	// HypervisorUUIDPath and DMIAssetTagPath are the two hypervisor
	// evidence sources spec.md §4.2 step 2 checks, in priority order.
	// Overridable in tests; default to the real sysfs locations.
	HypervisorUUIDPath string
	DMIAssetTagPath    string
}

// New builds a Guard with the real sysfs hypervisor evidence paths.
func New(metadata *metadataclient.Client) *Guard {
	return &Guard{
		Metadata:           metadata,
		HypervisorUUIDPath: "/sys/hypervisor/uuid",
		DMIAssetTagPath:    "/sys/devices/virtual/dmi/id/board_asset_tag",
	}
}

// Resolve runs the full gating algorithm of spec.md §4.2: fetch and
// validate the instance ID, confirm hypervisor evidence matches it, then
// resolve zone/region/domain. It returns ErrNotAnInstance (wrapped) when
// gating fails for any reason; callers distinguish that from other errors
// via errors.Is.
func (g *Guard) Resolve(ctx context.Context) (*Identity, error) {
	instanceID, err := g.fetchInstanceID(ctx)
	if err != nil {
		return nil, err
	}

	if err := g.checkHypervisor(instanceID); err != nil {
		return nil, err
	}

	zone, err := g.fetchZone(ctx)
	if err != nil {
		return nil, fmt.Errorf("instanceguard: fetch availability zone: %w", err)
	}

	region := deriveRegion(zone)

	domainBytes, found, err := g.Metadata.Fetch(ctx, "/meta-data/services/domain/")
	if err != nil {
		return nil, fmt.Errorf("instanceguard: fetch service domain: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("instanceguard: service domain not published: %w", ErrNotAnInstance)
	}

	return &Identity{
		InstanceID: instanceID,
		Zone:       zone,
		Region:     region,
		Domain:     strings.TrimSpace(string(domainBytes)),
	}, nil
}

func (g *Guard) fetchInstanceID(ctx context.Context) (string, error) {
	body, found, err := g.Metadata.Fetch(ctx, "/meta-data/instance-id/")
	if err != nil {
		return "", fmt.Errorf("instanceguard: fetch instance-id: %w", err)
	}
	if !found {
		return "", fmt.Errorf("instanceguard: instance-id not published: %w", ErrNotAnInstance)
	}

	id := strings.TrimSpace(string(body))
	if !instanceIDPattern.MatchString(id) {
		return "", fmt.Errorf("instanceguard: malformed instance-id %q: %w", id, ErrNotAnInstance)
	}
	return id, nil
}

// checkHypervisor implements spec.md §4.2 step 2's priority order: the
// kernel-exposed hypervisor UUID file takes precedence over the DMI board
// asset tag. The asset tag is consulted only when the UUID file cannot be
// read; a readable UUID file without the "ec2" prefix fails the check.
func (g *Guard) checkHypervisor(instanceID string) error {
	if uuid, err := os.ReadFile(g.HypervisorUUIDPath); err == nil {
		if len(uuid) >= 3 && string(uuid[:3]) == "ec2" {
			return nil
		}
		return fmt.Errorf("instanceguard: hypervisor uuid does not identify an ec2 instance: %w", ErrNotAnInstance)
	}

	tag, err := os.ReadFile(g.DMIAssetTagPath)
	if err != nil {
		return fmt.Errorf("instanceguard: no hypervisor evidence available: %w", ErrNotAnInstance)
	}
	if strings.TrimSpace(string(tag)) != instanceID {
		return fmt.Errorf("instanceguard: dmi board asset tag does not match instance-id: %w", ErrNotAnInstance)
	}
	return nil
}

func (g *Guard) fetchZone(ctx context.Context) (string, error) {
	body, found, err := g.Metadata.Fetch(ctx, "/meta-data/placement/availability-zone/")
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("availability zone not published: %w", ErrNotAnInstance)
	}

	zone := strings.TrimSpace(string(body))
	if !azPattern.MatchString(zone) {
		return "", fmt.Errorf("malformed availability zone %q: %w", zone, ErrNotAnInstance)
	}
	return zone, nil
}

// deriveRegion strips the trailing single lowercase letter (and any
// trailing path suffix some metadata responses append) from an
// availability zone, per spec.md §4.2 step 3.
func deriveRegion(zone string) string {
	zone = strings.SplitN(zone, "/", 2)[0]
	if len(zone) == 0 {
		return zone
	}
	return zone[:len(zone)-1]
}
