// Command ec2-publish-host-keys is HostKeyPublisher: invoked once at boot,
// it signs and publishes the instance's SSH host public keys to the cloud
// service so connecting clients can verify them.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/config"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/hostkeys"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/instanceguard"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/logger"
	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/metadataclient"
)

const (
	exitOK           = 0
	exitHardFailure  = 255
	invocationBudget = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithTimeout(context.Background(), invocationBudget)
	defer cancel()

	cfg := config.Load()
	metadata := metadataclient.New(cfg.MetadataBaseURL)

	publisher := hostkeys.New(metadata)
	publisher.Guard.HypervisorUUIDPath = cfg.HypervisorUUIDPath
	publisher.Guard.DMIAssetTagPath = cfg.DMIAssetTagPath
	publisher.HostKeyDir = cfg.SSHHostKeyDir

	if err := publisher.Publish(ctx); err != nil {
		if errors.Is(err, instanceguard.ErrNotAnInstance) {
			logger.Error(ctx, "invoked on a non-instance")
		} else {
			logger.Error(ctx, "failed to publish host keys", "error", err)
		}
		return exitHardFailure
	}

	return exitOK
}
