package builder

import "errors"

var (
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrDownloadFailed       = errors.New("failed to download base image")
	ErrFailedToPrepareImage = errors.New("failed to prepare image")
	ErrFailedToProvision    = errors.New("failed to provision image")
	ErrFailedToFinalize     = errors.New("failed to finalize image")

	ErrMissingImageURL    = errors.New("image URL is required")
	ErrMissingChecksum    = errors.New("expected SHA-256 checksum is required")
	ErrMissingSuffix      = errors.New("image suffix is required")
	ErrInvalidChecksum    = errors.New("expected checksum is not a hex SHA-256 digest")
	ErrSkeletonNotFound   = errors.New("skeleton directory not found")
	ErrOverlayNotFound    = errors.New("custom overlay directory not found")
	ErrProvisionNotFound  = errors.New("provisioning script not found")
	ErrNoRootPartition    = errors.New("no root partition found in image")
	ErrPartitionTableGone = errors.New("partition table unreadable after build")
)
