package builder

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/tinkerbase/sdimager/imagefs"
)

// Builder drives one image build from download to compressed artifact.
// Strictly sequential; every step blocks on the previous one. Two builds
// sharing a work dir would race on the mount points — accepted limitation.
type Builder struct {
	cfg     Config
	log     *slog.Logger
	run     Runner
	cleanup *cleanupStack
}

func New(cfg Config, logger *slog.Logger, runner Runner) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	cfg.ApplyDefaults()
	return &Builder{
		cfg:     cfg,
		log:     logger,
		run:     runner,
		cleanup: &cleanupStack{},
	}
}

// Run executes the pipeline and returns the path of the compressed
// artifact. Cleanup (unmounts, loop detach) runs exactly once no matter
// which step fails; register Cleanup with the caller's signal handling to
// cover interrupts.
func (b *Builder) Run(ctx context.Context) (string, error) {
	defer b.cleanup.run()

	if err := b.cfg.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.cfg.WorkDir, 0755); err != nil {
		return "", err
	}

	// Nothing below mutates any state until the checksum has been accepted.
	cached, err := b.fetchBaseImage(ctx)
	if err != nil {
		return "", err
	}

	image, err := b.stageWorkImage(cached)
	if err != nil {
		return "", err
	}

	rootNum, err := b.rootPartitionNumber(image)
	if err != nil {
		return "", err
	}

	if err := b.growImage(image); err != nil {
		return "", err
	}
	if err := b.expandRootPartition(ctx, image, rootNum); err != nil {
		return "", err
	}

	loopDev, err := b.attachLoop(ctx, image)
	if err != nil {
		return "", err
	}
	mountsMark := b.cleanup.mark()
	rootDev := imagefs.PartitionDevicePath(loopDev, rootNum)

	if err := b.resizeRootFilesystem(ctx, rootDev); err != nil {
		return "", err
	}

	rootfs, err := b.mountAll(ctx, loopDev, rootNum)
	if err != nil {
		return "", err
	}

	if err := b.applyOverlays(ctx, rootfs); err != nil {
		return "", err
	}
	if err := b.provision(ctx, rootfs); err != nil {
		return "", err
	}

	tag := b.versionTag(ctx)
	if err := b.writeVersionInfo(rootfs, tag); err != nil {
		return "", err
	}

	// Normal teardown: release the mounts so zerofree sees an offline
	// filesystem, but keep the loop device attached for it.
	b.cleanup.runFrom(mountsMark)

	if err := b.zeroFreeSpace(ctx, rootDev); err != nil {
		return "", err
	}

	// Detach the loop device; the deferred run above becomes a no-op.
	b.cleanup.run()

	if err := b.verifyImage(image); err != nil {
		return "", err
	}

	artifact, err := b.compressImage(image, tag)
	if err != nil {
		return "", err
	}
	if err := b.writeVersionInfoSidecar(tag); err != nil {
		return "", err
	}

	if !b.cfg.KeepImage {
		if err := os.Remove(image); err != nil {
			b.log.Debug("Failed to remove work image (ignored)", slog.String("path", image), "error", err)
		}
	}

	b.log.Info("Build finished", slog.String("artifact", artifact))
	return artifact, nil
}

// Cleanup releases all still-registered resources. Exposed so the CLI can
// hook it into signal handling; safe to call any number of times.
func (b *Builder) Cleanup() {
	b.cleanup.run()
}

// verifyImage re-reads the finished work image before compression to make
// sure repartitioning left a usable partition table behind.
func (b *Builder) verifyImage(path string) error {
	d, err := imagefs.Open(path)
	if err != nil {
		return errors.Join(ErrPartitionTableGone, err)
	}
	defer d.Close()

	layout, err := imagefs.DetectLayout(d)
	if err != nil {
		return errors.Join(ErrPartitionTableGone, err)
	}
	b.log.Info("Verified partition table",
		slog.Int64("root_start", layout.Root.GetStart()),
		slog.Int64("root_size", layout.Root.GetSize()))
	return nil
}
