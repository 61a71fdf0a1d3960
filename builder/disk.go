package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tinkerbase/sdimager/imagefs"
)

// rootPartitionNumber reads the staged image's partition table and returns
// the 1-based index of the root partition, the last one in the table.
// Single-partition images are fine; the root is then also the only
// partition.
func (b *Builder) rootPartitionNumber(path string) (int, error) {
	d, err := imagefs.Open(path)
	if err != nil {
		return 0, errors.Join(ErrFailedToPrepareImage, err)
	}
	defer d.Close()

	layout, err := imagefs.DetectLayout(d)
	if err != nil {
		return 0, errors.Join(ErrNoRootPartition, err)
	}
	num, err := imagefs.PartitionIndex(d, layout.Root)
	if err != nil {
		return 0, errors.Join(ErrNoRootPartition, err)
	}
	b.log.Info("Detected root partition", slog.String("image", path), slog.Int("partition", num))
	return num, nil
}

// growImage extends the image file so the root partition has room for the
// overlay and whatever the provisioning script installs.
func (b *Builder) growImage(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return errors.Join(ErrFailedToPrepareImage, err)
	}
	newSize := stat.Size() + b.cfg.GrowMB*1024*1024
	b.log.Info("Growing image file",
		slog.String("path", path),
		slog.Int64("from_bytes", stat.Size()),
		slog.Int64("to_bytes", newSize))
	if err := os.Truncate(path, newSize); err != nil {
		return errors.Join(ErrFailedToPrepareImage, err)
	}
	return nil
}

// expandRootPartition rewrites the root partition entry to span the space
// gained by growImage. sfdisk's ", +" shorthand grows partition N to the
// end of the device.
func (b *Builder) expandRootPartition(ctx context.Context, path string, rootNum int) error {
	b.log.Info("Expanding root partition", slog.String("image", path), slog.Int("partition", rootNum))
	err := b.run.RunInput(ctx, ", +\n", "sfdisk", "-N", fmt.Sprint(rootNum), "--no-reread", path)
	if err != nil {
		return errors.Join(ErrFailedToPrepareImage, err)
	}
	return nil
}

// attachLoop attaches the image as a partitioned loop device and registers
// best-effort detach on the cleanup stack.
func (b *Builder) attachLoop(ctx context.Context, path string) (string, error) {
	dev, err := b.run.Output(ctx, "losetup", "--show", "-f", "-P", path)
	if err != nil {
		return "", errors.Join(ErrFailedToPrepareImage, err)
	}
	b.log.Info("Attached loop device", slog.String("device", dev), slog.String("image", path))

	b.cleanup.push(func() {
		if err := b.run.Run(context.Background(), "losetup", "-d", dev); err != nil {
			b.log.Debug("Loop detach failed (ignored)", slog.String("device", dev), "error", err)
		}
	})
	return dev, nil
}

// resizeRootFilesystem grows the ext filesystem into the expanded partition.
// resize2fs refuses to touch a filesystem that has not been checked, so
// e2fsck runs first.
func (b *Builder) resizeRootFilesystem(ctx context.Context, rootDev string) error {
	b.log.Info("Resizing root filesystem", slog.String("device", rootDev))
	if err := b.run.Run(ctx, "e2fsck", "-fy", rootDev); err != nil {
		return errors.Join(ErrFailedToPrepareImage, err)
	}
	if err := b.run.Run(ctx, "resize2fs", rootDev); err != nil {
		return errors.Join(ErrFailedToPrepareImage, err)
	}
	return nil
}

// mountAll mounts the root partition, the boot partition under <root>/boot
// when one exists, and the chroot bind mounts. Every mount is pushed onto
// the cleanup stack so teardown happens in reverse order and ignores its
// own failures.
func (b *Builder) mountAll(ctx context.Context, loopDev string, rootNum int) (string, error) {
	rootfs := b.cfg.mountPoint()
	if err := os.MkdirAll(rootfs, 0755); err != nil {
		return "", errors.Join(ErrFailedToPrepareImage, err)
	}

	rootDev := imagefs.PartitionDevicePath(loopDev, rootNum)
	if err := b.mount(ctx, rootDev, rootfs); err != nil {
		return "", err
	}

	if rootNum > BootPartitionNum {
		bootDev := imagefs.PartitionDevicePath(loopDev, BootPartitionNum)
		bootMount := filepath.Join(rootfs, "boot")
		if err := os.MkdirAll(bootMount, 0755); err != nil {
			return "", errors.Join(ErrFailedToPrepareImage, err)
		}
		if err := b.mount(ctx, bootDev, bootMount); err != nil {
			return "", err
		}
	} else {
		b.log.Info("Single-partition image, no separate boot mount", slog.String("device", loopDev))
	}

	for _, src := range chrootBindMounts {
		target := filepath.Join(rootfs, src)
		if err := os.MkdirAll(target, 0755); err != nil {
			return "", errors.Join(ErrFailedToPrepareImage, err)
		}
		if err := b.bindMount(ctx, src, target); err != nil {
			return "", err
		}
	}

	return rootfs, nil
}

func (b *Builder) mount(ctx context.Context, dev, target string) error {
	if err := b.run.Run(ctx, "mount", dev, target); err != nil {
		return errors.Join(ErrFailedToPrepareImage, err)
	}
	b.pushUnmount(target)
	return nil
}

func (b *Builder) bindMount(ctx context.Context, src, target string) error {
	if err := b.run.Run(ctx, "mount", "--bind", src, target); err != nil {
		return errors.Join(ErrFailedToPrepareImage, err)
	}
	b.pushUnmount(target)
	return nil
}

func (b *Builder) pushUnmount(target string) {
	b.cleanup.push(func() {
		if err := b.run.Run(context.Background(), "umount", target); err != nil {
			b.log.Debug("Unmount failed (ignored)", slog.String("target", target), "error", err)
		}
	})
}

// zeroFreeSpace overwrites unused blocks on the (unmounted) root
// filesystem so the xz pass compresses them away.
func (b *Builder) zeroFreeSpace(ctx context.Context, rootDev string) error {
	if b.cfg.SkipZerofree {
		b.log.Info("Skipping zerofree pass")
		return nil
	}
	b.log.Info("Zeroing free blocks", slog.String("device", rootDev))
	if err := b.run.Run(ctx, "zerofree", rootDev); err != nil {
		return errors.Join(ErrFailedToFinalize, err)
	}
	return nil
}
