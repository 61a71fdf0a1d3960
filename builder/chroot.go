package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// provision copies the provisioning script into the image and executes it
// through chroot. The bind mounts set up by mountAll give the script a
// working /dev, /proc and /sys; name resolution borrows the host's
// resolv.conf for the duration of the run.
func (b *Builder) provision(ctx context.Context, rootfs string) error {
	if b.cfg.ProvisionScript == "" {
		b.log.Info("No provisioning script configured, skipping chroot stage")
		return nil
	}

	target := filepath.Join(rootfs, provisionTarget)
	if err := copyFile(b.cfg.ProvisionScript, target); err != nil {
		return errors.Join(ErrFailedToProvision, err)
	}
	if err := os.Chmod(target, 0700); err != nil {
		return errors.Join(ErrFailedToProvision, err)
	}
	defer os.Remove(target)

	restoreResolv, err := b.lendResolvConf(rootfs)
	if err != nil {
		return errors.Join(ErrFailedToProvision, err)
	}
	defer restoreResolv()

	b.log.Info("Running provisioning script in chroot",
		slog.String("script", b.cfg.ProvisionScript),
		slog.String("rootfs", rootfs))
	if err := b.run.RunStreamed(ctx, "chroot", rootfs, "/bin/sh", provisionTarget); err != nil {
		return errors.Join(ErrFailedToProvision, err)
	}
	return nil
}

// lendResolvConf swaps the image's resolv.conf for the host's and returns a
// restore function. The image file is often a dangling symlink into a
// systemd-resolved runtime dir, so it is moved aside rather than copied over.
func (b *Builder) lendResolvConf(rootfs string) (func(), error) {
	imgResolv := filepath.Join(rootfs, "etc", "resolv.conf")
	saved := imgResolv + ".sdimager-saved"

	moved := false
	if _, err := os.Lstat(imgResolv); err == nil {
		if err := os.Rename(imgResolv, saved); err != nil {
			return nil, fmt.Errorf("failed to set aside image resolv.conf: %w", err)
		}
		moved = true
	}

	if err := copyFile("/etc/resolv.conf", imgResolv); err != nil {
		if moved {
			_ = os.Rename(saved, imgResolv)
		}
		return nil, fmt.Errorf("failed to copy host resolv.conf: %w", err)
	}

	return func() {
		_ = os.Remove(imgResolv)
		if moved {
			_ = os.Rename(saved, imgResolv)
		}
	}, nil
}
