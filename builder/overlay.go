package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// applyOverlays copies the skeleton tree onto the mounted root filesystem,
// then the optional custom overlay on top, then applies the inject /
// remove / symlink / permission tables.
func (b *Builder) applyOverlays(ctx context.Context, rootfs string) error {
	for _, dir := range b.cfg.CreateDirs {
		full := filepath.Join(rootfs, dir)
		if err := os.MkdirAll(full, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", full, err)
		}
	}

	for _, path := range b.cfg.RemovePaths {
		full := filepath.Join(rootfs, path)
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("failed to remove %s: %w", full, err)
		}
	}

	if b.cfg.SkeletonDir != "" {
		b.log.Info("Copying skeleton overlay", slog.String("source", b.cfg.SkeletonDir), slog.String("destination", rootfs))
		if err := b.rsync(ctx, b.cfg.SkeletonDir, rootfs); err != nil {
			return err
		}
	}

	if b.cfg.OverlayDir != "" {
		b.log.Info("Copying custom overlay", slog.String("source", b.cfg.OverlayDir), slog.String("destination", rootfs))
		if err := b.rsync(ctx, b.cfg.OverlayDir, rootfs); err != nil {
			return err
		}
	}

	for src, dst := range b.cfg.InjectFiles {
		dstPath := filepath.Join(rootfs, dst)
		b.log.Info("Injecting file", slog.String("src", src), slog.String("dst", dstPath))
		if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", dstPath, err)
		}
		if err := copyFile(src, dstPath); err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", src, dstPath, err)
		}
	}

	for src, dst := range b.cfg.Symlinks {
		dstPath := filepath.Join(rootfs, dst)
		if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory for symlink %s: %w", dstPath, err)
		}
		if err := os.Symlink(src, dstPath); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create symlink from %s to %s: %w", src, dstPath, err)
		}
	}

	for path, mode := range b.cfg.Permissions {
		full := filepath.Join(rootfs, path)
		if _, err := os.Stat(full); err != nil {
			continue // permission entries are advisory for files the overlay may not ship
		}
		if err := os.Chmod(full, mode); err != nil {
			return fmt.Errorf("failed to chmod %o %s: %w", mode, full, err)
		}
	}

	return nil
}

// rsync preserves ownership, permissions and symlinks, which a plain
// file-tree walk would have to reimplement.
func (b *Builder) rsync(ctx context.Context, src, dst string) error {
	return b.run.Run(ctx, "rsync", "-a", src+string(os.PathSeparator), dst+string(os.PathSeparator))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
