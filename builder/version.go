package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// versionTag derives the build's version tag from source-control metadata
// of the working tree the builder runs in. Builds outside a git checkout
// fall back to a timestamp so artifact names stay unique.
func (b *Builder) versionTag(ctx context.Context) string {
	tag, err := b.run.Output(ctx, "git", "describe", "--tags", "--always", "--dirty")
	if err != nil || tag == "" {
		fallback := time.Now().UTC().Format("20060102-150405")
		b.log.Warn("Could not derive version tag from git, using timestamp", slog.String("tag", fallback))
		return fallback
	}
	return tag
}

// ArtifactName is the documented output naming scheme: version tag plus
// the architecture/image suffix.
func ArtifactName(tag, suffix string) string {
	return fmt.Sprintf("%s-%s.img.xz", tag, suffix)
}

// versionInfoContents mirrors what ends up in /etc/version-info inside the
// image and in the version-info file next to the artifact.
func versionInfoContents(tag, suffix, imageURL string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "version=%s\n", tag)
	fmt.Fprintf(&sb, "suffix=%s\n", suffix)
	fmt.Fprintf(&sb, "base-image=%s\n", imageURL)
	fmt.Fprintf(&sb, "built=%s\n", time.Now().UTC().Format(time.RFC3339))
	return sb.String()
}

// writeVersionInfo stamps the mounted root filesystem.
func (b *Builder) writeVersionInfo(rootfs, tag string) error {
	path := filepath.Join(rootfs, versionInfoPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	contents := versionInfoContents(tag, b.cfg.Suffix, b.cfg.ImageURL)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		return fmt.Errorf("failed to write version-info: %w", err)
	}
	b.log.Info("Wrote version-info", slog.String("path", path), slog.String("version", tag))
	return nil
}

// writeVersionInfoSidecar drops the same contents next to the artifact.
func (b *Builder) writeVersionInfoSidecar(tag string) error {
	path := filepath.Join(b.cfg.OutputDir, "version-info")
	contents := versionInfoContents(tag, b.cfg.Suffix, b.cfg.ImageURL)
	return os.WriteFile(path, []byte(contents), 0644)
}
