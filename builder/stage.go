package builder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/tinkerbase/sdimager/progress"
)

// stageWorkImage materializes the verified cache file as the mutable work
// image. Compressed sources are decompressed; anything else is copied so
// the cache stays pristine.
func (b *Builder) stageWorkImage(cached string) (string, error) {
	dest := b.cfg.workImage()
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("failed to clear previous work image: %w", err)
	}

	src, err := os.Open(cached)
	if err != nil {
		return "", errors.Join(ErrFailedToPrepareImage, err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return "", errors.Join(ErrFailedToPrepareImage, err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", errors.Join(ErrFailedToPrepareImage, err)
	}

	title := fmt.Sprintf("Stage %s", filepath.Base(cached))

	if strings.HasSuffix(cached, ".xz") {
		b.log.Info("Decompressing base image", slog.String("source", cached), slog.String("destination", dest))
		r, err := xz.NewReader(src)
		if err != nil {
			out.Close()
			return "", fmt.Errorf("failed to create xz reader: %w", err)
		}
		// Total is the compressed size; the bar undershoots but the byte
		// count stays honest.
		if _, err := progress.Copy(title, 0, out, r); err != nil {
			out.Close()
			os.Remove(dest)
			return "", errors.Join(ErrFailedToPrepareImage, err)
		}
	} else {
		b.log.Info("Copying base image", slog.String("source", cached), slog.String("destination", dest))
		if _, err := progress.Copy(title, stat.Size(), out, src); err != nil {
			out.Close()
			os.Remove(dest)
			return "", errors.Join(ErrFailedToPrepareImage, err)
		}
	}

	if err := out.Close(); err != nil {
		return "", errors.Join(ErrFailedToPrepareImage, err)
	}
	return dest, nil
}
