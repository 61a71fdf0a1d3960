package builder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"

	"github.com/tinkerbase/sdimager/progress"
)

// compressImage produces the final artifact from the work image.
func (b *Builder) compressImage(src, tag string) (string, error) {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return "", errors.Join(ErrFailedToFinalize, err)
	}
	dest := filepath.Join(b.cfg.OutputDir, ArtifactName(tag, b.cfg.Suffix))

	b.log.Info("Compressing image", slog.String("source", src), slog.String("destination", dest))

	in, err := os.Open(src)
	if err != nil {
		return "", errors.Join(ErrFailedToFinalize, err)
	}
	defer in.Close()

	stat, err := in.Stat()
	if err != nil {
		return "", errors.Join(ErrFailedToFinalize, err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", errors.Join(ErrFailedToFinalize, err)
	}

	w, err := xz.NewWriter(out)
	if err != nil {
		out.Close()
		return "", fmt.Errorf("failed to create xz writer: %w", err)
	}

	title := fmt.Sprintf("Compress %s", filepath.Base(dest))
	if _, err := progress.Copy(title, stat.Size(), w, in); err != nil {
		w.Close()
		out.Close()
		os.Remove(dest)
		return "", errors.Join(ErrFailedToFinalize, err)
	}
	if err := w.Close(); err != nil {
		out.Close()
		os.Remove(dest)
		return "", errors.Join(ErrFailedToFinalize, err)
	}
	if err := out.Close(); err != nil {
		return "", errors.Join(ErrFailedToFinalize, err)
	}
	return dest, nil
}
