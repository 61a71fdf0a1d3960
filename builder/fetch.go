package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/tinkerbase/sdimager/progress"
)

// fetchBaseImage returns the path of a cache file whose SHA-256 matches the
// expected digest. A cached file that fails verification is thrown away and
// downloaded again exactly once; a second mismatch is fatal. Nothing else in
// the pipeline runs before this succeeds, so a bad checksum never mutates
// any state.
func (b *Builder) fetchBaseImage(ctx context.Context) (string, error) {
	dest := b.cfg.cachedImage()

	if _, err := os.Stat(dest); err == nil {
		b.log.Info("Using cached base image", slog.String("path", dest))
		err := verifyChecksum(dest, b.cfg.SHA256)
		if err == nil {
			return dest, nil
		}
		if !errors.Is(err, ErrChecksumMismatch) {
			return "", err
		}
		b.log.Warn("Cached image failed checksum verification, re-downloading", slog.String("path", dest), "error", err)
		if err := os.Remove(dest); err != nil {
			return "", fmt.Errorf("failed to drop stale cache file %s: %w", dest, err)
		}
	}

	if err := b.download(ctx, dest); err != nil {
		return "", err
	}
	if err := verifyChecksum(dest, b.cfg.SHA256); err != nil {
		return "", err
	}
	return dest, nil
}

func (b *Builder) download(ctx context.Context, dest string) error {
	b.log.Info("Downloading base image", slog.String("url", b.cfg.ImageURL), slog.String("destination", dest))

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 3

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, b.cfg.ImageURL, nil)
	if err != nil {
		return errors.Join(ErrDownloadFailed, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Join(ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %s", ErrDownloadFailed, resp.Status)
	}

	tmp := dest + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	title := fmt.Sprintf("Download %s", filepath.Base(dest))
	if _, err := progress.Copy(title, resp.ContentLength, f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Join(ErrDownloadFailed, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Join(ErrDownloadFailed, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move download into cache: %w", err)
	}
	return nil
}

func verifyChecksum(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for verification: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != expected {
		return fmt.Errorf("%w for %s: got %s, expected %s", ErrChecksumMismatch, path, got, expected)
	}
	return nil
}
