package builder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func validConfig() Config {
	return Config{
		ImageURL: "https://example.com/base.img.xz",
		SHA256:   testDigest,
		Suffix:   "armhf",
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, filepath.Join(os.TempDir(), "sdimager"), cfg.WorkDir)
	assert.Equal(t, ".", cfg.OutputDir)
	assert.Equal(t, int64(512), cfg.GrowMB)
	assert.NotNil(t, cfg.InjectFiles)
	assert.Equal(t, SkeletonRemovePaths, cfg.RemovePaths)
	assert.Equal(t, SkeletonCreateDirs, cfg.CreateDirs)
	assert.Equal(t, SkeletonCreateSymlinks, cfg.Symlinks)
	assert.Equal(t, SkeletonAdjustPermissions, cfg.Permissions)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{WorkDir: "/scratch", OutputDir: "/out", GrowMB: 64, RemovePaths: []string{}}
	cfg.ApplyDefaults()

	assert.Equal(t, "/scratch", cfg.WorkDir)
	assert.Equal(t, "/out", cfg.OutputDir)
	assert.Equal(t, int64(64), cfg.GrowMB)
	assert.Empty(t, cfg.RemovePaths, "an explicit empty table must not be replaced by the defaults")
}

func TestValidateRequiredFields(t *testing.T) {
	cfg := validConfig()
	cfg.ImageURL = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingImageURL)

	cfg = validConfig()
	cfg.SHA256 = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingChecksum)

	cfg = validConfig()
	cfg.Suffix = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingSuffix)
}

func TestValidateChecksumFormat(t *testing.T) {
	cfg := validConfig()
	cfg.SHA256 = "abc123"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidChecksum)

	cfg = validConfig()
	cfg.SHA256 = strings.Repeat("z", 64)
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidChecksum)

	// Uppercase digests are accepted and normalized.
	cfg = validConfig()
	cfg.SHA256 = strings.ToUpper(testDigest)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, testDigest, cfg.SHA256)
}

func TestValidateInputPaths(t *testing.T) {
	cfg := validConfig()
	cfg.SkeletonDir = "/does/not/exist"
	assert.ErrorIs(t, cfg.Validate(), ErrSkeletonNotFound)

	cfg = validConfig()
	cfg.OverlayDir = "/does/not/exist"
	assert.ErrorIs(t, cfg.Validate(), ErrOverlayNotFound)

	cfg = validConfig()
	cfg.ProvisionScript = "/does/not/exist.sh"
	assert.ErrorIs(t, cfg.Validate(), ErrProvisionNotFound)

	dir := t.TempDir()
	script := filepath.Join(dir, "provision.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0755))

	cfg = validConfig()
	cfg.SkeletonDir = dir
	cfg.ProvisionScript = script
	assert.NoError(t, cfg.Validate())
}

func TestCachedImageStripsURLQuery(t *testing.T) {
	cfg := Config{
		ImageURL: "https://example.com/dl/base-bookworm.img.xz?token=abc&expires=42",
		WorkDir:  "/work",
	}
	assert.Equal(t, filepath.Join("/work", cacheDirName, "base-bookworm.img.xz"), cfg.cachedImage())
}
