package builder

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config carries everything one build needs. The three required fields map
// to the positional CLI arguments; the rest have defaults.
type Config struct {
	ImageURL string // source base image URL (may end in .xz)
	SHA256   string // expected hex digest of the download
	Suffix   string // architecture/image suffix embedded in the artifact name

	WorkDir         string // scratch space, cache and mount points live here
	OutputDir       string // final artifact destination
	SkeletonDir     string // static overlay tree copied onto the root filesystem
	OverlayDir      string // optional user overlay copied after the skeleton
	ProvisionScript string // script executed inside the chroot

	GrowMB       int64 // how much to grow the image file before repartitioning
	KeepImage    bool  // keep the uncompressed work image after the build
	SkipZerofree bool  // skip the free-space zeroing pass

	// Profile-provided tables; nil means use the package defaults.
	InjectFiles map[string]string
	RemovePaths []string
	CreateDirs  []string
	Symlinks    map[string]string
	Permissions map[string]os.FileMode
}

func (c *Config) ApplyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "sdimager")
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.GrowMB == 0 {
		c.GrowMB = 512
	}
	if c.InjectFiles == nil {
		c.InjectFiles = map[string]string{}
	}
	if c.RemovePaths == nil {
		c.RemovePaths = SkeletonRemovePaths
	}
	if c.CreateDirs == nil {
		c.CreateDirs = SkeletonCreateDirs
	}
	if c.Symlinks == nil {
		c.Symlinks = SkeletonCreateSymlinks
	}
	if c.Permissions == nil {
		c.Permissions = SkeletonAdjustPermissions
	}
}

func (c *Config) Validate() error {
	if c.ImageURL == "" {
		return ErrMissingImageURL
	}
	if c.SHA256 == "" {
		return ErrMissingChecksum
	}
	if c.Suffix == "" {
		return ErrMissingSuffix
	}
	digest := strings.ToLower(strings.TrimSpace(c.SHA256))
	if len(digest) != 64 {
		return ErrInvalidChecksum
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	c.SHA256 = digest

	if c.SkeletonDir != "" {
		if _, err := os.Stat(c.SkeletonDir); err != nil {
			return fmt.Errorf("%w: %s", ErrSkeletonNotFound, c.SkeletonDir)
		}
	}
	if c.OverlayDir != "" {
		if _, err := os.Stat(c.OverlayDir); err != nil {
			return fmt.Errorf("%w: %s", ErrOverlayNotFound, c.OverlayDir)
		}
	}
	if c.ProvisionScript != "" {
		if _, err := os.Stat(c.ProvisionScript); err != nil {
			return fmt.Errorf("%w: %s", ErrProvisionNotFound, c.ProvisionScript)
		}
	}
	return nil
}

func (c *Config) cacheDir() string    { return filepath.Join(c.WorkDir, cacheDirName) }
func (c *Config) workImage() string   { return filepath.Join(c.WorkDir, workImageName) }
func (c *Config) mountPoint() string  { return filepath.Join(c.WorkDir, mountDirName) }
func (c *Config) cachedImage() string {
	name := filepath.Base(c.ImageURL)
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return filepath.Join(c.cacheDir(), name)
}
