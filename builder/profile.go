package builder

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Profile is an optional TOML file describing a build variant: where the
// skeleton and overlay live, which extra files to inject and which stock
// files to drop. Values present in the profile override Config defaults;
// explicit CLI flags still win.
type Profile struct {
	Skeleton        string            `toml:"skeleton"`
	Overlay         string            `toml:"overlay"`
	ProvisionScript string            `toml:"provision_script"`
	GrowMB          int64             `toml:"grow_mb"`
	InjectFiles     map[string]string `toml:"inject_files"`
	RemovePaths     []string          `toml:"remove_paths"`
	CreateDirs      []string          `toml:"create_dirs"`
	Symlinks        map[string]string `toml:"symlinks"`
	Permissions     map[string]string `toml:"permissions"` // octal strings, e.g. "0700"
}

func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return &p, nil
}

// Apply folds the profile into cfg. Only unset Config fields are touched so
// flag values keep precedence.
func (p *Profile) Apply(cfg *Config) error {
	if cfg.SkeletonDir == "" {
		cfg.SkeletonDir = p.Skeleton
	}
	if cfg.OverlayDir == "" {
		cfg.OverlayDir = p.Overlay
	}
	if cfg.ProvisionScript == "" {
		cfg.ProvisionScript = p.ProvisionScript
	}
	if cfg.GrowMB == 0 && p.GrowMB > 0 {
		cfg.GrowMB = p.GrowMB
	}
	if len(p.InjectFiles) > 0 && cfg.InjectFiles == nil {
		cfg.InjectFiles = p.InjectFiles
	}
	if len(p.RemovePaths) > 0 && cfg.RemovePaths == nil {
		cfg.RemovePaths = p.RemovePaths
	}
	if len(p.CreateDirs) > 0 && cfg.CreateDirs == nil {
		cfg.CreateDirs = p.CreateDirs
	}
	if len(p.Symlinks) > 0 && cfg.Symlinks == nil {
		cfg.Symlinks = p.Symlinks
	}
	if len(p.Permissions) > 0 && cfg.Permissions == nil {
		perms := make(map[string]os.FileMode, len(p.Permissions))
		for path, mode := range p.Permissions {
			v, err := strconv.ParseUint(mode, 8, 32)
			if err != nil {
				return fmt.Errorf("invalid permission %q for %s: %w", mode, path, err)
			}
			perms[path] = os.FileMode(v)
		}
		cfg.Permissions = perms
	}
	return nil
}
