package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `
skeleton = "/srv/profiles/kiosk/skeleton"
overlay = "/srv/profiles/kiosk/overlay"
provision_script = "/srv/profiles/kiosk/provision.sh"
grow_mb = 1024

remove_paths = ["/root/.not_logged_in_yet"]
create_dirs = ["/opt/kiosk"]

[inject_files]
"/srv/secrets/authorized_keys" = "/root/.ssh/authorized_keys"

[symlinks]
"/etc/systemd/system/kiosk.service" = "/etc/systemd/system/multi-user.target.wants/kiosk.service"

[permissions]
"/usr/local/bin/kiosk.sh" = "0700"
`

func writeProfile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, sampleProfile))
	require.NoError(t, err)

	assert.Equal(t, "/srv/profiles/kiosk/skeleton", p.Skeleton)
	assert.Equal(t, "/srv/profiles/kiosk/overlay", p.Overlay)
	assert.Equal(t, int64(1024), p.GrowMB)
	assert.Equal(t, "/root/.ssh/authorized_keys", p.InjectFiles["/srv/secrets/authorized_keys"])
	assert.Equal(t, "0700", p.Permissions["/usr/local/bin/kiosk.sh"])
}

func TestLoadProfileRejectsGarbage(t *testing.T) {
	_, err := LoadProfile(writeProfile(t, "skeleton = [not toml"))
	assert.Error(t, err)
}

func TestProfileApply(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, sampleProfile))
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, p.Apply(&cfg))

	assert.Equal(t, "/srv/profiles/kiosk/skeleton", cfg.SkeletonDir)
	assert.Equal(t, "/srv/profiles/kiosk/overlay", cfg.OverlayDir)
	assert.Equal(t, "/srv/profiles/kiosk/provision.sh", cfg.ProvisionScript)
	assert.Equal(t, int64(1024), cfg.GrowMB)
	assert.Equal(t, []string{"/root/.not_logged_in_yet"}, cfg.RemovePaths)
	assert.Equal(t, os.FileMode(0700), cfg.Permissions["/usr/local/bin/kiosk.sh"])
}

func TestProfileApplyKeepsFlagValues(t *testing.T) {
	p, err := LoadProfile(writeProfile(t, sampleProfile))
	require.NoError(t, err)

	cfg := Config{
		SkeletonDir: "/flags/skeleton",
		GrowMB:      256,
	}
	require.NoError(t, p.Apply(&cfg))

	// Explicit flag values win over the profile.
	assert.Equal(t, "/flags/skeleton", cfg.SkeletonDir)
	assert.Equal(t, int64(256), cfg.GrowMB)
	// Unset fields still come from the profile.
	assert.Equal(t, "/srv/profiles/kiosk/overlay", cfg.OverlayDir)
}

func TestProfileApplyRejectsBadPermissions(t *testing.T) {
	p := &Profile{Permissions: map[string]string{"/bin/x": "rwxr-xr-x"}}
	var cfg Config
	assert.Error(t, p.Apply(&cfg))
}
