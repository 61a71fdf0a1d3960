package builder

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "v1.2.0-armhf.img.xz", ArtifactName("v1.2.0", "armhf"))
	assert.Equal(t, "20260830-101500-arm64.img.xz", ArtifactName("20260830-101500", "arm64"))
}

func TestVersionInfoContents(t *testing.T) {
	contents := versionInfoContents("v1.2.0", "armhf", "https://example.com/base.img.xz")

	assert.Contains(t, contents, "version=v1.2.0\n")
	assert.Contains(t, contents, "suffix=armhf\n")
	assert.Contains(t, contents, "base-image=https://example.com/base.img.xz\n")
	assert.Regexp(t, `built=\d{4}-\d{2}-\d{2}T`, contents)
}

func TestVersionTagFromGit(t *testing.T) {
	run := &fakeRunner{outputs: map[string]string{"git": "v1.2.3-4-gabcdef"}}
	b := New(validConfig(), testLogger(), run)

	assert.Equal(t, "v1.2.3-4-gabcdef", b.versionTag(context.Background()))
}

func TestVersionTagFallsBackToTimestamp(t *testing.T) {
	run := &fakeRunner{failOn: "git"}
	b := New(validConfig(), testLogger(), run)

	tag := b.versionTag(context.Background())
	assert.Regexp(t, regexp.MustCompile(`^\d{8}-\d{6}$`), tag)
}

func TestWriteVersionInfo(t *testing.T) {
	rootfs := t.TempDir()
	b := New(validConfig(), testLogger(), &fakeRunner{})

	require.NoError(t, b.writeVersionInfo(rootfs, "v2.0.0"))

	data, err := os.ReadFile(filepath.Join(rootfs, "etc", "version-info"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "version=v2.0.0\n")
	assert.Contains(t, string(data), "suffix=armhf\n")
}

func TestWriteVersionInfoSidecar(t *testing.T) {
	out := t.TempDir()
	cfg := validConfig()
	cfg.OutputDir = out
	b := New(cfg, testLogger(), &fakeRunner{})

	require.NoError(t, b.writeVersionInfoSidecar("v2.0.0"))

	data, err := os.ReadFile(filepath.Join(out, "version-info"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "version=v2.0.0\n")
}
