// Package flash writes a built image to a removable block device. It is a
// thin convenience over the build pipeline's output; partition-level
// surgery stays out of scope.
package flash

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/tinkerbase/sdimager/progress"
)

var (
	ErrNoRemovableDevices = errors.New("no removable block devices detected")
	ErrNotBlockDevice     = errors.New("destination is not a block device")
)

// Device describes a removable block device candidate.
type Device struct {
	Name      string
	Path      string
	SizeBytes uint64
	Model     string
}

// sysBlockGlob is swapped out by tests to point at a fake sysfs tree.
var sysBlockGlob = "/sys/block/*/removable"

// DiscoverRemovable lists removable, non-virtual block devices.
func DiscoverRemovable(logger *slog.Logger) ([]Device, error) {
	paths, err := filepath.Glob(sysBlockGlob)
	if err != nil {
		return nil, fmt.Errorf("failed to list block devices: %w", err)
	}

	var devices []Device
	for _, removablePath := range paths {
		flag, err := os.ReadFile(removablePath)
		if err != nil || strings.TrimSpace(string(flag)) != "1" {
			continue
		}

		name := filepath.Base(filepath.Dir(removablePath))
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") {
			continue
		}

		sysDir := filepath.Dir(removablePath)
		devices = append(devices, Device{
			Name:      name,
			Path:      filepath.Join("/dev", name),
			SizeBytes: readBlockSizeBytes(sysDir),
			Model:     strings.TrimSpace(readSysfsValue(filepath.Join(sysDir, "device/model"))),
		})
		logger.Debug("Found removable device", slog.String("device", name))
	}

	if len(devices) == 0 {
		return nil, ErrNoRemovableDevices
	}
	return devices, nil
}

func readSysfsValue(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func readBlockSizeBytes(sysDir string) uint64 {
	sizeContent := readSysfsValue(filepath.Join(sysDir, "size"))
	sectors, err := strconv.ParseUint(strings.TrimSpace(sizeContent), 10, 64)
	if err != nil {
		return 0
	}
	return sectors * 512 // sysfs size is in 512-byte sectors
}

// Flash writes imagePath (optionally .xz compressed) onto device after
// unmounting anything mounted from it.
func Flash(imagePath, device string, logger *slog.Logger) error {
	stat, err := os.Stat(device)
	if err != nil {
		return fmt.Errorf("failed to stat destination %s: %w", device, err)
	}
	if stat.Mode()&os.ModeDevice == 0 {
		return fmt.Errorf("%w: %s", ErrNotBlockDevice, device)
	}

	if err := UnmountDevicePartitions(device, logger); err != nil {
		return err
	}

	src, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("failed to open image %s: %w", imagePath, err)
	}
	defer src.Close()

	var reader io.Reader = src
	total := int64(0)
	if strings.HasSuffix(imagePath, ".xz") {
		r, err := xz.NewReader(src)
		if err != nil {
			return fmt.Errorf("failed to create xz reader: %w", err)
		}
		reader = r
	} else if info, err := src.Stat(); err == nil {
		total = info.Size()
	}

	dst, err := os.OpenFile(device, os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open device %s: %w", device, err)
	}

	logger.Info("Writing image", slog.String("image", imagePath), slog.String("device", device))
	title := fmt.Sprintf("Flash %s", filepath.Base(device))
	written, err := progress.Copy(title, total, dst, reader)
	if err != nil {
		dst.Close()
		return fmt.Errorf("failed to write image to %s: %w", device, err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("failed to sync %s: %w", device, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", device, err)
	}

	logger.Info("Flash complete", slog.String("device", device), slog.String("written", progress.ByteCount(written)))
	return nil
}

// UnmountDevicePartitions unmounts every mount backed by the device or one
// of its partitions, resolving symlinks the way automounters leave them.
func UnmountDevicePartitions(device string, logger *slog.Logger) error {
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return fmt.Errorf("failed to read /proc/mounts: %w", err)
	}

	resolvedTarget, _ := filepath.EvalSymlinks(device)
	var mountPoints []string

	for _, line := range strings.Split(string(mounts), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		dev := fields[0]
		mountPoint := fields[1]

		resolvedDev, _ := filepath.EvalSymlinks(dev)
		if strings.HasPrefix(dev, device) || (resolvedTarget != "" && strings.HasPrefix(resolvedDev, resolvedTarget)) {
			mountPoints = append(mountPoints, mountPoint)
			logger.Debug("Found mounted partition", slog.String("device", dev), slog.String("mount_point", mountPoint))
		}
	}

	for _, mp := range mountPoints {
		logger.Debug("Unmounting", slog.String("mount_point", mp))
		if out, err := exec.Command("umount", mp).CombinedOutput(); err != nil {
			return fmt.Errorf("failed to unmount %s: %v: %s", mp, err, string(out))
		}
	}
	return nil
}
