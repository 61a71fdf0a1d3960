// Package imagefs reads built images (or the block devices they were
// flashed to) with go-diskfs. It never mutates an image; all writes in
// this project happen through mounts on the host.
package imagefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/backend/file"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/partition/part"
	"github.com/samber/lo"
)

var (
	ErrNoPartitions    = errors.New("no partitions found")
	ErrNoRootPartition = errors.New("root partition not found")
	ErrPartitionLookup = errors.New("partition not found in table")
)

// Layout is the partition scheme every image this tool produces shares:
// an optional boot partition followed by the root filesystem.
type Layout struct {
	Boot part.Partition // nil when the image has a single partition
	Root part.Partition
}

// Open opens an image file or device read-only.
func Open(path string) (*disk.Disk, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	d, err := diskfs.OpenBackend(file.New(f, true),
		diskfs.WithOpenMode(diskfs.ReadOnly),
		diskfs.WithSectorSize(diskfs.SectorSizeDefault))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open disk backend for %s: %w", path, err)
	}
	return d, nil
}

// DetectLayout locates the boot and root partitions. The root partition is
// the last one; anything before it is treated as boot.
func DetectLayout(d *disk.Disk) (Layout, error) {
	table, err := d.GetPartitionTable()
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read partition table: %w", err)
	}

	parts := lo.Filter(table.GetPartitions(), func(p part.Partition, _ int) bool {
		return p != nil && p.GetSize() > 0
	})
	if len(parts) == 0 {
		return Layout{}, ErrNoPartitions
	}

	layout := Layout{Root: parts[len(parts)-1]}
	if len(parts) > 1 {
		layout.Boot = parts[0]
	}
	if layout.Root == nil {
		return Layout{}, ErrNoRootPartition
	}
	return layout, nil
}

// PartitionIndex returns the 1-based index of p in the disk's table, which
// is what disk.GetFilesystem expects.
func PartitionIndex(d *disk.Disk, p part.Partition) (int, error) {
	table, err := d.GetPartitionTable()
	if err != nil {
		return 0, err
	}

	parts := table.GetPartitions()
	idx := lo.IndexOf(parts, p)
	if idx == -1 {
		// pointer comparison fails across re-reads; fall back to geometry
		_, idx, _ = lo.FindIndexOf(parts, func(q part.Partition) bool {
			return q != nil && q.GetStart() == p.GetStart() && q.GetSize() == p.GetSize()
		})
	}
	if idx == -1 {
		return 0, ErrPartitionLookup
	}
	return idx + 1, nil
}

// PartitionDevicePath maps a block device and a 1-based partition number to
// the kernel's partition device name. Devices whose names end in a digit
// (loop0, mmcblk0, nvme0n1) take a "p" separator.
func PartitionDevicePath(device string, num int) string {
	name := strings.TrimPrefix(device, "/dev/")
	if len(name) > 0 && name[len(name)-1] >= '0' && name[len(name)-1] <= '9' {
		return fmt.Sprintf("/dev/%sp%d", name, num)
	}
	return fmt.Sprintf("/dev/%s%d", name, num)
}

// ReadVersionInfo pulls /etc/version-info from the root filesystem of a
// built image. Missing file is not an error; the image simply was not
// produced by this tool.
func ReadVersionInfo(d *disk.Disk, layout Layout) (string, error) {
	idx, err := PartitionIndex(d, layout.Root)
	if err != nil {
		return "", err
	}

	fs, err := d.GetFilesystem(idx)
	if err != nil {
		return "", fmt.Errorf("failed to open root filesystem: %w", err)
	}

	f, err := fs.OpenFile("/etc/version-info", os.O_RDONLY)
	if err != nil {
		return "", nil
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
