package imagefs

import (
	"os"
	"path/filepath"
	"testing"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createImage(t *testing.T, parts []*mbr.Partition) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := diskfs.Create(path, 32*1024*1024, diskfs.SectorSizeDefault)
	require.NoError(t, err)

	table := &mbr.Table{
		LogicalSectorSize:  512,
		PhysicalSectorSize: 512,
		Partitions:         parts,
	}
	require.NoError(t, d.Partition(table))
	require.NoError(t, d.Close())
	return path
}

func TestDetectLayoutBootAndRoot(t *testing.T) {
	path := createImage(t, []*mbr.Partition{
		{Type: mbr.Fat32LBA, Start: 2048, Size: 2048},
		{Type: mbr.Linux, Start: 4096, Size: 8192},
	})

	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()

	layout, err := DetectLayout(d)
	require.NoError(t, err)
	require.NotNil(t, layout.Boot)
	require.NotNil(t, layout.Root)

	// Root is the last partition, boot the first.
	assert.Equal(t, int64(2048*512), layout.Boot.GetStart())
	assert.Equal(t, int64(4096*512), layout.Root.GetStart())
}

func TestDetectLayoutSinglePartition(t *testing.T) {
	path := createImage(t, []*mbr.Partition{
		{Type: mbr.Linux, Start: 2048, Size: 8192},
	})

	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()

	layout, err := DetectLayout(d)
	require.NoError(t, err)
	assert.Nil(t, layout.Boot, "a single-partition image has no separate boot partition")
	require.NotNil(t, layout.Root)
	assert.Equal(t, int64(2048*512), layout.Root.GetStart())
}

func TestDetectLayoutNoTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 1024*1024), 0644))

	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()

	_, err = DetectLayout(d)
	assert.Error(t, err)
}

func TestPartitionIndex(t *testing.T) {
	path := createImage(t, []*mbr.Partition{
		{Type: mbr.Fat32LBA, Start: 2048, Size: 2048},
		{Type: mbr.Linux, Start: 4096, Size: 8192},
	})

	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()

	layout, err := DetectLayout(d)
	require.NoError(t, err)

	idx, err := PartitionIndex(d, layout.Boot)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = PartitionIndex(d, layout.Root)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestPartitionDevicePath(t *testing.T) {
	tests := []struct {
		device string
		num    int
		want   string
	}{
		{"/dev/loop0", 2, "/dev/loop0p2"},
		{"/dev/mmcblk0", 1, "/dev/mmcblk0p1"},
		{"/dev/nvme0n1", 2, "/dev/nvme0n1p2"},
		{"/dev/sda", 1, "/dev/sda1"},
		{"/dev/sdb", 3, "/dev/sdb3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PartitionDevicePath(tt.device, tt.num))
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.img"))
	assert.Error(t, err)
}

func TestReadVersionInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := diskfs.Create(path, 32*1024*1024, diskfs.SectorSizeDefault)
	require.NoError(t, err)

	table := &mbr.Table{
		LogicalSectorSize:  512,
		PhysicalSectorSize: 512,
		Partitions: []*mbr.Partition{
			{Type: mbr.Fat32LBA, Start: 2048, Size: 40960},
		},
	}
	require.NoError(t, d.Partition(table))

	fs, err := d.CreateFilesystem(disk.FilesystemSpec{Partition: 1, FSType: filesystem.TypeFat32})
	require.NoError(t, err)
	require.NoError(t, fs.Mkdir("/etc"))

	f, err := fs.OpenFile("/etc/version-info", os.O_CREATE|os.O_RDWR)
	require.NoError(t, err)
	_, err = f.Write([]byte("version=v1.2.0\nsuffix=armhf\n"))
	require.NoError(t, err)
	require.NoError(t, d.Close())

	rd, err := Open(path)
	require.NoError(t, err)
	defer rd.Close()

	layout, err := DetectLayout(rd)
	require.NoError(t, err)

	info, err := ReadVersionInfo(rd, layout)
	require.NoError(t, err)
	assert.Equal(t, "version=v1.2.0\nsuffix=armhf", info)
}

func TestReadVersionInfoMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := diskfs.Create(path, 32*1024*1024, diskfs.SectorSizeDefault)
	require.NoError(t, err)

	table := &mbr.Table{
		LogicalSectorSize:  512,
		PhysicalSectorSize: 512,
		Partitions: []*mbr.Partition{
			{Type: mbr.Fat32LBA, Start: 2048, Size: 40960},
		},
	}
	require.NoError(t, d.Partition(table))
	_, err = d.CreateFilesystem(disk.FilesystemSpec{Partition: 1, FSType: filesystem.TypeFat32})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	rd, err := Open(path)
	require.NoError(t, err)
	defer rd.Close()

	layout, err := DetectLayout(rd)
	require.NoError(t, err)

	info, err := ReadVersionInfo(rd, layout)
	require.NoError(t, err)
	assert.Empty(t, info, "an image without a version-info file is not an error")
}
