package builder

import "os"

const (
	// Multi-partition images keep the boot filesystem first; the root
	// partition index comes from the image's own partition table.
	BootPartitionNum = 1

	cacheDirName  = "cache"
	workImageName = "image.img"
	mountDirName  = "mnt"

	versionInfoPath = "/etc/version-info"

	provisionTarget = "/tmp/provision.sh"
)

// chrootBindMounts are bind-mounted into the image before the chroot stage,
// in this order. Unmounting happens in reverse.
var chrootBindMounts = []string{
	"/dev",
	"/dev/pts",
	"/proc",
	"/sys",
}

var (
	// SkeletonCreateDirs are created on the image root before the overlay
	// is copied in.
	SkeletonCreateDirs = []string{
		"/opt/sdimager",
		"/var/lib/sdimager",
	}

	// SkeletonRemovePaths are removed from the base image's rootfs. The
	// stock first-login wizards get in the way of a headless appliance.
	SkeletonRemovePaths = []string{
		"/root/.not_logged_in_yet",
		"/etc/profile.d/armbian-check-first-login.sh",
		"/etc/systemd/system/getty@.service.d",
		"/etc/systemd/system/serial-getty@.service.d",
	}

	// SkeletonAdjustPermissions is applied after the overlay copy.
	SkeletonAdjustPermissions = map[string]os.FileMode{
		"/usr/local/bin/first-boot-setup.sh": 0700,
	}

	// SkeletonCreateSymlinks enables overlay-provided units without running
	// systemctl inside the image.
	SkeletonCreateSymlinks = map[string]string{
		"/etc/systemd/system/first-boot-setup.service": "/etc/systemd/system/multi-user.target.wants/first-boot-setup.service",
	}
)
