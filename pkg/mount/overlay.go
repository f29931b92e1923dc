// Package mount establishes the writable overlays that let driver artifacts
// outlive this container on an otherwise read-only root filesystem, plus the
// boot partition mount used to rewrite the kernel cmdline.
package mount

import (
	"fmt"
	"path/filepath"

	"github.com/containerd/containerd/mount"
	"github.com/deniswernert/go-fstab"
	"golang.org/x/sys/unix"

	internalUtils "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
)

// Overlay describes one copy-on-write composition over a read-only system
// directory. Upper and work live under the durable cache dir so whatever the
// driver installer writes survives a container restart.
type Overlay struct {
	LowerDir string
	UpperDir string
	WorkDir  string
}

// OverlaysFor returns the overlays the driver installation needs, with their
// writable layers rooted under cacheDir.
func OverlaysFor(cacheDir string) []Overlay {
	return []Overlay{
		{LowerDir: "/usr", UpperDir: filepath.Join(cacheDir, "usr-writable"), WorkDir: filepath.Join(cacheDir, "usr-work")},
		{LowerDir: "/lib", UpperDir: filepath.Join(cacheDir, "lib-writable"), WorkDir: filepath.Join(cacheDir, "lib-work")},
	}
}

func (o Overlay) operation() mountOperation {
	tmpMount := mount.Mount{
		Type:   "overlay",
		Source: "overlay",
		Options: []string{
			fmt.Sprintf("lowerdir=%s", o.LowerDir),
			fmt.Sprintf("upperdir=%s", o.UpperDir),
			fmt.Sprintf("workdir=%s", o.WorkDir),
		},
	}

	tmpFstab := internalUtils.MountToFstab(tmpMount)
	tmpFstab.File = o.LowerDir

	return mountOperation{
		MountOption: tmpMount,
		FstabEntry:  *tmpFstab,
		Target:      o.LowerDir,
		PrepareCallback: func() error {
			// Make sure upper and workdir exist
			if err := internalUtils.CreateIfNotExists(o.UpperDir); err != nil {
				return err
			}
			return internalUtils.CreateIfNotExists(o.WorkDir)
		},
	}
}

// Mount mounts the overlay over its lower dir. Returns ErrAlreadyMounted when
// the target is mounted already, so re-running never stacks a second overlay.
func (o Overlay) Mount() (*fstab.Mount, error) {
	op := o.operation()
	if err := op.run(); err != nil {
		return nil, err
	}
	return &op.FstabEntry, nil
}

// MountESP mounts the EFI system partition on target so the grub config can
// be rewritten. Idempotent the same way Overlay.Mount is.
func MountESP(device, target string) (*fstab.Mount, error) {
	tmpMount := mount.Mount{
		Type:    "vfat",
		Source:  device,
		Options: []string{"rw"},
	}
	tmpFstab := internalUtils.MountToFstab(tmpMount)
	tmpFstab.File = target
	op := mountOperation{
		MountOption: tmpMount,
		FstabEntry:  *tmpFstab,
		Target:      target,
		PrepareCallback: func() error {
			return internalUtils.CreateIfNotExists(target)
		},
	}
	if err := op.run(); err != nil {
		return nil, err
	}
	return &op.FstabEntry, nil
}

// Unmount detaches the given mountpoint.
func Unmount(target string) error {
	return unix.Unmount(target, 0)
}
