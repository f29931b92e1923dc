package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	cnst "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/constants"
	internalUtils "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
	"github.com/GoogleCloudPlatform/cos-gpu-installer/pkg/mount"
)

// unlockAndReboot patches the boot config to turn off kernel module locking
// and reboots the machine. It never returns on success: the next boot runs
// the whole workflow again and this time observes the flag on the cmdline.
// Any failure before the reboot aborts without rebooting, a partially
// rewritten boot config must never be booted into.
func (s *State) unlockAndReboot() error {
	if _, err := mount.MountESP(cnst.ESPDevice, cnst.ESPMountPoint); err != nil && !errors.Is(err, cnst.ErrAlreadyMounted) {
		return fmt.Errorf("mounting boot partition: %w", err)
	}

	if err := PatchGrubConfig(filepath.Join(cnst.ESPMountPoint, cnst.GrubCfgPath)); err != nil {
		return err
	}

	unix.Sync()
	s.LogIfError(mount.Unmount(cnst.ESPMountPoint), "unmounting boot partition")

	s.Logger.Info().Msg("Rebooting to turn off kernel module locking")
	return s.RebootFn()
}

// PatchGrubConfig backs up the grub config and appends the module locking
// flag to every boot entry. The backup is written before any rewrite, so a
// crash mid-write never leaves us without the pristine config. Re-running
// after a crash-before-reboot is a no-op, the flag is already in the file.
func PatchGrubConfig(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading grub config: %w", err)
	}

	if _, err := os.Stat(path + ".orig"); os.IsNotExist(err) {
		if err := os.WriteFile(path+".orig", content, 0644); err != nil {
			return fmt.Errorf("backing up grub config: %w", err)
		}
	}

	updated, err := AddModuleLockingFlag(string(content))
	if err != nil {
		return err
	}
	if updated == string(content) {
		return nil
	}
	return os.WriteFile(path, []byte(updated), 0644)
}

// AddModuleLockingFlag appends the module locking flag after each boot token
// in the grub config. Idempotent on configs that already carry the flag.
func AddModuleLockingFlag(grub string) (string, error) {
	if strings.Contains(grub, cnst.ModuleLockingFlag) {
		return grub, nil
	}
	if !strings.Contains(grub, cnst.GrubBootToken) {
		return "", cnst.ErrNoGrubEntries
	}
	return strings.ReplaceAll(grub, cnst.GrubBootToken, cnst.GrubBootToken+" "+cnst.ModuleLockingFlag), nil
}

// reboot asks the host to restart and waits for the kernel to tear this
// process down. The surrounding restart policy re-launches the workflow on
// the next boot.
func reboot() error {
	out, err := internalUtils.CommandWithPath("reboot")
	if err != nil {
		return fmt.Errorf("triggering reboot: %w (%s)", err, out)
	}
	// Reboot is asynchronous. Block here so no dependent op runs on a
	// machine that is going down.
	select {}
}
