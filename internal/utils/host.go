package utils

import (
	"fmt"
	"os"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/pci"
	"github.com/joho/godotenv"

	"github.com/GoogleCloudPlatform/cos-gpu-installer/internal/constants"
)

// GetHostProcCmdline returns the path to the kernel cmdline. Overridable for
// tests via HOST_PROC_CMDLINE.
func GetHostProcCmdline() string {
	if c := os.Getenv("HOST_PROC_CMDLINE"); c != "" {
		return c
	}
	return "/proc/cmdline"
}

// GetHostOSRelease returns the path to the host os-release file. Overridable
// for tests via HOST_OS_RELEASE.
func GetHostOSRelease() string {
	if c := os.Getenv("HOST_OS_RELEASE"); c != "" {
		return c
	}
	return "/etc/os-release"
}

// GetHostProcConfigGz returns the path to the running kernel's compiled-in
// config. Overridable for tests via HOST_PROC_CONFIG_GZ.
func GetHostProcConfigGz() string {
	if c := os.Getenv("HOST_PROC_CONFIG_GZ"); c != "" {
		return c
	}
	return "/proc/config.gz"
}

// ReadCMDLineArg returns the values of all cmdline stanzas matching the given
// prefix. Stanzas without a value report an empty string, so callers can use
// the slice length as a presence check.
func ReadCMDLineArg(arg string) []string {
	cmdLine, err := os.ReadFile(GetHostProcCmdline())
	if err != nil {
		return []string{}
	}
	res := []string{}
	fields := strings.Fields(string(cmdLine))
	for _, f := range fields {
		if strings.HasPrefix(f, arg) {
			dat := strings.Split(f, arg)
			res = append(res, dat[1])
		}
	}
	return res
}

// ReadEnv parses an env-syntax file (os-release is one) into a map.
func ReadEnv(file string) (map[string]string, error) {
	return godotenv.Read(file)
}

// PlatformID returns the os-release ID of the host.
func PlatformID() (string, error) {
	env, err := ReadEnv(GetHostOSRelease())
	if err != nil {
		return "", fmt.Errorf("reading os-release: %w", err)
	}
	return env["ID"], nil
}

// KernelCommitID returns the kernel source commit baked into the host image
// metadata. Empty when the field is missing.
func KernelCommitID() (string, error) {
	env, err := ReadEnv(GetHostOSRelease())
	if err != nil {
		return "", fmt.Errorf("reading os-release: %w", err)
	}
	return env["KERNEL_COMMIT_ID"], nil
}

// ModuleLockingDisabled checks the running kernel's cmdline for the module
// locking flag. No flag means the kernel still refuses self-built modules.
func ModuleLockingDisabled() bool {
	return len(ReadCMDLineArg(constants.ModuleLockingFlag)) > 0
}

// GPUDevices enumerates the PCI bus and returns the NVIDIA devices found.
func GPUDevices() ([]*pci.Device, error) {
	info, err := ghw.PCI()
	if err != nil {
		return nil, fmt.Errorf("scanning pci devices: %w", err)
	}
	return FilterVendorDevices(info.Devices, constants.NvidiaVendorID), nil
}

// FilterVendorDevices returns the devices matching the given PCI vendor id.
func FilterVendorDevices(devices []*pci.Device, vendorID string) []*pci.Device {
	var res []*pci.Device
	for _, d := range devices {
		if d == nil || d.Vendor == nil {
			continue
		}
		if strings.EqualFold(d.Vendor.ID, vendorID) {
			res = append(res, d)
		}
	}
	return res
}
