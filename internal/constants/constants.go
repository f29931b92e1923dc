package constants

import "errors"

var (
	ErrAlreadyMounted = errors.New("already mounted")
	ErrNoGrubEntries  = errors.New("no boot entries found in grub config")
)

const (
	OpPlatformCheck  = "platform-check"
	OpGPUProbe       = "gpu-probe"
	OpResolveKernel  = "resolve-kernel"
	OpOverlayMount   = "overlay-mount"
	OpUnlockModules  = "unlock-modules"
	OpDriverStatus   = "driver-status"
	OpKernelSource   = "kernel-source"
	OpDriverInstall  = "driver-install"
	OpDriverVerify   = "driver-verify"
	OpPublish        = "publish-artifacts"
	OpRestartKubelet = "restart-kubelet"
	OpWriteMounts    = "write-mounts"
)

// SkippedWhenInstalled lists the ops that are short-circuited when the driver
// status query already succeeds. Publish and notify are not in here on
// purpose, they run on every invocation.
var SkippedWhenInstalled = map[string]bool{
	OpKernelSource:  true,
	OpDriverInstall: true,
	OpDriverVerify:  true,
}

const (
	// ExpectedPlatformID is the os-release ID this installer supports.
	ExpectedPlatformID = "cos"

	// NvidiaVendorID is the PCI vendor id we probe for.
	NvidiaVendorID = "10de"

	// ModuleLockingFlag disables the LSM that refuses to load self-built
	// kernel modules. LOCKED means the flag is absent from /proc/cmdline.
	ModuleLockingFlag = "lsm.module_locking=0"

	ESPDevice     = "/dev/disk/by-label/EFI-SYSTEM"
	ESPMountPoint = "/tmp/esp"
	GrubCfgPath   = "efi/boot/grub.cfg"
	// GrubBootToken marks the kernel entries in grub.cfg we append the
	// module locking flag to.
	GrubBootToken = "cros_efi"

	DefaultInstallDir = "/var/lib/nvidia"
)

// The driver package is pinned per release of this tool, never derived at
// runtime. Bump all three together.
const (
	DriverVersion     = "535.154.05"
	DriverRunfile     = "NVIDIA-Linux-x86_64-" + DriverVersion + ".run"
	DriverDownloadURL = "https://us.download.nvidia.com/tesla/" + DriverVersion + "/" + DriverRunfile
	DriverSHA256      = "344545fa466d70733f08ff7ac07b6e05572e7bc431441c3db1e16b06eba87e8d"
)

const (
	KernelRepo   = "https://chromium.googlesource.com/chromiumos/third_party/kernel"
	KernelSrcDir = "/usr/src/linux"
)
