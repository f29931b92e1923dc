package install

import "path/filepath"

// Config carries every tunable of the workflow. It is built once from flags
// and environment in the CLI action and never mutated afterwards, components
// read from it instead of the ambient environment.
type Config struct {
	// InstallDir is the host dir the cache and published artifacts live under.
	InstallDir string
	// KernelCommit overrides the kernel source commit auto-detected from the
	// host image metadata.
	KernelCommit string
	// DevicePlugin signals that a device plugin advertises the GPU, so the
	// kubelet restart notification is suppressed.
	DevicePlugin bool
}

// CacheDir is the only reboot-durable state this workflow has. It holds the
// overlay layers, the download cache and the mount manifest.
func (c Config) CacheDir() string {
	return filepath.Join(c.InstallDir, ".cache")
}

func (c Config) LibDir() string {
	return filepath.Join(c.InstallDir, "lib")
}

func (c Config) BinDir() string {
	return filepath.Join(c.InstallDir, "bin")
}

// UsrUpperDir is the writable layer of the /usr overlay, where the vendor
// installer's output lands.
func (c Config) UsrUpperDir() string {
	return filepath.Join(c.CacheDir(), "usr-writable")
}

func (c Config) InstallerLogFile() string {
	return filepath.Join(c.CacheDir(), "nvidia-installer.log")
}

func (c Config) MountsFile() string {
	return filepath.Join(c.CacheDir(), "mounts")
}
