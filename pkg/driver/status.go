package driver

import (
	"fmt"
	"path/filepath"

	internalUtils "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
)

// QueryStatus asks the driver itself whether it is loaded and operational by
// running nvidia-smi from the published artifact dirs. This is the only
// installation state there is, nothing is persisted, so repeated invocations
// always re-derive it from ground truth.
func QueryStatus(installDir string) error {
	bin := filepath.Join(installDir, "bin", "nvidia-smi")
	out, err := internalUtils.CommandWithEnv(bin,
		fmt.Sprintf("LD_LIBRARY_PATH=%s", filepath.Join(installDir, "lib")),
		fmt.Sprintf("PATH=%s:/usr/bin:/usr/sbin:/bin:/sbin", filepath.Join(installDir, "bin")),
	)
	if err != nil {
		return fmt.Errorf("nvidia-smi: %w (%s)", err, out)
	}
	return nil
}
