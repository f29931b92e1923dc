package driver

import (
	"fmt"
	"os"
	"strings"

	internalUtils "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
)

const logTailLines = 20

// RunInstaller invokes the vendor installer non-interactively against the
// prepared kernel source. A non-zero exit is fatal and carries the tail of
// the installer log, a failed compile usually means a genuine kernel/driver
// incompatibility that an operator has to look at.
func RunInstaller(runfile, kernelSrcDir, installDir, logFile string) error {
	cmd := fmt.Sprintf("sh %s --kernel-source-path=%s --utility-prefix=%s --opengl-prefix=%s --no-install-compat32-libs --silent --accept-license --log-file-name=%s",
		runfile, kernelSrcDir, installDir, installDir, logFile)
	out, err := internalUtils.CommandWithPath(cmd)
	if err != nil {
		internalUtils.Log.Debug().Str("out", out).Msg("nvidia installer")
		return fmt.Errorf("nvidia installer failed: %w\n%s", err, LogTail(logFile, logTailLines))
	}
	return nil
}

// LogTail returns the last n lines of a file, empty when unreadable.
func LogTail(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
