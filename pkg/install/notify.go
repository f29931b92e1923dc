package install

import (
	"errors"
	"os/exec"

	internalUtils "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
)

// restartKubelet signals the node agent to restart so it re-scans host
// resources and advertises the now-usable GPU. Best effort: a kubelet that
// is not running is fine, the next start will see the device anyway.
func (s *State) restartKubelet() error {
	out, err := internalUtils.CommandWithPath("pkill -SIGTERM kubelet")
	if err != nil {
		var exitErr *exec.ExitError
		// pkill exits 1 when no process matched
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			s.Logger.Debug().Msg("kubelet not running, nothing to signal")
			return nil
		}
		s.Logger.Debug().Str("out", out).Msg("pkill kubelet")
		return err
	}
	s.Logger.Info().Msg("Asked kubelet to restart")
	return nil
}
