package install

import (
	"github.com/spectrocloud-labs/herd"

	cnst "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/constants"
)

// RegisterInstall registers the whole installation workflow on the graph.
// The chain is strictly linear: every op strongly depends on its
// predecessor, so a fatal op aborts everything downstream and g.Run reports
// it. The short-circuit transitions (no device, already installed) are
// data-dependent and therefore enforced inside the step wrapper at run time,
// not in the graph shape.
func (s *State) RegisterInstall(g *herd.Graph) error {
	var err error

	if err = s.LogIfErrorAndReturn(s.PlatformCheckDagStep(g), "platform check"); err != nil {
		return err
	}

	s.LogIfError(s.GPUProbeDagStep(g, herd.WithDeps(cnst.OpPlatformCheck)), "gpu probe")

	s.LogIfError(s.ResolveKernelDagStep(g, herd.WithDeps(cnst.OpGPUProbe)), "resolve kernel")

	s.LogIfError(s.OverlayMountDagStep(g, herd.WithDeps(cnst.OpResolveKernel)), "overlay mount")

	// May end the process in a reboot. Ordered after the overlays so the
	// cache dir exists and before anything expensive.
	s.LogIfError(s.UnlockModulesDagStep(g, herd.WithDeps(cnst.OpOverlayMount)), "unlock modules")

	s.LogIfError(s.DriverStatusDagStep(g, herd.WithDeps(cnst.OpUnlockModules)), "driver status")

	s.LogIfError(s.KernelSourceDagStep(g, herd.WithDeps(cnst.OpDriverStatus)), "kernel source")

	s.LogIfError(s.DriverInstallDagStep(g, herd.WithDeps(cnst.OpKernelSource)), "driver install")

	s.LogIfError(s.DriverVerifyDagStep(g, herd.WithDeps(cnst.OpDriverInstall)), "driver verify")

	s.LogIfError(s.PublishDagStep(g, herd.WithDeps(cnst.OpDriverVerify)), "publish artifacts")

	s.LogIfError(s.RestartKubeletDagStep(g, herd.WithDeps(cnst.OpPublish)), "restart kubelet")

	s.LogIfError(s.WriteMountsDagStep(g), "write mounts")

	return err
}
