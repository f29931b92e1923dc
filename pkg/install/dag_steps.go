package install

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spectrocloud-labs/herd"

	cnst "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/constants"
	internalUtils "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
	"github.com/GoogleCloudPlatform/cos-gpu-installer/pkg/mount"
)

// PlatformCheckDagStep refuses to run anywhere but on the expected
// immutable-root platform. Wrong platform is a configuration error, not
// something to retry.
func (s *State) PlatformCheckDagStep(g *herd.Graph) error {
	return g.Add(cnst.OpPlatformCheck, herd.WithCallback(s.step(cnst.OpPlatformCheck, func(ctx context.Context) error {
		id, err := internalUtils.PlatformID()
		if err != nil {
			return err
		}
		if id != cnst.ExpectedPlatformID {
			return fmt.Errorf("unsupported platform %q, this installer only runs on %q", id, cnst.ExpectedPlatformID)
		}
		return nil
	})))
}

// GPUProbeDagStep looks for an NVIDIA device on the PCI bus. None found is a
// legitimate terminal state: the installer is deployed on every node of a
// heterogeneous fleet and must be a cheap no-op on the GPU-less ones.
func (s *State) GPUProbeDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpGPUProbe, append(opts, herd.WithCallback(s.step(cnst.OpGPUProbe, func(ctx context.Context) error {
		devices, err := s.ProbeFn()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			s.Logger.Info().Msg("No NVIDIA device on this node, nothing to install")
			s.noDevice = true
			return nil
		}
		for _, d := range devices {
			s.Logger.Debug().Str("address", d.Address).Msg("Found NVIDIA device")
		}
		return nil
	})))...)
}

// ResolveKernelDagStep resolves the kernel source commit exactly once. An
// explicit override wins over the host image metadata.
func (s *State) ResolveKernelDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpResolveKernel, append(opts, herd.WithCallback(s.step(cnst.OpResolveKernel, func(ctx context.Context) error {
		commit := s.Config.KernelCommit
		if commit == "" {
			var err error
			commit, err = internalUtils.KernelCommitID()
			if err != nil {
				return err
			}
		}
		if commit == "" {
			return fmt.Errorf("cannot resolve the kernel source commit, no override given and no KERNEL_COMMIT_ID in the host metadata")
		}
		s.KernelCommit = commit
		s.Logger.Info().Str("commit", commit).Msg("Kernel source")
		return nil
	})))...)
}

// OverlayMountDagStep mounts the writable overlays over /usr and /lib so the
// driver artifacts land in the durable cache dir instead of the container's
// ephemeral rootfs. Mounting an already mounted target is a no-op.
func (s *State) OverlayMountDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpOverlayMount, append(opts, herd.WithCallback(s.step(cnst.OpOverlayMount, func(ctx context.Context) error {
		var multierr *multierror.Error
		for _, overlay := range mount.OverlaysFor(s.Config.CacheDir()) {
			s.Logger.Debug().Str("what", overlay.LowerDir).Msg("Overlay mount start")
			entry, err := s.MountFn(overlay)
			if err != nil && !errors.Is(err, cnst.ErrAlreadyMounted) {
				multierr = multierror.Append(multierr, err)
				continue
			}
			if entry != nil {
				s.fstabs = append(s.fstabs, entry)
			}
			s.Logger.Debug().Str("what", overlay.LowerDir).Msg("Overlay mount done")
		}
		return multierr.ErrorOrNil()
	})))...)
}

// UnlockModulesDagStep is the reboot-spanning part of the workflow. LOCKED
// means the module locking flag is absent from the running kernel's cmdline;
// in that case the boot config is patched and the node rebooted, which ends
// this process. The next invocation observes UNLOCKED and walks straight
// through.
func (s *State) UnlockModulesDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpUnlockModules, append(opts, herd.WithCallback(s.step(cnst.OpUnlockModules, func(ctx context.Context) error {
		if s.SecureBootFn() {
			return fmt.Errorf("secure boot is enabled, a self-built kernel module can never load")
		}
		if internalUtils.ModuleLockingDisabled() {
			s.Logger.Debug().Msg("Module locking already disabled on the cmdline")
			return nil
		}
		return s.UnlockFn()
	})))...)
}

// DriverStatusDagStep is the idempotency gate. A driver that already answers
// the status query means the expensive build ops can be skipped wholesale.
// Failure here is not an error, it just means we have work to do.
func (s *State) DriverStatusDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpDriverStatus, append(opts, herd.WithCallback(s.step(cnst.OpDriverStatus, func(ctx context.Context) error {
		if err := s.StatusFn(); err != nil {
			s.Logger.Debug().Err(err).Msg("Driver not operational yet")
			return nil
		}
		s.Logger.Info().Msg("Driver already installed and loaded, skipping build")
		s.driverReady = true
		return nil
	})))...)
}

// KernelSourceDagStep checks out the resolved kernel commit and prepares the
// module build scaffolding against the running kernel's config.
func (s *State) KernelSourceDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpKernelSource, append(opts, herd.WithCallback(s.step(cnst.OpKernelSource, func(ctx context.Context) error {
		if err := s.SyncFn(ctx, s.KernelCommit); err != nil {
			return err
		}
		return s.PrepareFn()
	})))...)
}

// DriverInstallDagStep downloads the pinned driver package, verifies it and
// runs the vendor installer. The checksum gate sits inside the download, the
// installer never sees an unverified file.
func (s *State) DriverInstallDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpDriverInstall, append(opts, herd.WithCallback(s.step(cnst.OpDriverInstall, func(ctx context.Context) error {
		runfile, err := s.DownloadFn(ctx)
		if err != nil {
			return err
		}
		s.Logger.Info().Str("runfile", runfile).Msg("Running the vendor installer")
		return s.InstallFn(runfile)
	})))...)
}

// DriverVerifyDagStep re-runs the status query after an install. A failure
// here means the installer reported success but the driver is not actually
// operational, which is fatal.
func (s *State) DriverVerifyDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpDriverVerify, append(opts, herd.WithCallback(s.step(cnst.OpDriverVerify, func(ctx context.Context) error {
		if err := s.StatusFn(); err != nil {
			return fmt.Errorf("driver not operational after install: %w", err)
		}
		return nil
	})))...)
}

// PublishDagStep copies the driver's user-space artifacts to their stable
// host locations. Runs on the fast path too, republishing is overwriting and
// therefore harmless.
func (s *State) PublishDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpPublish, append(opts, herd.WithCallback(s.step(cnst.OpPublish, func(ctx context.Context) error {
		return s.PublishFn()
	})))...)
}

// RestartKubeletDagStep nudges the node agent unless a device plugin handles
// GPU advertisement. Never fatal.
func (s *State) RestartKubeletDagStep(g *herd.Graph, opts ...herd.OpOption) error {
	return g.Add(cnst.OpRestartKubelet, append(opts, herd.WithCallback(s.step(cnst.OpRestartKubelet, func(ctx context.Context) error {
		if s.Config.DevicePlugin {
			s.Logger.Info().Msg("Device plugin enabled, not restarting kubelet")
			return nil
		}
		s.LogIfError(s.NotifyFn(), "restarting kubelet")
		return nil
	})))...)
}

// WriteMountsDagStep writes the mount manifest at the end of the run.
// Depends weakly on everything that mounts, so it still writes whatever was
// mounted even when the run failed halfway.
func (s *State) WriteMountsDagStep(g *herd.Graph) error {
	return g.Add(cnst.OpWriteMounts,
		herd.WithWeakDeps(cnst.OpOverlayMount, cnst.OpPublish),
		herd.WithCallback(s.WriteMounts(s.Config.MountsFile())))
}
