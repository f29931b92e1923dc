package install

import (
	"context"
	"fmt"
	"os"

	"github.com/deniswernert/go-fstab"
	"github.com/foxboron/go-uefi/efi"
	"github.com/jaypipes/ghw/pkg/pci"
	"github.com/rs/zerolog"
	"github.com/spectrocloud-labs/herd"

	cnst "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/constants"
	internalUtils "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
	"github.com/GoogleCloudPlatform/cos-gpu-installer/pkg/driver"
	"github.com/GoogleCloudPlatform/cos-gpu-installer/pkg/kernel"
	"github.com/GoogleCloudPlatform/cos-gpu-installer/pkg/mount"
)

// State is the shared state of one installer run. Ops communicate through it
// only, nothing here survives the process: everything that matters across a
// reboot or restart is re-derived from the host (cmdline, module status,
// cache dir contents).
type State struct {
	Logger zerolog.Logger
	Config Config

	// KernelCommit is resolved exactly once by the resolve-kernel op. Later
	// ops read this value instead of re-resolving, a metadata update midway
	// must not produce a source tree mismatching the running kernel.
	KernelCommit string

	noDevice    bool
	driverReady bool
	fstabs      []*fstab.Mount

	// Every side effect goes through one of these so tests can substitute
	// bounded or recording variants.
	ProbeFn      func() ([]*pci.Device, error)
	StatusFn     func() error
	SecureBootFn func() bool
	MountFn      func(o mount.Overlay) (*fstab.Mount, error)
	UnlockFn     func() error
	SyncFn       func(ctx context.Context, commit string) error
	PrepareFn    func() error
	DownloadFn   func(ctx context.Context) (string, error)
	InstallFn    func(runfile string) error
	PublishFn    func() error
	NotifyFn     func() error
	RebootFn     func() error
}

// NewState wires a State against the real host.
func NewState(logger zerolog.Logger, cfg Config) *State {
	s := &State{
		Logger: logger,
		Config: cfg,
	}
	syncer := kernel.NewSyncer(logger)
	s.ProbeFn = internalUtils.GPUDevices
	s.StatusFn = func() error { return driver.QueryStatus(cfg.InstallDir) }
	s.SecureBootFn = efi.GetSecureBoot
	s.MountFn = func(o mount.Overlay) (*fstab.Mount, error) { return o.Mount() }
	s.UnlockFn = s.unlockAndReboot
	s.SyncFn = syncer.Sync
	s.PrepareFn = syncer.PrepareBuild
	s.DownloadFn = func(ctx context.Context) (string, error) { return driver.DownloadDriver(ctx, cfg.CacheDir()) }
	s.InstallFn = func(runfile string) error {
		return driver.RunInstaller(runfile, syncer.SrcDir, cfg.InstallDir, cfg.InstallerLogFile())
	}
	s.PublishFn = func() error { return driver.Publish(cfg.UsrUpperDir(), cfg.LibDir(), cfg.BinDir()) }
	s.NotifyFn = s.restartKubelet
	s.RebootFn = reboot
	return s
}

// step wraps every op callback. The two short-circuit transitions of the
// workflow live here and nowhere else: no device found skips everything
// downstream, an already operational driver skips the build ops but still
// publishes and notifies.
func (s *State) step(name string, cb func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if s.noDevice {
			s.Logger.Debug().Str("op", name).Msg("no GPU present, skipping")
			return nil
		}
		if s.driverReady && cnst.SkippedWhenInstalled[name] {
			s.Logger.Debug().Str("op", name).Msg("driver already installed, skipping")
			return nil
		}
		s.Logger.Debug().Str("op", name).Msg("starting")
		err := cb(ctx)
		if err == nil {
			s.Logger.Debug().Str("op", name).Msg("done")
		}
		return err
	}
}

// WriteMounts writes the accumulated mount manifest for operators. Never
// read back, it is informational only.
func (s *State) WriteMounts(mountsFile string) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(s.fstabs) == 0 {
			return nil
		}
		if err := internalUtils.CreateIfNotExists(s.Config.CacheDir()); err != nil {
			return err
		}
		f, err := os.OpenFile(mountsFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		for _, fst := range s.fstabs {
			if _, err := f.WriteString(fmt.Sprintf("%s\n", fst.String())); err != nil {
				return err
			}
		}
		return nil
	}
}

// WriteDAG writes the dag
func (s *State) WriteDAG(g *herd.Graph) (out string) {
	for i, layer := range g.Analyze() {
		out += fmt.Sprintf("%d.\n", i+1)
		for _, op := range layer {
			if op.Error != nil {
				out += fmt.Sprintf(" <%s> (error: %s) (background: %t) (weak: %t)\n", op.Name, op.Error.Error(), op.Background, op.WeakDeps)
			} else {
				out += fmt.Sprintf(" <%s> (background: %t) (weak: %t)\n", op.Name, op.Background, op.WeakDeps)
			}
		}
	}
	return
}

// LogIfError will log if there is an error with the given context as message
// Context can be empty
func (s *State) LogIfError(e error, msgContext string) {
	if e != nil {
		s.Logger.Err(e).Msg(msgContext)
	}
}

// LogIfErrorAndReturn will log if there is an error with the given context as message
// Context can be empty
// Will also return the error
func (s *State) LogIfErrorAndReturn(e error, msgContext string) error {
	if e != nil {
		s.Logger.Err(e).Msg(msgContext)
	}
	return e
}
