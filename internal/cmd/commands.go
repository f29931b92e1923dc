package cmd

import (
	"context"

	"github.com/spectrocloud-labs/herd"
	"github.com/urfave/cli/v2"

	cnst "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/constants"
	"github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
	"github.com/GoogleCloudPlatform/cos-gpu-installer/internal/version"
	"github.com/GoogleCloudPlatform/cos-gpu-installer/pkg/install"
)

var Commands = []*cli.Command{
	{
		Name:  "install",
		Usage: "install the NVIDIA driver on the host",
		Description: `
Runs the full installation workflow: checks the platform and the GPU, mounts
the driver overlays, unlocks kernel module loading (rebooting once if
needed), builds the driver against the host kernel sources and publishes the
user-space artifacts. Safe to re-invoke any number of times.
`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "install-dir",
				Usage:   "host dir the cache and published artifacts are written under",
				EnvVars: []string{"NVIDIA_INSTALL_DIR_HOST"},
				Value:   cnst.DefaultInstallDir,
			},
			&cli.StringFlag{
				Name:    "kernel-commit",
				Usage:   "kernel source commit, skips auto-detection from the host metadata",
				EnvVars: []string{"KERNEL_COMMIT_ID"},
			},
			&cli.BoolFlag{
				Name:    "device-plugin",
				Usage:   "a device plugin advertises the GPU, do not restart the kubelet",
				EnvVars: []string{"ENABLE_GPU_DEVICE_PLUGIN"},
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Usage:   "print the workflow DAG and exit",
				EnvVars: []string{"GPU_INSTALLER_DRY_RUN"},
			},
		},
		Action: Install,
	},
	{
		Name:  "version",
		Usage: "version",
		Action: func(c *cli.Context) error {
			utils.SetLogger()
			v := version.Get()
			utils.Log.Info().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("cos-gpu-installer")
			return nil
		},
	},
}

func Install(c *cli.Context) error {
	utils.SetLogger()

	v := version.Get()
	utils.Log.Info().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("cos-gpu-installer")

	cfg := install.Config{
		InstallDir:   c.String("install-dir"),
		KernelCommit: c.String("kernel-commit"),
		DevicePlugin: c.Bool("device-plugin"),
	}

	g := herd.DAG(herd.EnableInit)
	s := install.NewState(utils.Log, cfg)

	if err := s.RegisterInstall(g); err != nil {
		return err
	}

	utils.Log.Info().Msg(s.WriteDAG(g))

	// Once we print the dag we can exit already
	if c.Bool("dry-run") {
		return nil
	}

	err := g.Run(context.Background())
	utils.Log.Info().Msg(s.WriteDAG(g))
	return err
}
