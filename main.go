package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/GoogleCloudPlatform/cos-gpu-installer/internal/cmd"
	"github.com/GoogleCloudPlatform/cos-gpu-installer/internal/version"
)

// Install the NVIDIA driver on a Container-Optimized OS host.
func main() {
	app := cli.NewApp()
	app.Name = "cos-gpu-installer"
	app.Usage = "install the NVIDIA GPU driver on a COS node"
	app.Version = version.GetVersion()
	app.Commands = cmd.Commands
	// Running without a subcommand behaves like install, the container
	// manifest just execs the binary.
	app.Action = cmd.Install
	app.Flags = cmd.Commands[0].Flags

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
