package utils

import (
	"os"
	"os/exec"
)

// CommandWithPath runs a command via sh with a sane PATH set, as the
// container we run in can have a very minimal environment.
func CommandWithPath(command string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Env = os.Environ()
	newPath := "/usr/bin:/usr/sbin:/bin:/sbin:/usr/local/bin:/usr/local/sbin"
	if p := os.Getenv("PATH"); p != "" {
		newPath = newPath + ":" + p
	}
	cmd.Env = append(cmd.Env, "PATH="+newPath)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// CommandInDir is CommandWithPath with the working dir set, used for the
// git/make calls against the kernel source tree.
func CommandInDir(dir, command string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	newPath := "/usr/bin:/usr/sbin:/bin:/sbin:/usr/local/bin:/usr/local/sbin"
	if p := os.Getenv("PATH"); p != "" {
		newPath = newPath + ":" + p
	}
	cmd.Env = append(cmd.Env, "PATH="+newPath)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// CommandWithEnv runs a command with extra environment entries on top of the
// current environment.
func CommandWithEnv(command string, env ...string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
