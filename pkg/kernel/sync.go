// Package kernel prepares a kernel source tree matching the running host
// kernel so the driver can be compiled against it.
package kernel

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/cos-gpu-installer/internal/constants"
	internalUtils "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
)

// Syncer checks out the kernel source revision the host image was built
// from. Fetches over the network are treated as transient and retried with a
// fixed delay; everything after a successful fetch is fatal on failure.
type Syncer struct {
	Repo     string
	SrcDir   string
	Delay    time.Duration
	Attempts uint // 0 retries forever, tests set a bound
	Logger   zerolog.Logger

	// Run executes a command inside a directory. Tests substitute it.
	Run func(dir, command string) (string, error)
}

func NewSyncer(logger zerolog.Logger) *Syncer {
	return &Syncer{
		Repo:   constants.KernelRepo,
		SrcDir: constants.KernelSrcDir,
		Delay:  10 * time.Second,
		Logger: logger,
		Run:    internalUtils.CommandInDir,
	}
}

// Sync checks out the given commit in the source tree, fetching it from the
// remote when the local tree does not have it yet.
func (k *Syncer) Sync(ctx context.Context, commit string) error {
	if commit == "" {
		return fmt.Errorf("empty kernel commit")
	}
	if err := internalUtils.CreateIfNotExists(k.SrcDir); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(k.SrcDir, ".git")); os.IsNotExist(err) {
		if out, err := k.Run(k.SrcDir, "git init -q"); err != nil {
			return fmt.Errorf("git init: %w (%s)", err, strings.TrimSpace(out))
		}
		if out, err := k.Run(k.SrcDir, fmt.Sprintf("git remote add origin %s", k.Repo)); err != nil {
			return fmt.Errorf("git remote add: %w (%s)", err, strings.TrimSpace(out))
		}
	}

	// Cheap path first: the objects can already be there from a previous run.
	if err := k.checkout(commit); err == nil {
		return nil
	}

	err := retry.Do(
		func() error {
			out, err := k.Run(k.SrcDir, fmt.Sprintf("git fetch -q --depth 1 origin %s", commit))
			if err != nil {
				return fmt.Errorf("git fetch: %w (%s)", err, strings.TrimSpace(out))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(k.Attempts),
		retry.Delay(k.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			k.Logger.Warn().Uint("attempt", n).Err(err).Msg("kernel source fetch failed, retrying")
		}),
	)
	if err != nil {
		return err
	}

	// A failed checkout after a good fetch means the commit does not match
	// this repo, not a network hiccup. Don't retry.
	if err := k.checkout(commit); err != nil {
		return fmt.Errorf("checking out %s after fetch: %w", commit, err)
	}
	return nil
}

func (k *Syncer) checkout(commit string) error {
	out, err := k.Run(k.SrcDir, fmt.Sprintf("git checkout -q %s", commit))
	if err != nil {
		return fmt.Errorf("git checkout: %w (%s)", err, strings.TrimSpace(out))
	}
	return nil
}

// PrepareBuild regenerates the kernel build configuration from the running
// kernel's compiled-in config and sets up the module build scaffolding.
func (k *Syncer) PrepareBuild() error {
	data, err := os.ReadFile(internalUtils.GetHostProcConfigGz())
	if err != nil {
		return fmt.Errorf("reading kernel config: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decompressing kernel config: %w", err)
	}
	conf, err := io.ReadAll(gz)
	if err != nil {
		return fmt.Errorf("decompressing kernel config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(k.SrcDir, ".config"), conf, 0644); err != nil {
		return fmt.Errorf("writing .config: %w", err)
	}

	for _, target := range []string{"olddefconfig", "modules_prepare"} {
		out, err := k.Run(k.SrcDir, "make "+target)
		if err != nil {
			return fmt.Errorf("make %s: %w (%s)", target, err, strings.TrimSpace(out))
		}
		k.Logger.Debug().Str("target", target).Msg("make done")
	}
	return nil
}
