package driver

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/otiai10/copy"
	"github.com/phayes/permbits"

	internalUtils "github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
)

// Publish copies the user-space libraries and debug binaries the installer
// left in the overlay's writable layer to the stable host-visible locations,
// then marks them world readable. Copies overwrite, so this is safe to run
// on every invocation including the already-installed fast path.
func Publish(usrUpperDir, libDir, binDir string) error {
	var multierr *multierror.Error
	for _, pair := range []struct{ src, dst string }{
		{filepath.Join(usrUpperDir, "lib", "x86_64-linux-gnu"), libDir},
		{filepath.Join(usrUpperDir, "bin"), binDir},
	} {
		if _, err := os.Stat(pair.src); err != nil {
			// The installer claimed success but left nothing behind.
			return fmt.Errorf("installer output missing at %s: %w", pair.src, err)
		}
		internalUtils.Log.Debug().Str("from", pair.src).Str("to", pair.dst).Msg("Publishing artifacts")
		if err := copy.Copy(pair.src, pair.dst); err != nil {
			multierr = multierror.Append(multierr, fmt.Errorf("copying %s: %w", pair.src, err))
			continue
		}
		if err := makeWorldReadable(pair.dst); err != nil {
			multierr = multierror.Append(multierr, err)
		}
	}
	return multierr.ErrorOrNil()
}

func makeWorldReadable(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		perms, err := permbits.Stat(path)
		if err != nil {
			return err
		}
		perms.SetGroupRead(true)
		perms.SetOtherRead(true)
		if d.IsDir() || perms.UserExecute() {
			perms.SetGroupExecute(true)
			perms.SetOtherExecute(true)
		}
		return permbits.Chmod(path, perms)
	})
}
