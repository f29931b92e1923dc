// Package driver downloads, verifies, installs and publishes the NVIDIA
// driver package.
package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cavaliergopher/grab/v3"
	"github.com/gofrs/uuid"

	"github.com/GoogleCloudPlatform/cos-gpu-installer/internal/constants"
)

// Download fetches a runfile and verifies it against the expected sha256
// before handing it to anything. A mismatched file is deleted and the error
// surfaced, the vendor installer must never see unverified content.
// Partially downloaded files are resumed on the next run.
func Download(ctx context.Context, destDir, url, sha256Hex, filename string) (string, error) {
	sum, err := hex.DecodeString(sha256Hex)
	if err != nil {
		return "", fmt.Errorf("bad driver checksum constant: %w", err)
	}

	// Deterministic per-URL subdir, distinct driver versions never collide.
	dest := filepath.Join(destDir, uuid.NewV5(uuid.NamespaceURL, url).String(), filename)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	req, err := grab.NewRequest(dest, url)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)
	req.SetChecksum(sha256.New(), sum, true)

	resp := grab.NewClient().Do(req)
	if err := resp.Err(); err != nil {
		if errors.Is(err, grab.ErrBadChecksum) {
			return "", fmt.Errorf("driver package failed checksum verification: %w", err)
		}
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	return resp.Filename, nil
}

// DownloadDriver downloads the pinned driver package into the cache dir.
func DownloadDriver(ctx context.Context, cacheDir string) (string, error) {
	return Download(ctx, filepath.Join(cacheDir, "downloads"), constants.DriverDownloadURL, constants.DriverSHA256, constants.DriverRunfile)
}
