package driver_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/GoogleCloudPlatform/cos-gpu-installer/pkg/driver"
)

var _ = Describe("driver download", func() {
	var server *httptest.Server
	var destDir string
	payload := []byte("#!/bin/sh\n# pretend nvidia runfile\n")

	BeforeEach(func() {
		destDir = GinkgoT().TempDir()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(payload)
		}))
	})
	AfterEach(func() {
		server.Close()
	})

	It("downloads and verifies the runfile", func() {
		sum := sha256.Sum256(payload)
		path, err := driver.Download(context.Background(), destDir, server.URL+"/driver.run", hex.EncodeToString(sum[:]), "driver.run")
		Expect(err).ToNot(HaveOccurred())

		data, err := os.ReadFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(data).To(Equal(payload))
	})

	It("uses a deterministic location so reruns resume the same file", func() {
		sum := sha256.Sum256(payload)
		first, err := driver.Download(context.Background(), destDir, server.URL+"/driver.run", hex.EncodeToString(sum[:]), "driver.run")
		Expect(err).ToNot(HaveOccurred())
		second, err := driver.Download(context.Background(), destDir, server.URL+"/driver.run", hex.EncodeToString(sum[:]), "driver.run")
		Expect(err).ToNot(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("aborts on a checksum mismatch and deletes the file", func() {
		wrong := sha256.Sum256([]byte("tampered content"))
		path, err := driver.Download(context.Background(), destDir, server.URL+"/driver.run", hex.EncodeToString(wrong[:]), "driver.run")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("checksum"))
		Expect(path).To(Equal(""))

		// Nothing unverified may be left behind for a later run to trust.
		matches, _ := filepath.Glob(filepath.Join(destDir, "*", "driver.run"))
		Expect(matches).To(BeEmpty())
	})

	It("rejects a malformed checksum constant before downloading", func() {
		_, err := driver.Download(context.Background(), destDir, server.URL+"/driver.run", "not-hex", "driver.run")
		Expect(err).To(HaveOccurred())
	})
})
