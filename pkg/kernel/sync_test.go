package kernel_test

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/cos-gpu-installer/pkg/kernel"
)

var _ = Describe("kernel source syncer", func() {
	var k *kernel.Syncer
	var commands []string

	// fakeRun pretends a git/make call happened and lets each test decide
	// which ones fail.
	fakeRun := func(fail func(cmd string, nth int) error) func(dir, cmd string) (string, error) {
		counts := map[string]int{}
		return func(dir, cmd string) (string, error) {
			commands = append(commands, cmd)
			key := strings.Join(strings.Fields(cmd)[:2], " ")
			counts[key]++
			if fail != nil {
				if err := fail(cmd, counts[key]); err != nil {
					return "boom", err
				}
			}
			return "", nil
		}
	}

	count := func(prefix string) int {
		n := 0
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, prefix) {
				n++
			}
		}
		return n
	}

	BeforeEach(func() {
		commands = nil
		srcDir := filepath.Join(GinkgoT().TempDir(), "linux")
		k = kernel.NewSyncer(zerolog.Nop())
		k.SrcDir = srcDir
		k.Delay = time.Millisecond
		k.Attempts = 5
	})

	Context("Sync", func() {
		It("initializes the tree and checks out directly when the commit is local", func() {
			k.Run = fakeRun(nil)
			Expect(k.Sync(context.Background(), "abc123")).ToNot(HaveOccurred())
			Expect(count("git init")).To(Equal(1))
			Expect(count("git remote")).To(Equal(1))
			Expect(count("git checkout")).To(Equal(1))
			Expect(count("git fetch")).To(Equal(0))
		})

		It("retries the fetch with a fixed delay until it succeeds", func() {
			k.Run = fakeRun(func(cmd string, nth int) error {
				switch {
				case strings.HasPrefix(cmd, "git checkout") && nth == 1:
					return fmt.Errorf("unknown revision")
				case strings.HasPrefix(cmd, "git fetch") && nth < 3:
					return fmt.Errorf("could not resolve host")
				}
				return nil
			})
			Expect(k.Sync(context.Background(), "abc123")).ToNot(HaveOccurred())
			Expect(count("git fetch")).To(Equal(3))
			Expect(count("git checkout")).To(Equal(2))
		})

		It("gives up after the bounded attempts when fetches keep failing", func() {
			k.Attempts = 2
			k.Run = fakeRun(func(cmd string, nth int) error {
				if strings.HasPrefix(cmd, "git checkout") || strings.HasPrefix(cmd, "git fetch") {
					return fmt.Errorf("network down")
				}
				return nil
			})
			err := k.Sync(context.Background(), "abc123")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("git fetch"))
			Expect(count("git fetch")).To(Equal(2))
		})

		It("treats a failed checkout after a good fetch as fatal, not transient", func() {
			k.Run = fakeRun(func(cmd string, nth int) error {
				if strings.HasPrefix(cmd, "git checkout") {
					return fmt.Errorf("unknown revision")
				}
				return nil
			})
			err := k.Sync(context.Background(), "abc123")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("after fetch"))
			Expect(count("git fetch")).To(Equal(1))
		})

		It("refuses an empty commit", func() {
			k.Run = fakeRun(nil)
			Expect(k.Sync(context.Background(), "")).To(HaveOccurred())
			Expect(commands).To(BeEmpty())
		})
	})

	Context("PrepareBuild", func() {
		It("expands the running kernel config and prepares the module scaffolding", func() {
			configGz := filepath.Join(GinkgoT().TempDir(), "config.gz")
			f, err := os.Create(configGz)
			Expect(err).ToNot(HaveOccurred())
			gz := gzip.NewWriter(f)
			_, err = gz.Write([]byte("CONFIG_MODULES=y\n"))
			Expect(err).ToNot(HaveOccurred())
			Expect(gz.Close()).ToNot(HaveOccurred())
			Expect(f.Close()).ToNot(HaveOccurred())
			Expect(os.Setenv("HOST_PROC_CONFIG_GZ", configGz)).ToNot(HaveOccurred())
			defer os.Unsetenv("HOST_PROC_CONFIG_GZ")

			Expect(os.MkdirAll(k.SrcDir, os.ModePerm)).ToNot(HaveOccurred())
			k.Run = fakeRun(nil)
			Expect(k.PrepareBuild()).ToNot(HaveOccurred())

			conf, err := os.ReadFile(filepath.Join(k.SrcDir, ".config"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(conf)).To(Equal("CONFIG_MODULES=y\n"))
			Expect(commands).To(ContainElement("make olddefconfig"))
			Expect(commands).To(ContainElement("make modules_prepare"))
		})

		It("fails when the kernel config is unreadable", func() {
			Expect(os.Setenv("HOST_PROC_CONFIG_GZ", "/nonexistent/config.gz")).ToNot(HaveOccurred())
			defer os.Unsetenv("HOST_PROC_CONFIG_GZ")
			k.Run = fakeRun(nil)
			Expect(k.PrepareBuild()).To(HaveOccurred())
			Expect(commands).To(BeEmpty())
		})
	})
})
