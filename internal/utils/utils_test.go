package utils_test

import (
	"os"

	"github.com/containerd/containerd/mount"
	"github.com/jaypipes/ghw/pkg/pci"
	"github.com/jaypipes/pcidb"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/GoogleCloudPlatform/cos-gpu-installer/internal/utils"
)

var _ = Describe("host utils", func() {
	var fs vfs.FS
	var cleanup func()

	BeforeEach(func() {
		fs, cleanup, _ = vfst.NewTestFS(map[string]interface{}{
			"/proc/cmdline":   "",
			"/etc/os-release": "",
		})
		fakeCmdline, _ := fs.RawPath("/proc/cmdline")
		Expect(os.Setenv("HOST_PROC_CMDLINE", fakeCmdline)).ToNot(HaveOccurred())
		fakeOSRelease, _ := fs.RawPath("/etc/os-release")
		Expect(os.Setenv("HOST_OS_RELEASE", fakeOSRelease)).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		_ = os.Unsetenv("HOST_PROC_CMDLINE")
		_ = os.Unsetenv("HOST_OS_RELEASE")
		cleanup()
	})

	Context("ReadCMDLineArg", func() {
		BeforeEach(func() {
			err := fs.WriteFile("/proc/cmdline", []byte("test/key=value1 cos.gpu.debug lsm.module_locking=0 empty=\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())
		})
		It("splits arguments from cmdline", func() {
			value := utils.ReadCMDLineArg("test/key=")
			Expect(len(value)).To(Equal(1))
			Expect(value[0]).To(Equal("value1"))
		})
		It("returns properly for stanzas without value", func() {
			Expect(len(utils.ReadCMDLineArg("cos.gpu.debug"))).To(Equal(1))
		})
	})

	Context("ModuleLockingDisabled", func() {
		It("reports disabled when the flag is on the cmdline", func() {
			err := fs.WriteFile("/proc/cmdline", []byte("cros_efi lsm.module_locking=0\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())
			Expect(utils.ModuleLockingDisabled()).To(BeTrue())
		})
		It("reports locked when the flag is absent", func() {
			err := fs.WriteFile("/proc/cmdline", []byte("cros_efi\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())
			Expect(utils.ModuleLockingDisabled()).To(BeFalse())
		})
	})

	Context("PlatformID", func() {
		It("reads the ID field", func() {
			err := fs.WriteFile("/etc/os-release", []byte("ID=cos\nBUILD_ID=17800.0.0\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())
			id, err := utils.PlatformID()
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(Equal("cos"))
		})
		It("handles quoted values", func() {
			err := fs.WriteFile("/etc/os-release", []byte("ID=\"cos\"\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())
			id, err := utils.PlatformID()
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(Equal("cos"))
		})
	})

	Context("KernelCommitID", func() {
		It("reads the commit from the metadata", func() {
			err := fs.WriteFile("/etc/os-release", []byte("ID=cos\nKERNEL_COMMIT_ID=94b66bf087ba\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())
			commit, err := utils.KernelCommitID()
			Expect(err).ToNot(HaveOccurred())
			Expect(commit).To(Equal("94b66bf087ba"))
		})
		It("returns empty when the field is missing", func() {
			err := fs.WriteFile("/etc/os-release", []byte("ID=cos\n"), os.ModePerm)
			Expect(err).ToNot(HaveOccurred())
			commit, err := utils.KernelCommitID()
			Expect(err).ToNot(HaveOccurred())
			Expect(commit).To(Equal(""))
		})
	})

	Context("FilterVendorDevices", func() {
		It("selects only the matching vendor", func() {
			devices := []*pci.Device{
				{Address: "0000:00:04.0", Vendor: &pcidb.Vendor{ID: "10de"}},
				{Address: "0000:00:05.0", Vendor: &pcidb.Vendor{ID: "8086"}},
				{Address: "0000:00:06.0"},
			}
			matched := utils.FilterVendorDevices(devices, "10de")
			Expect(len(matched)).To(Equal(1))
			Expect(matched[0].Address).To(Equal("0000:00:04.0"))
		})
		It("returns nothing on an empty bus", func() {
			Expect(utils.FilterVendorDevices(nil, "10de")).To(BeEmpty())
		})
	})

	Context("MountToFstab", func() {
		It("generates the proper fstab config", func() {
			m := mount.Mount{
				Type:    "fakefs",
				Source:  "/dev/fake",
				Options: []string{"option1", "option=2"},
			}
			fstab := utils.MountToFstab(m)
			fstab.File = "/mnt/fake"
			// Options can be shown in whatever order, so regexp that
			Expect(fstab.String()).To(MatchRegexp("/dev/fake /mnt/fake fakefs (option1|option=2),(option=2|option1) 0 0"))
			Expect(fstab.Spec).To(Equal("/dev/fake"))
			Expect(fstab.VfsType).To(Equal("fakefs"))
			Expect(fstab.MntOps).To(HaveKey("option1"))
			Expect(fstab.MntOps["option"]).To(Equal("2"))
		})
	})
})
