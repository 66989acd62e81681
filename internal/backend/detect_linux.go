//go:build linux

package backend

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

var dpdkLibDirs = []string{
	"/usr/lib",
	"/usr/lib64",
	"/usr/local/lib",
	"/usr/local/lib64",
	"/usr/lib/x86_64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
}

func detectPlatform(caps *Capabilities) {
	if release, err := host.KernelVersion(); err == nil {
		caps.KernelRelease = release
		caps.KernelMajor, caps.KernelMinor = parseKernelVersion(release)
	}
	k := func(maj, min int) bool {
		return versionAtLeast(caps.KernelMajor, caps.KernelMinor, maj, min)
	}

	caps.Sendmmsg = k(3, 0)
	caps.AFXDP = k(4, 18)
	caps.IOUring = k(5, 1) && !ioUringDisabled()
	caps.DPDK = dpdkPresent()
	caps.NUMANodes = numaNodes()
}

func ioUringDisabled() bool {
	data, err := os.ReadFile("/proc/sys/kernel/io_uring_disabled")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "2"
}

func dpdkPresent() bool {
	if os.Getenv("RTE_SDK") != "" {
		return true
	}
	for _, dir := range dpdkLibDirs {
		if matches, _ := filepath.Glob(filepath.Join(dir, "librte_eal.so*")); len(matches) > 0 {
			return true
		}
	}
	return false
}

func numaNodes() int {
	matches, err := filepath.Glob("/sys/devices/system/node/node[0-9]*")
	if err != nil || len(matches) == 0 {
		return 1
	}
	return len(matches)
}
