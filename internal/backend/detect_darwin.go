//go:build darwin

package backend

import "github.com/shirou/gopsutil/v3/host"

func detectPlatform(caps *Capabilities) {
	if release, err := host.KernelVersion(); err == nil {
		caps.KernelRelease = release
		caps.KernelMajor, caps.KernelMinor = parseKernelVersion(release)
	}
	caps.Kqueue = true
}
