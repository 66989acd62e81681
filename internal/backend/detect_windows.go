//go:build windows

package backend

import "github.com/shirou/gopsutil/v3/host"

func detectPlatform(caps *Capabilities) {
	if _, _, version, err := host.PlatformInformation(); err == nil {
		caps.KernelRelease = version
		caps.KernelMajor, caps.KernelMinor = parseKernelVersion(version)
	}
	caps.IOCP = true
	// Registered I/O shipped with Windows 8 / Server 2012 (NT 6.2).
	caps.RegisteredIO = versionAtLeast(caps.KernelMajor, caps.KernelMinor, 6, 2)
}
