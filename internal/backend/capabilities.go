package backend

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

// DisableEnv names an environment variable holding a comma-separated list
// of backend types to report as unavailable, e.g. "af_xdp,sendmmsg".
// A single type can also be masked with NETSTRESS_DISABLE_<TYPE>=1, e.g.
// NETSTRESS_DISABLE_IO_URING=1.
const (
	DisableEnv       = "NETSTRESS_DISABLE_BACKENDS"
	disableEnvPrefix = "NETSTRESS_DISABLE_"
)

// Capabilities is an immutable snapshot of what the host supports.
type Capabilities struct {
	RawSocket    bool `json:"raw_socket"`
	Sendmmsg     bool `json:"sendmmsg"`
	IOUring      bool `json:"io_uring"`
	AFXDP        bool `json:"af_xdp"`
	DPDK         bool `json:"dpdk"`
	IOCP         bool `json:"iocp"`
	RegisteredIO bool `json:"registered_io"`
	Kqueue       bool `json:"kqueue"`

	CPUCount      int    `json:"cpu_count"`
	NUMANodes     int    `json:"numa_nodes"`
	KernelMajor   int    `json:"kernel_major"`
	KernelMinor   int    `json:"kernel_minor"`
	KernelRelease string `json:"kernel_release"`
}

// Has reports whether the host supports t.
func (c Capabilities) Has(t Type) bool {
	switch t {
	case TypeRawSocket:
		return c.RawSocket
	case TypeSendmmsg:
		return c.Sendmmsg
	case TypeIOUring:
		return c.IOUring
	case TypeAFXDP:
		return c.AFXDP
	case TypeDPDK:
		return c.DPDK
	case TypeIOCP:
		return c.IOCP
	case TypeRegisteredIO:
		return c.RegisteredIO
	case TypeKqueue:
		return c.Kqueue
	}
	return false
}

func (c *Capabilities) set(t Type, v bool) {
	switch t {
	case TypeRawSocket:
		c.RawSocket = v
	case TypeSendmmsg:
		c.Sendmmsg = v
	case TypeIOUring:
		c.IOUring = v
	case TypeAFXDP:
		c.AFXDP = v
	case TypeDPDK:
		c.DPDK = v
	case TypeIOCP:
		c.IOCP = v
	case TypeRegisteredIO:
		c.RegisteredIO = v
	case TypeKqueue:
		c.Kqueue = v
	}
}

// KernelVersion formats the version tuple as "major.minor".
func (c Capabilities) KernelVersion() string {
	return strconv.Itoa(c.KernelMajor) + "." + strconv.Itoa(c.KernelMinor)
}

// Detect probes the host. It never fails: anything that cannot be
// determined is reported as unavailable. Results are not cached.
func Detect() Capabilities {
	caps := Capabilities{
		RawSocket: true,
		CPUCount:  cpuCount(),
		NUMANodes: 1,
	}
	detectPlatform(&caps)
	applyDisableMask(&caps, os.Getenv(DisableEnv))
	for _, t := range AllTypes() {
		if v := os.Getenv(disableEnvPrefix + strings.ToUpper(t.String())); v != "" && v != "0" {
			caps.set(t, false)
		}
	}
	// The generic path cannot be masked; something must always be usable.
	caps.RawSocket = true
	return caps
}

func cpuCount() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func applyDisableMask(caps *Capabilities, value string) {
	for _, name := range strings.Split(value, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if t, err := ParseType(name); err == nil {
			caps.set(t, false)
		}
	}
}

// parseKernelVersion extracts the leading "major.minor" from a release
// string such as "6.8.0-45-generic" or "10.0.19045 Build 19045".
func parseKernelVersion(release string) (major, minor int) {
	fields := strings.FieldsFunc(strings.TrimSpace(release), func(r rune) bool {
		return r == '.' || r == '-' || r == ' ' || r == '+' || r == '_'
	})
	if len(fields) > 0 {
		major = leadingInt(fields[0])
	}
	if len(fields) > 1 {
		minor = leadingInt(fields[1])
	}
	return major, minor
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

func versionAtLeast(major, minor, wantMajor, wantMinor int) bool {
	if major != wantMajor {
		return major > wantMajor
	}
	return minor >= wantMinor
}
