package backend

import "runtime"

// Report summarizes the host and the selector state for display.
type Report struct {
	Platform      string   `json:"platform"`
	Arch          string   `json:"arch"`
	CPUCount      int      `json:"cpu_count"`
	NUMANodes     int      `json:"numa_nodes"`
	KernelVersion string   `json:"kernel_version"`
	Available     []string `json:"available_backends"`
	Active        string   `json:"active_backend"`
	Fallback      bool     `json:"fallback_enabled"`

	HasRawSocket    bool `json:"has_raw_socket"`
	HasSendmmsg     bool `json:"has_sendmmsg"`
	HasIOUring      bool `json:"has_io_uring"`
	HasAFXDP        bool `json:"has_af_xdp"`
	HasDPDK         bool `json:"has_dpdk"`
	HasIOCP         bool `json:"has_iocp"`
	HasRegisteredIO bool `json:"has_registered_io"`
	HasKqueue       bool `json:"has_kqueue"`
}

func NewReport(s *Selector) Report {
	caps := s.Capabilities()
	avail := s.AvailableBackends()
	names := make([]string, len(avail))
	for i, t := range avail {
		names[i] = t.String()
	}
	return Report{
		Platform:        runtime.GOOS,
		Arch:            runtime.GOARCH,
		CPUCount:        caps.CPUCount,
		NUMANodes:       caps.NUMANodes,
		KernelVersion:   caps.KernelVersion(),
		Available:       names,
		Active:          s.CurrentBackend().String(),
		Fallback:        s.FallbackEnabled(),
		HasRawSocket:    caps.RawSocket,
		HasSendmmsg:     caps.Sendmmsg,
		HasIOUring:      caps.IOUring,
		HasAFXDP:        caps.AFXDP,
		HasDPDK:         caps.DPDK,
		HasIOCP:         caps.IOCP,
		HasRegisteredIO: caps.RegisteredIO,
		HasKqueue:       caps.Kqueue,
	}
}
